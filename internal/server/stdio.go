// Copyright 2025 IBM Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/ibmi-community/db2i-mcp-server/internal/db2ipool"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

// stdioLineLimit bounds a single JSON-RPC frame on stdin.
const stdioLineLimit = 4 * 1024 * 1024

// ServeStdio runs a single persistent MCP session over in/out, one JSON-RPC
// frame per line. It returns when in reaches EOF or ctx is cancelled; either
// way the pools are closed on the way out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	defer s.closePools()

	if s.tokens != nil {
		s.tokens.StartReaper(ctx, reaperInterval)
		s.authPools.StartReaper(ctx, reaperInterval)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), stdioLineLimit)
	enc := json.NewEncoder(out)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			s.Logger().InfoContext(ctx, "stdio transport shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("stdin read failed: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}

			reqCtx := util.WithRequestID(ctx, uuid.NewString())
			reqCtx = util.WithLogger(reqCtx, s.Logger())
			reqCtx = util.WithInstrumentation(reqCtx, s.instrumentation)
			if s.authPools != nil {
				reqCtx = db2ipool.WithAuthPools(reqCtx, s.authPools)
			}

			res, notification := processMcpMessage(reqCtx, s, "", line)
			if notification {
				continue
			}
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("stdout write failed: %w", err)
			}
		}
	}
}
