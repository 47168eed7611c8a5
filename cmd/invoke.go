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

package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ibmi-community/db2i-mcp-server/internal/log"
	"github.com/ibmi-community/db2i-mcp-server/internal/server"
	"github.com/ibmi-community/db2i-mcp-server/internal/telemetry"
	"github.com/ibmi-community/db2i-mcp-server/internal/util"
)

func newInvokeCmd(root *Command) *cobra.Command {
	var params string
	cmd := &cobra.Command{
		Use:   "invoke TOOL_NAME",
		Short: "Invoke a single tool and print its result",
		Long:  "Invoke loads the tools configuration, calls the named tool once with the given arguments, and prints the JSON-RPC result to stdout.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, root, args[0], params)
		},
	}
	cmd.Flags().StringVar(&params, "params", "{}", "Tool arguments as a JSON object.")
	return cmd
}

// invoke drives the stdio transport with a single tools/call message, so the
// one-shot path and the serving path share the exact same dispatch.
func invoke(cobraCmd *cobra.Command, root *Command, toolName, params string) error {
	ctx := cobraCmd.Context()

	var arguments map[string]any
	if err := json.Unmarshal([]byte(params), &arguments); err != nil {
		return fmt.Errorf("--params must be a JSON object: %w", err)
	}

	logger, err := log.NewLogger("standard", "warn", root.errStream, root.errStream)
	if err != nil {
		return err
	}
	instrumentation, err := telemetry.CreateTelemetryInstrumentation(versionString)
	if err != nil {
		return err
	}
	ctx = util.WithLogger(ctx, logger)
	ctx = util.WithInstrumentation(ctx, instrumentation)

	root.logger = logger
	res, _, err := loadConfigs(ctx, root)
	if err != nil {
		return fmt.Errorf("unable to load tools configuration: %w", err)
	}
	root.cfg.Version = versionString
	applyParsed(&root.cfg, res)

	s, err := server.NewServer(ctx, root.cfg)
	if err != nil {
		return fmt.Errorf("error initializing server: %w", err)
	}

	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      "invoke",
		"method":  "tools/call",
		"params":  map[string]any{"name": toolName, "arguments": arguments},
	})
	if err != nil {
		return err
	}
	return s.ServeStdio(ctx, strings.NewReader(string(request)+"\n"), root.outStream)
}
