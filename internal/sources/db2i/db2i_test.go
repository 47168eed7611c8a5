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

package db2i_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ibmi-community/db2i-mcp-server/internal/sources/db2i"
)

func noopTracer() trace.Tracer {
	return noop.NewTracerProvider().Tracer("test")
}

func TestConnString(t *testing.T) {
	tcs := []struct {
		name   string
		config db2i.Config
		want   string
	}{
		{
			name: "basic",
			config: db2i.Config{
				Host: "pub400.com", Port: "8471", Database: "*LOCAL",
				User: "TESTUSER", Password: "secret",
			},
			want: "HOSTNAME=pub400.com;PORT=8471;DATABASE=*LOCAL;UID=TESTUSER;PWD=secret",
		},
		{
			name: "secure with certificate",
			config: db2i.Config{
				Host: "prod.example.com", Port: "9471", Database: "PRODDB",
				User: "SVCUSER", Password: "secret",
				Secure: true, ServerCertPath: "/etc/certs/db2i.arm",
			},
			want: "HOSTNAME=prod.example.com;PORT=9471;DATABASE=PRODDB;UID=SVCUSER;PWD=secret;Security=SSL;SSLServerCertificate=/etc/certs/db2i.arm",
		},
		{
			name: "secure ignoring unauthorized skips certificate",
			config: db2i.Config{
				Host: "dev.example.com", Port: "9471", Database: "DEVDB",
				User: "DEVUSER", Password: "secret",
				Secure: true, ServerCertPath: "/etc/certs/db2i.arm",
				IgnoreUnauthorized: true,
			},
			want: "HOSTNAME=dev.example.com;PORT=9471;DATABASE=DEVDB;UID=DEVUSER;PWD=secret;Security=SSL",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.config.ConnString()); diff != "" {
				t.Fatalf("incorrect connection string: diff %v", diff)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	config := db2i.Config{
		Name: "env", Kind: db2i.SourceKind,
		Host: "h", User: "u", Password: "p",
		PoolStartSize: 20, PoolMaxSize: 5,
		RetryBaseDelay: "500ms",
	}
	ctx := context.Background()
	if _, err := config.Initialize(ctx, noopTracer()); err == nil {
		t.Fatal("expected error when poolStartSize exceeds poolMaxSize")
	}

	config.PoolStartSize = 2
	config.RetryBaseDelay = "not-a-duration"
	if _, err := config.Initialize(ctx, noopTracer()); err == nil {
		t.Fatal("expected error for invalid retryBaseDelay")
	}
}
