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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func invokeCommand(args []string) (*Command, string, error) {
	var buf bytes.Buffer
	c := NewCommand(WithStreams(strings.NewReader(""), &buf, &buf))
	c.SetArgs(args)
	err := c.Execute()
	return c, buf.String(), err
}

func TestSemanticVersion(t *testing.T) {
	if !strings.HasPrefix(versionString, strings.TrimSpace(versionNum)) {
		t.Errorf("versionString = %q, want prefix %q", versionString, versionNum)
	}
	if !strings.Contains(versionString, "+dev") {
		t.Errorf("versionString = %q, want dev build metadata", versionString)
	}
}

func TestResolveTransport(t *testing.T) {
	tests := []struct {
		name      string
		flag      string
		env       string
		wantStdio bool
		wantErr   bool
	}{
		{name: "default is http"},
		{name: "flag stdio", flag: "stdio", wantStdio: true},
		{name: "flag http", flag: "http"},
		{name: "env stdio", env: "stdio", wantStdio: true},
		{name: "flag beats env", flag: "http", env: "stdio"},
		{name: "invalid", flag: "carrier-pigeon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MCP_TRANSPORT_TYPE", tt.env)
			cmd := NewCommand()
			cmd.transport = tt.flag
			err := resolveTransport(cmd)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if cmd.cfg.Stdio != tt.wantStdio {
				t.Errorf("Stdio = %t, want %t", cmd.cfg.Stdio, tt.wantStdio)
			}
		})
	}
}

func TestResolveLogLevelFromEnv(t *testing.T) {
	tests := []struct {
		env     string
		want    string
		wantErr bool
	}{
		{env: "", want: "info"},
		{env: "debug", want: "debug"},
		{env: "notice", want: "info"},
		{env: "warning", want: "warn"},
		{env: "crit", want: "error"},
		{env: "emerg", want: "error"},
		{env: "shouting", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("level "+tt.env, func(t *testing.T) {
			t.Setenv("MCP_LOG_LEVEL", tt.env)
			cmd := NewCommand()
			err := resolveLogLevel(cmd)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if got := cmd.cfg.LogLevel.String(); got != tt.want {
				t.Errorf("log level = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveToolsPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yaml", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("tools:\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("directory expands sorted yaml files", func(t *testing.T) {
		got, err := resolveToolsPaths([]string{dir})
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		want := []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.yaml")}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("paths mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("env fallback", func(t *testing.T) {
		path := filepath.Join(dir, "a.yaml")
		t.Setenv("TOOLS_YAML_PATH", path)
		got, err := resolveToolsPaths(nil)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if diff := cmp.Diff([]string{path}, got); diff != "" {
			t.Errorf("paths mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := resolveToolsPaths([]string{filepath.Join(dir, "absent.yaml")}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestListToolsets(t *testing.T) {
	config := `
sources:
  ibmi:
    kind: db2i
    host: ibmi.example.com
    user: dbuser
    password: dbpass
tools:
  get_user:
    kind: db2i-sql
    source: ibmi
    description: d
    statement: SELECT 1 FROM sysibm.sysdummy1
toolsets:
  users:
    description: User lookups.
    tools: [get_user]
`
	path := filepath.Join(t.TempDir(), "tools.yaml")
	if err := os.WriteFile(path, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	_, out, err := invokeCommand([]string{"--list-toolsets", "--tools", path})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !strings.Contains(out, "users\t1 tools\tUser lookups.") {
		t.Errorf("output = %q", out)
	}
}

func TestInvalidTransportFlagFails(t *testing.T) {
	if _, _, err := invokeCommand([]string{"--transport", "carrier-pigeon"}); err == nil {
		t.Fatal("expected error")
	}
}
