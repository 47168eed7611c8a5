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

// Package prebuiltconfigs bundles ready-to-run tools configurations that ship
// inside the binary. A prebuilt config references the DB2i_* environment
// variables for credentials, so `db2i-mcp-server --prebuilt db2i` works
// without a config file on disk.
package prebuiltconfigs

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
)

//go:embed tools/*.yaml
var prebuiltConfigs embed.FS

const configDir = "tools"

// Get returns the embedded tools YAML for the named prebuilt config.
func Get(name string) ([]byte, error) {
	data, err := prebuiltConfigs.ReadFile(path.Join(configDir, name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("prebuilt config %q not found; available: %s", name, strings.Join(List(), ", "))
	}
	return data, nil
}

// List returns the available prebuilt config names, sorted.
func List() []string {
	entries, err := prebuiltConfigs.ReadDir(configDir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}
