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

package tools

import (
	"fmt"
	"regexp"
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]*$`)

// IsValidName reports whether s is usable as a tool or toolset name.
func IsValidName(s string) bool {
	return validName.MatchString(s)
}

// ValidateParameters checks every declaration in a tool config, rejecting
// duplicate names.
func ValidateParameters(params []Parameter) error {
	seen := make(map[string]struct{}, len(params))
	for i := range params {
		p := &params[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate parameter name: %s", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
