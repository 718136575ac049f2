// Copyright 2025 Tom Barlow
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

package lifecycle

import (
	"os"
	"strings"
)

// Guard names the environment variable marking a re-executed child.
type Guard string

// Set reports whether the guard is set to "1" in this process.
func (g Guard) Set() bool {
	return os.Getenv(string(g)) == "1"
}

// Environ returns env with the guard set to "1", replacing any earlier
// value.
func (g Guard) Environ(env []string) []string {
	prefix := string(g) + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, prefix+"1")
}
