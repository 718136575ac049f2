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
package version

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waydroid/appmonitor/internal/commands/shared"
)

func setTestVersion(t *testing.T) {
	t.Helper()
	shared.SetVersion("1.0.0", "test123", "2025-12-22")
	t.Cleanup(func() { shared.SetVersion("dev", "unknown", "unknown") })
}

func TestVersion_HumanOutput(t *testing.T) {
	setTestVersion(t)

	cmd := NewVersionCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "waydroid-appmonitor 1.0.0 (test123, built 2025-12-22)")
	assert.Contains(t, out, "vendor.waydroid.appmonitor.IAppMonitor")
	assert.Contains(t, out, "aidl3")
}

func TestVersion_JSONOutput(t *testing.T) {
	setTestVersion(t)

	root := &cobra.Command{Use: "waydroid-appmonitor"}
	shared.RegisterGlobalFlags(root.PersistentFlags())
	root.AddCommand(NewVersionCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version", "--json"})
	require.NoError(t, root.Execute())
	t.Cleanup(func() {
		_, _, jsonFlag, _ := shared.RegisterFlagPointers()
		*jsonFlag = false
	})

	var info Info
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info), buf.String())
	assert.Equal(t, "1.0.0", info.Version)
	assert.Equal(t, "test123", info.Commit)
	assert.Equal(t, "vendor.waydroid.appmonitor.IAppMonitor", info.Interface)
	assert.Equal(t, []string{"aidl", "aidl2", "aidl3", "aidl4"}, info.Protocols)
}

func TestVersion_RejectsArguments(t *testing.T) {
	cmd := NewVersionCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
