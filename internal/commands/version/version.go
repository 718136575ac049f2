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
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/waydroid/appmonitor/internal/binder"
	"github.com/waydroid/appmonitor/internal/commands/shared"
	"github.com/waydroid/appmonitor/internal/monitor"
)

// Info describes this build and the binder interface it serves.
type Info struct {
	Version   string   `json:"version"`
	Commit    string   `json:"commit"`
	BuildDate string   `json:"build_date"`
	GoVersion string   `json:"go_version"`
	Platform  string   `json:"platform"`
	Interface string   `json:"interface"`
	Protocols []string `json:"protocols"`
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display the build version and the binder interface served by the app
monitor, with the protocol variants it can speak.`,
		Args: cobra.NoArgs,
		RunE: runVersion,
	}
}

func currentInfo() Info {
	v, c, b := shared.GetVersion()
	protocols := make([]string, 0, 4)
	for _, p := range []binder.Protocol{binder.ProtocolAIDL, binder.ProtocolAIDL2, binder.ProtocolAIDL3, binder.ProtocolAIDL4} {
		protocols = append(protocols, p.String())
	}
	return Info{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Interface: monitor.Interface,
		Protocols: protocols,
	}
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := currentInfo()

	if shared.GetJSON() {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal version info: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("waydroid-appmonitor %s (%s, built %s)\n", info.Version, info.Commit, info.BuildDate)
	cmd.Printf("  interface: %s\n", info.Interface)
	cmd.Printf("  protocols: %v\n", info.Protocols)
	cmd.Printf("  go:        %s %s\n", info.GoVersion, info.Platform)
	return nil
}
