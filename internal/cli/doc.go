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
/*
Package cli provides the root command of waydroid-appmonitor.

Individual commands live in the internal/commands subpackages and are
attached in main.

# Command Tree

	waydroid-appmonitor
	├── app
	│   ├── launch     Start an app and wait until it closes
	│   └── intent     Open a URI with an intent action
	├── show-full-ui   Show the complete Android UI
	├── serve          Run the app monitor
	├── stop           Stop a running app monitor
	└── version        Show version

# Global Flags

	--verbose, -v    Enable debug logging
	--quiet, -q      Only log errors
	--json           Output in JSON format
	--config         Path to config file

# Exit Codes

  - 0: Success
  - 1: Launch failed
  - 2: App didn't start in time
  - 3: WayDroid session is stopped
  - 78: Invalid configuration
*/
package cli
