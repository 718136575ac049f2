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
package shared

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waydroid/appmonitor/internal/config"
	apperrors "github.com/waydroid/appmonitor/pkg/errors"
)

func withFlags(t *testing.T, verbose, quiet bool, configPath string) {
	t.Helper()
	for _, key := range []string{"LOG_LEVEL", "LOG_FORMAT", "WAYDROID_LAUNCH_TIMEOUT", "WAYDROID_TRACING"} {
		t.Setenv(key, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	v, q, _, c := RegisterFlagPointers()
	oldV, oldQ, oldC := *v, *q, *c
	*v, *q, *c = verbose, quiet, configPath
	t.Cleanup(func() { *v, *q, *c = oldV, oldQ, oldC })
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		verbose   bool
		quiet     bool
		wantDebug bool
		wantInfo  bool
	}{
		{name: "configured level", wantInfo: true},
		{name: "verbose", verbose: true, wantDebug: true, wantInfo: true},
		{name: "quiet", quiet: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withFlags(t, tt.verbose, tt.quiet, "")

			var buf bytes.Buffer
			logger := NewLogger(config.Default(), &buf)
			logger.Debug("debug line")
			logger.Info("info line")

			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("debug line")))
			assert.Equal(t, tt.wantInfo, bytes.Contains(buf.Bytes(), []byte("info line")))
		})
	}
}

func TestLoadConfig_FromFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("launch:\n  timeout: 30s\n"), 0600))
	withFlags(t, false, false, path)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "30s", cfg.Launch.Timeout.String())
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0600))
	withFlags(t, false, false, path)

	_, err := LoadConfig()
	require.Error(t, err)

	var cfgErr *apperrors.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ExitConfigError, ExitCodeFor(err))
}

func TestStartTracing_None(t *testing.T) {
	shutdown, err := StartTracing(context.Background(), config.Default(), nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
