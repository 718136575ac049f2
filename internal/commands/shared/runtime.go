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
	"context"
	"io"
	"log/slog"

	"github.com/waydroid/appmonitor/internal/config"
	"github.com/waydroid/appmonitor/internal/log"
	"github.com/waydroid/appmonitor/internal/tracing"
)

// LoadConfig loads the configuration named by --config, or the default
// file when the flag is unset.
func LoadConfig() (*config.Config, error) {
	return config.Load(GetConfigPath())
}

// NewLogger creates the command logger. --verbose and --quiet override the
// configured level.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.Log.Level
	switch {
	case GetVerbose():
		level = "debug"
	case GetQuiet():
		level = "error"
	}
	return log.New(&log.Config{
		Level:     level,
		Format:    log.Format(cfg.Log.Format),
		Output:    w,
		AddSource: cfg.Log.AddSource,
	})
}

// StartTracing installs the configured span exporter. Spans printed by the
// stdout exporter go to w.
func StartTracing(ctx context.Context, cfg *config.Config, w io.Writer) (tracing.ShutdownFunc, error) {
	v, _, _ := GetVersion()
	return tracing.Setup(ctx, cfg.Tracing, v, w)
}
