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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/waydroid/appmonitor/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Binder wire protocol variants understood by the parcel codec.
const (
	ProtocolAIDL  = "aidl"
	ProtocolAIDL2 = "aidl2"
	ProtocolAIDL3 = "aidl3"
	ProtocolAIDL4 = "aidl4"
)

// Config represents the complete app monitor configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Binder  BinderConfig  `yaml:"binder"`
	Bus     BusConfig     `yaml:"bus"`
	Launch  LaunchConfig  `yaml:"launch"`
	Serve   ServeConfig   `yaml:"serve"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`
}

// BinderConfig configures the container-side binder transports.
type BinderConfig struct {
	// Vendor is the vndbinder endpoint the monitor service registers on.
	Vendor BinderEndpoint `yaml:"vendor"`

	// System is the binder endpoint hosting the platform service used to
	// launch apps.
	System BinderEndpoint `yaml:"system"`

	// PresencePollInterval is how often an absent service manager is pinged.
	// Default: 1s
	PresencePollInterval time.Duration `yaml:"presence_poll_interval"`

	// RetryInterval is the minimum spacing between two registrar iterations.
	// Default: 1s
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// BinderEndpoint names a binder device and the protocols spoken on it.
type BinderEndpoint struct {
	// Device is the binder device node.
	Device string `yaml:"device"`

	// Protocol is the parcel protocol spoken to local objects and services.
	// Default: aidl3
	Protocol string `yaml:"protocol"`

	// ServiceManagerProtocol is the protocol spoken to the service manager.
	// Android 12 and later use aidl4 here while keeping aidl3 for services.
	// Default: aidl3
	ServiceManagerProtocol string `yaml:"service_manager_protocol"`
}

// BusConfig configures the host-side session bus relay.
type BusConfig struct {
	// AppNamePrefix is prepended to a package name to form its bus name.
	// Default: id.waydro.App.
	AppNamePrefix string `yaml:"app_name_prefix"`

	// CallTimeout bounds each OnOpen/OnClose delivery.
	// Default: 5s
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// LaunchConfig configures the launch orchestrator.
type LaunchConfig struct {
	// Timeout is how long a launch waits for the app to report that it opened.
	// Environment: WAYDROID_LAUNCH_TIMEOUT
	// Default: 15s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceLookupAttempts is how many times the platform service is looked
	// up before giving up. Together with ServiceLookupInterval it also sets the
	// cold start watchdog deadline.
	// Default: 1000
	ServiceLookupAttempts int `yaml:"service_lookup_attempts"`

	// ServiceLookupInterval is the pause between two service lookups.
	// Default: 1s
	ServiceLookupInterval time.Duration `yaml:"service_lookup_interval"`

	// GuardEnv is the environment variable that marks a re-executed child.
	// Default: WAYDROID_NO_APP_MONITOR
	GuardEnv string `yaml:"guard_env"`

	// SpawnLog receives stdout/stderr of a detached cold start child.
	// Default: $XDG_STATE_HOME/waydroid-appmonitor/session.log
	SpawnLog string `yaml:"spawn_log"`

	// SessionCommand starts a container session when the guard is already
	// set and no session is reachable.
	// Default: [waydroid, session, start]
	SessionCommand []string `yaml:"session_command"`
}

// ServeConfig configures the long-running session side monitor.
type ServeConfig struct {
	// PIDFile records the running monitor so "stop" can find it.
	// Default: $XDG_RUNTIME_DIR/waydroid-appmonitor/monitor.pid
	PIDFile string `yaml:"pid_file"`

	// StopTimeout is how long "stop" waits for the monitor to exit.
	// Default: 10s
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

// MetricsConfig configures the Prometheus endpoint of the serve command.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	// Environment: WAYDROID_METRICS_ADDR
	Addr string `yaml:"addr"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	// Exporter selects the span exporter: "none", "stdout" or "otlp".
	// Environment: WAYDROID_TRACING
	// Default: none
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP/HTTP collector address (host:port) used when
	// Exporter is "otlp".
	// Environment: WAYDROID_TRACING_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure,omitempty"`
}

// ColdStartTimeout is the watchdog deadline used after spawning a fresh
// session process. It is the full platform service lookup budget so the
// watchdog never fires while the child is still waiting for the service.
func (l LaunchConfig) ColdStartTimeout() time.Duration {
	return time.Duration(l.ServiceLookupAttempts) * l.ServiceLookupInterval
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Binder: BinderConfig{
			Vendor: BinderEndpoint{
				Device:                 "/dev/vndbinder",
				Protocol:               ProtocolAIDL3,
				ServiceManagerProtocol: ProtocolAIDL3,
			},
			System: BinderEndpoint{
				Device:                 "/dev/binder",
				Protocol:               ProtocolAIDL3,
				ServiceManagerProtocol: ProtocolAIDL3,
			},
			PresencePollInterval: time.Second,
			RetryInterval:        time.Second,
		},
		Bus: BusConfig{
			AppNamePrefix: "id.waydro.App.",
			CallTimeout:   5 * time.Second,
		},
		Launch: LaunchConfig{
			Timeout:               15 * time.Second,
			ServiceLookupAttempts: 1000,
			ServiceLookupInterval: time.Second,
			GuardEnv:              "WAYDROID_NO_APP_MONITOR",
			SpawnLog:              defaultSpawnLog(),
			SessionCommand:        []string{"waydroid", "session", "start"},
		},
		Serve: ServeConfig{
			PIDFile:     defaultPIDFile(),
			StopTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}

// Load loads configuration from a YAML file and environment variables.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, the default path is used when it exists.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if p, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				configPath = p
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &apperrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &apperrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values so partial config files work.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	c.Binder.Vendor.fill(defaults.Binder.Vendor)
	c.Binder.System.fill(defaults.Binder.System)
	if c.Binder.PresencePollInterval == 0 {
		c.Binder.PresencePollInterval = defaults.Binder.PresencePollInterval
	}
	if c.Binder.RetryInterval == 0 {
		c.Binder.RetryInterval = defaults.Binder.RetryInterval
	}

	if c.Bus.AppNamePrefix == "" {
		c.Bus.AppNamePrefix = defaults.Bus.AppNamePrefix
	}
	if c.Bus.CallTimeout == 0 {
		c.Bus.CallTimeout = defaults.Bus.CallTimeout
	}

	if c.Launch.Timeout == 0 {
		c.Launch.Timeout = defaults.Launch.Timeout
	}
	if c.Launch.ServiceLookupAttempts == 0 {
		c.Launch.ServiceLookupAttempts = defaults.Launch.ServiceLookupAttempts
	}
	if c.Launch.ServiceLookupInterval == 0 {
		c.Launch.ServiceLookupInterval = defaults.Launch.ServiceLookupInterval
	}
	if c.Launch.GuardEnv == "" {
		c.Launch.GuardEnv = defaults.Launch.GuardEnv
	}
	if c.Launch.SpawnLog == "" {
		c.Launch.SpawnLog = defaults.Launch.SpawnLog
	}
	if len(c.Launch.SessionCommand) == 0 {
		c.Launch.SessionCommand = defaults.Launch.SessionCommand
	}

	if c.Serve.PIDFile == "" {
		c.Serve.PIDFile = defaults.Serve.PIDFile
	}
	if c.Serve.StopTimeout == 0 {
		c.Serve.StopTimeout = defaults.Serve.StopTimeout
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || val == "true"
	}

	if val := os.Getenv("WAYDROID_VNDBINDER_DEVICE"); val != "" {
		c.Binder.Vendor.Device = val
	}
	if val := os.Getenv("WAYDROID_VNDBINDER_PROTOCOL"); val != "" {
		c.Binder.Vendor.Protocol = strings.ToLower(val)
	}
	if val := os.Getenv("WAYDROID_VNDBINDER_SM_PROTOCOL"); val != "" {
		c.Binder.Vendor.ServiceManagerProtocol = strings.ToLower(val)
	}
	if val := os.Getenv("WAYDROID_BINDER_DEVICE"); val != "" {
		c.Binder.System.Device = val
	}
	if val := os.Getenv("WAYDROID_BINDER_PROTOCOL"); val != "" {
		c.Binder.System.Protocol = strings.ToLower(val)
	}
	if val := os.Getenv("WAYDROID_BINDER_SM_PROTOCOL"); val != "" {
		c.Binder.System.ServiceManagerProtocol = strings.ToLower(val)
	}

	if val := os.Getenv("WAYDROID_LAUNCH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Launch.Timeout = d
		} else if secs, err := strconv.Atoi(val); err == nil {
			c.Launch.Timeout = time.Duration(secs) * time.Second
		}
	}

	if val := os.Getenv("WAYDROID_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
	}
	if val := os.Getenv("WAYDROID_TRACING"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("WAYDROID_TRACING_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	errs = append(errs, c.Binder.Vendor.validate("binder.vendor")...)
	errs = append(errs, c.Binder.System.validate("binder.system")...)
	if c.Binder.PresencePollInterval <= 0 {
		errs = append(errs, fmt.Sprintf("binder.presence_poll_interval must be positive, got %v", c.Binder.PresencePollInterval))
	}

	if !strings.HasSuffix(c.Bus.AppNamePrefix, ".") {
		errs = append(errs, fmt.Sprintf("bus.app_name_prefix must end with '.', got %q", c.Bus.AppNamePrefix))
	}
	if c.Bus.CallTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("bus.call_timeout must be positive, got %v", c.Bus.CallTimeout))
	}

	if c.Launch.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("launch.timeout must be positive, got %v", c.Launch.Timeout))
	}
	if c.Launch.ServiceLookupAttempts < 1 {
		errs = append(errs, fmt.Sprintf("launch.service_lookup_attempts must be at least 1, got %d", c.Launch.ServiceLookupAttempts))
	}
	if c.Launch.ServiceLookupInterval <= 0 {
		errs = append(errs, fmt.Sprintf("launch.service_lookup_interval must be positive, got %v", c.Launch.ServiceLookupInterval))
	}
	if c.Launch.GuardEnv == "" || strings.ContainsAny(c.Launch.GuardEnv, "= ") {
		errs = append(errs, fmt.Sprintf("launch.guard_env must be a valid variable name, got %q", c.Launch.GuardEnv))
	}
	if len(c.Launch.SessionCommand) == 0 || c.Launch.SessionCommand[0] == "" {
		errs = append(errs, "launch.session_command must name a program")
	}

	if c.Serve.StopTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("serve.stop_timeout must be positive, got %v", c.Serve.StopTimeout))
	}

	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			errs = append(errs, "tracing.endpoint is required when tracing.exporter is otlp")
		}
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [none, stdout, otlp], got %q", c.Tracing.Exporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

func (e *BinderEndpoint) fill(defaults BinderEndpoint) {
	if e.Device == "" {
		e.Device = defaults.Device
	}
	if e.Protocol == "" {
		e.Protocol = defaults.Protocol
	}
	if e.ServiceManagerProtocol == "" {
		e.ServiceManagerProtocol = defaults.ServiceManagerProtocol
	}
}

func (e BinderEndpoint) validate(key string) []string {
	var errs []string
	if !strings.HasPrefix(e.Device, "/dev/") {
		errs = append(errs, fmt.Sprintf("%s.device must be a device node under /dev, got %q", key, e.Device))
	}
	switch e.Protocol {
	case ProtocolAIDL, ProtocolAIDL2, ProtocolAIDL3:
	default:
		errs = append(errs, fmt.Sprintf("%s.protocol must be one of [aidl, aidl2, aidl3], got %q", key, e.Protocol))
	}
	switch e.ServiceManagerProtocol {
	case ProtocolAIDL, ProtocolAIDL2, ProtocolAIDL3, ProtocolAIDL4:
	default:
		errs = append(errs, fmt.Sprintf("%s.service_manager_protocol must be one of [aidl, aidl2, aidl3, aidl4], got %q", key, e.ServiceManagerProtocol))
	}
	return errs
}

// defaultSpawnLog returns the default log path for detached session children.
func defaultSpawnLog() string {
	if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
		return filepath.Join(stateHome, appDirName, "session.log")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDirName+"-session.log")
	}

	return filepath.Join(homeDir, ".local", "state", appDirName, "session.log")
}

// defaultPIDFile returns the default PID file of the serve command.
func defaultPIDFile() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, appDirName, "monitor.pid")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", appDirName, os.Getuid()), "monitor.pid")
}
