package config

import (
	"fmt"
	"time"
)

// Config represents a vnidsd.yaml configuration file: five top-level
// sections per spec.md §6 (general, detector, ipc, storage, watchdog),
// mapped onto the INI-with-five-sections collaborator the core names only
// by interface.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Detector DetectorConfig `yaml:"detector"`
	IPC      IPCConfig      `yaml:"ipc"`
	Storage  StorageConfig  `yaml:"storage"`
	Watchdog WatchdogConfig `yaml:"watchdog"`

	// Notify is not one of spec.md §6's five named sections; it configures
	// the subscriber adapters spec.md §4.4/§9 names as a dynamic, optional
	// fan-out set (webhook/Redis), so it is additive rather than replacing
	// any named section.
	Notify NotifyConfig `yaml:"notify"`
}

// NotifyConfig configures the optional webhook/Redis subscriber adapters.
// Either URL may be left empty to skip registering that adapter.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url"`
	RedisURL    string `yaml:"redis_url"`
	RedisChannel string `yaml:"redis_channel"`
	// MinSeverity gates which events reach the adapters (e.g. "high");
	// empty means no severity floor.
	MinSeverity string `yaml:"min_severity"`
}

// GeneralConfig holds daemon-wide settings.
type GeneralConfig struct {
	LogLevel  string `yaml:"log_level"`
	PIDFile   string `yaml:"pid_file"`
	Daemonize bool   `yaml:"daemonize"`
}

// DetectorConfig describes how to launch and locate the detector
// subprocess, per spec.md §4.5's argv construction contract.
type DetectorConfig struct {
	Binary     string   `yaml:"binary"`
	ConfigPath string   `yaml:"config"`
	RulesDir   string   `yaml:"rules_dir"`
	LogDir     string   `yaml:"log_dir"`
	Interfaces []string `yaml:"interface"`
}

// IPCConfig holds the two local-socket locations and the event-queue
// capacity, per spec.md §4.1/§4.2/§4.6.
type IPCConfig struct {
	SocketDir       string `yaml:"socket_dir"`
	EventBufferSize int    `yaml:"event_buffer_size"`
}

// EventSocketPath is the detector event socket path derived from SocketDir.
func (c IPCConfig) EventSocketPath() string {
	return c.SocketDir + "/event.sock"
}

// ControlSocketPath is the control-plane socket path derived from SocketDir.
func (c IPCConfig) ControlSocketPath() string {
	return c.SocketDir + "/control.sock"
}

// StorageConfig holds the durable event store's location and retention
// policy, per spec.md §4.8.
type StorageConfig struct {
	DatabasePath  string `yaml:"database"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSizeMB     int    `yaml:"max_size_mb"`
	MaxEvents     int    `yaml:"max_events"`
}

// WatchdogConfig holds the supervisor's liveness-check and restart-backoff
// tuning, per spec.md §4.5.
type WatchdogConfig struct {
	CheckIntervalMs   int `yaml:"check_interval_ms"`
	HeartbeatTimeoutS int `yaml:"heartbeat_timeout_s"`
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
	StatsIntervalMs   int `yaml:"stats_interval_ms"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// applyDefaults fills in zero-valued fields with the defaults spec.md §6
// documents, matching original_source/vnidsd/src/config.c's default table.
func (c *Config) applyDefaults() {
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.IPC.EventBufferSize == 0 {
		c.IPC.EventBufferSize = 4096
	}
	if c.Storage.MaxEvents == 0 {
		c.Storage.MaxEvents = 100000
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}
	if c.Watchdog.CheckIntervalMs == 0 {
		c.Watchdog.CheckIntervalMs = 5000
	}
	if c.Watchdog.MaxRestartAttempts == 0 {
		c.Watchdog.MaxRestartAttempts = 5
	}
	if c.Watchdog.HeartbeatTimeoutS == 0 {
		c.Watchdog.HeartbeatTimeoutS = 30
	}
	if c.Watchdog.StatsIntervalMs == 0 {
		c.Watchdog.StatsIntervalMs = 1000
	}
}

// SetConfigWhitelist is the exact set of keys the set_config control
// command accepts, per spec.md §4.7. Only log_level and max_events are
// applied to the running daemon; the other keys, event_socket included, are
// validated and acknowledged but not stored. See control/handlers.go.
var SetConfigWhitelist = map[string]bool{
	"log_level":         true,
	"event_socket":      true,
	"rules_dir":         true,
	"max_events":        true,
	"watchdog_interval":  true,
	"stats_interval":     true,
}
