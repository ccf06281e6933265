package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `general:
  log_level: debug
  pid_file: /var/run/vnidsd.pid
  daemonize: true

detector:
  binary: /usr/bin/vnids-detector
  config: /etc/vnids/detector.yaml
  rules_dir: /etc/vnids/rules
  log_dir: /var/log/vnids
  interface:
    - eth0
    - eth1

ipc:
  socket_dir: /var/run/vnids
  event_buffer_size: 8192

storage:
  database: /var/lib/vnids/events.db
  retention_days: 14
  max_size_mb: 512
  max_events: 50000

watchdog:
  check_interval_ms: 2000
  heartbeat_timeout_s: 10
  max_restart_attempts: 3
  stats_interval_ms: 500
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "general.log_level", cfg.General.LogLevel, "debug")
	assertEqual(t, "general.pid_file", cfg.General.PIDFile, "/var/run/vnidsd.pid")
	if !cfg.General.Daemonize {
		t.Error("expected general.daemonize=true")
	}

	assertEqual(t, "detector.binary", cfg.Detector.Binary, "/usr/bin/vnids-detector")
	assertEqual(t, "detector.rules_dir", cfg.Detector.RulesDir, "/etc/vnids/rules")
	if len(cfg.Detector.Interfaces) != 2 || cfg.Detector.Interfaces[0] != "eth0" {
		t.Errorf("unexpected interfaces: %+v", cfg.Detector.Interfaces)
	}

	assertEqual(t, "ipc.socket_dir", cfg.IPC.SocketDir, "/var/run/vnids")
	if cfg.IPC.EventBufferSize != 8192 {
		t.Errorf("expected event_buffer_size=8192, got %d", cfg.IPC.EventBufferSize)
	}

	assertEqual(t, "storage.database", cfg.Storage.DatabasePath, "/var/lib/vnids/events.db")
	if cfg.Storage.RetentionDays != 14 {
		t.Errorf("expected retention_days=14, got %d", cfg.Storage.RetentionDays)
	}
	if cfg.Storage.MaxEvents != 50000 {
		t.Errorf("expected max_events=50000, got %d", cfg.Storage.MaxEvents)
	}

	if cfg.Watchdog.CheckIntervalMs != 2000 {
		t.Errorf("expected check_interval_ms=2000, got %d", cfg.Watchdog.CheckIntervalMs)
	}
	if cfg.Watchdog.MaxRestartAttempts != 3 {
		t.Errorf("expected max_restart_attempts=3, got %d", cfg.Watchdog.MaxRestartAttempts)
	}
}

func TestLoad_EmptyConfigAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.LogLevel != "info" {
		t.Errorf("expected default log_level=info, got %q", cfg.General.LogLevel)
	}
	if cfg.IPC.EventBufferSize != 4096 {
		t.Errorf("expected default event_buffer_size=4096, got %d", cfg.IPC.EventBufferSize)
	}
	if cfg.Storage.MaxEvents != 100000 {
		t.Errorf("expected default max_events=100000, got %d", cfg.Storage.MaxEvents)
	}
	if cfg.Watchdog.CheckIntervalMs != 5000 {
		t.Errorf("expected default check_interval_ms=5000, got %d", cfg.Watchdog.CheckIntervalMs)
	}
	if cfg.Watchdog.MaxRestartAttempts != 5 {
		t.Errorf("expected default max_restart_attempts=5, got %d", cfg.Watchdog.MaxRestartAttempts)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/vnidsd.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_LOG_LEVEL", "warn")

	yaml := "general:\n  log_level: ${TEST_LOG_LEVEL}"
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "general.log_level", cfg.General.LogLevel, "warn")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DETECTOR_BINARY", "/opt/override/detector")
	t.Setenv("INTERFACE", "eth2,eth3")

	yaml := `detector:
  binary: /usr/bin/vnids-detector
  interface:
    - eth0
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "detector.binary", cfg.Detector.Binary, "/opt/override/detector")
	if len(cfg.Detector.Interfaces) != 2 || cfg.Detector.Interfaces[0] != "eth2" {
		t.Errorf("expected INTERFACE override to split into [eth2 eth3], got %+v", cfg.Detector.Interfaces)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `general:
  log_level: info
  bogus_key: should_fail
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestSetConfigWhitelist(t *testing.T) {
	want := []string{"log_level", "event_socket", "rules_dir", "max_events", "watchdog_interval", "stats_interval"}
	if len(SetConfigWhitelist) != len(want) {
		t.Fatalf("expected %d whitelisted keys, got %d", len(want), len(SetConfigWhitelist))
	}
	for _, k := range want {
		if !SetConfigWhitelist[k] {
			t.Errorf("expected %q to be whitelisted", k)
		}
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vnidsd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
