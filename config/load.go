package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// envOverrides is the fixed set of environment variables spec.md §6 names
// as overriding file-loaded values, applied after YAML decode and
// ${VAR}-expansion so an operator can always win over a checked-in file.
var envOverrides = []struct {
	name  string
	apply func(c *Config, v string)
}{
	{"LOG_LEVEL", func(c *Config, v string) { c.General.LogLevel = v }},
	{"DETECTOR_BINARY", func(c *Config, v string) { c.Detector.Binary = v }},
	{"DETECTOR_CONFIG", func(c *Config, v string) { c.Detector.ConfigPath = v }},
	{"INTERFACE", func(c *Config, v string) { c.Detector.Interfaces = strings.Split(v, ",") }},
	{"SOCKET_DIR", func(c *Config, v string) { c.IPC.SocketDir = v }},
	{"DATABASE", func(c *Config, v string) { c.Storage.DatabasePath = v }},
}

// Load reads a YAML config file, expands environment variables, unmarshals
// into a Config struct, applies defaults, and then applies the fixed set of
// environment-variable overrides spec.md §6 documents. Unknown keys are
// rejected to catch typos early.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	cfg.applyDefaults()

	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok {
			o.apply(&cfg, v)
		}
	}

	return &cfg, nil
}
