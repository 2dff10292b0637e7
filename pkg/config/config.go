// Package config loads the daemon and CLI's runtime configuration from
// a YAML file, the way cuemby-warren's cmd/warren/apply.go parses
// resource YAML: a plain struct with `yaml` tags, unmarshaled with
// gopkg.in/yaml.v3 and then layered with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PersistenceConfig controls disk persistence per spec §6's
// Collab-persistence knobs.
type PersistenceConfig struct {
	EnableSnapshot   bool `yaml:"enable_snapshot"`
	SnapshotPerUpdate int `yaml:"snapshot_per_update"`
}

// SyncConfig controls the outbound sink and reconnect behavior spec §6
// names.
type SyncConfig struct {
	RetryInitialMS int           `yaml:"retry_initial_ms"`
	RetryFactor    float64       `yaml:"retry_factor"`
	RetryCapMS     int           `yaml:"retry_cap_ms"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	MergeWindowMS  int           `yaml:"merge_window_ms"`
	RetryHorizon   time.Duration `yaml:"retry_horizon"`
}

// Config is the daemon and CLI's full runtime configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	BindAddr string `yaml:"bind_addr"`
	NodeID   uint64 `yaml:"node_id"`
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	Persistence PersistenceConfig `yaml:"persistence"`
	Sync        SyncConfig        `yaml:"sync"`
}

// Default returns the configuration a fresh install runs with before
// any file or environment override is applied.
func Default() Config {
	return Config{
		DataDir:  "./data",
		BindAddr: "0.0.0.0:8765",
		NodeID:   1,
		LogLevel: "info",
		LogJSON:  false,
		Persistence: PersistenceConfig{
			EnableSnapshot:    true,
			SnapshotPerUpdate: 100,
		},
		Sync: SyncConfig{
			RetryInitialMS: 10,
			RetryFactor:    2.0,
			RetryCapMS:     30000,
			QueueCapacity:  256,
			MergeWindowMS:  50,
			RetryHorizon:   30 * time.Second,
		},
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment-variable overrides, in cuemby-warren's flags-over-
// defaults order (file beats default, env beats file).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COLLAB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("COLLAB_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("COLLAB_NODE_ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.NodeID = n
		}
	}
	if v := os.Getenv("COLLAB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COLLAB_LOG_JSON"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
	if v := os.Getenv("COLLAB_SYNC_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.QueueCapacity = n
		}
	}
}
