// Package config provides configuration loading and structs for the mitsuke server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Store    StoreConfig    `yaml:"store"`
	Search   SearchConfig   `yaml:"search"`
	Watch    WatchConfig    `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProviderConfig holds embedding provider settings. The ML sidecar is the
// default provider; ONNXModelPath selects the local visual encoder instead
// (requires a CGO build).
type ProviderConfig struct {
	SidecarURL    string `yaml:"sidecar_url"`
	Dimensions    int    `yaml:"dimensions"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	ONNXModelPath string `yaml:"onnx_model_path"`
}

// StoreConfig holds paths for the frame database and the JSON stores.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	CachePath    string `yaml:"cache_path"`
	RegistryPath string `yaml:"registry_path"`
}

// SearchConfig holds search, scan, and threshold defaults.
type SearchConfig struct {
	DefaultLimit    int     `yaml:"default_limit"`
	MaxLimit        int     `yaml:"max_limit"`
	MinScore        float64 `yaml:"min_score"`
	ThresholdPct    float64 `yaml:"threshold_pct"`
	MaxFaceDistance float64 `yaml:"max_face_distance"`
	BatchSize       int     `yaml:"batch_size"`
	ReportEvery     int     `yaml:"report_every"`
	DedupWindowSec  int     `yaml:"dedup_window_sec"`
}

// WatchConfig holds cache-maintenance watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Store.DatabasePath = expandPath(cfg.Store.DatabasePath, configDir)
	cfg.Store.CachePath = expandPath(cfg.Store.CachePath, configDir)
	cfg.Store.RegistryPath = expandPath(cfg.Store.RegistryPath, configDir)
	if cfg.Provider.ONNXModelPath != "" {
		cfg.Provider.ONNXModelPath = expandPath(cfg.Provider.ONNXModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
