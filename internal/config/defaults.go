package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8002
	}
	if cfg.Provider.SidecarURL == "" {
		cfg.Provider.SidecarURL = "http://localhost:8001"
	}
	if cfg.Provider.Dimensions == 0 {
		cfg.Provider.Dimensions = 512
	}
	if cfg.Provider.TimeoutSec == 0 {
		// CPU CLIP inference is slow; generous default.
		cfg.Provider.TimeoutSec = 120
	}
	if cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = "/usr/local/var/mitsuke/data/db/frames.db"
	}
	if cfg.Store.CachePath == "" {
		cfg.Store.CachePath = "/usr/local/var/mitsuke/data/feature_cache.json"
	}
	if cfg.Store.RegistryPath == "" {
		cfg.Store.RegistryPath = "/usr/local/var/mitsuke/data/face_registry.json"
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 20
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.MinScore == 0 {
		cfg.Search.MinScore = 0.18
	}
	if cfg.Search.ThresholdPct == 0 {
		cfg.Search.ThresholdPct = 50
	}
	if cfg.Search.MaxFaceDistance == 0 {
		cfg.Search.MaxFaceDistance = 0.6
	}
	if cfg.Search.BatchSize == 0 {
		cfg.Search.BatchSize = 32
	}
	if cfg.Search.ReportEvery == 0 {
		cfg.Search.ReportEvery = 20
	}
	if cfg.Search.DedupWindowSec == 0 {
		cfg.Search.DedupWindowSec = 60
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
