package config

import "time"

// DefaultConfig returns the configuration the engine runs with when nothing
// else is specified. The defaults favor a local development setup: sqlite on
// disk, no cache, no archive, no auth.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "evoloop.db",
			MaxOpenConns:    50,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			DefaultTTL:   30 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:    false,
			Database:   "evoloop",
			Collection: "evolution_log_archive",
		},
		Engine: EngineConfig{
			MinEpisodes:      5,
			SaveRateFloor:    0.5,
			FollowupCeiling:  5,
			WindowSize:       50,
			CandidateRollout: 10,
			AutoPromote:      false,
			CheckInterval:    10 * time.Second,
			CheckBurst:       3,
			AuditRetention:   90 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "evoloop",
			SampleRate:   1.0,
		},
		Auth: AuthConfig{
			Enabled:  false,
			Issuer:   "evoloop",
			TokenTTL: 24 * time.Hour,
		},
	}
}
