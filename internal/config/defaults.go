package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:       "~/.config/tally",
			SQLiteFile: "tally.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Worker: WorkerConfig{
			QueueSize: 64,
		},
	}
}
