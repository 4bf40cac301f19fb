package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port            int
	DBPath          string
	ShutdownTimeout int // seconds
}

// Load reads configuration from the environment, falling back to the
// documented defaults: port 3001 and a chat-relay.db file next to the
// binary.
func Load() *Config {
	cfg := &Config{
		Port:            3001,
		DBPath:          "chat-relay.db",
		ShutdownTimeout: 10,
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if timeoutStr := os.Getenv("SHUTDOWN_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ShutdownTimeout = timeout
		}
	}

	return cfg
}
