// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr   string
	DatabasePath string
	// RedisAddr selects the redis quote cache; empty means in-memory.
	RedisAddr    string
	SyncInterval time.Duration
}

// Load reads the configuration. A missing .env file is not an error; the
// process environment always wins.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}

	return Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		DatabasePath: getEnv("DATABASE_PATH", "loanbook.db"),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		SyncInterval: getDurationEnv("SYNC_INTERVAL", 24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("Invalid duration for %s: %q, using default %s", key, val, fallback)
		return fallback
	}
	return d
}
