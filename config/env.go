package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvPrivateKey  = "ARB_PRIVATE_KEY"
	EnvRPCEndpoint = "ARB_RPC_ENDPOINT"
)

// LoadEnv loads environment variables from .env files. A missing file is not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}

// ApplyEnv overrides endpoint settings from the environment
func (c *Config) ApplyEnv() {
	c.RPCEndpoint = GetEnvWithDefault(EnvRPCEndpoint, c.RPCEndpoint)
}
