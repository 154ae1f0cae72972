package config

import (
	"os"
	"strings"
)

const envPrefix = "MARKETINDEXOR_"

const (
	EnvSourceEndpoint = envPrefix + "SOURCE_ENDPOINT"
	EnvSourceContract = envPrefix + "SOURCE_CONTRACT"
	EnvDBPath         = envPrefix + "DB_PATH"
	EnvLogLevel       = envPrefix + "LOG_LEVEL"
)

// ApplyEnvOverrides replaces file values with non-empty MARKETINDEXOR_* environment variables.
// It runs before defaults and validation so overridden values are validated too.
func (c *Config) ApplyEnvOverrides() {
	if v := lookupEnv(EnvSourceEndpoint); v != "" {
		c.Source.Endpoint = v
	}
	if v := lookupEnv(EnvSourceContract); v != "" {
		c.Source.Contract = v
	}
	if v := lookupEnv(EnvDBPath); v != "" {
		c.DB.Path = v
	}
	if v := lookupEnv(EnvLogLevel); v != "" {
		if c.Logging == nil {
			c.Logging = &LoggingConfig{}
		}
		c.Logging.DefaultLevel = v
	}
}

func lookupEnv(key string) string {
	v, _ := os.LookupEnv(key)
	return strings.TrimSpace(v)
}
