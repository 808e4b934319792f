package util

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/relmark/relmark/pkg/logger"
)

// LoadEnv reads a .env file from the working directory into the process
// environment. A missing file is fine; the system environment still applies.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

// GetEnv returns the value of an environment variable, or "" when unset.
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetEnvNumeric parses an environment variable as a number, falling back to
// the default when unset or unparsable.
func GetEnvNumeric(key string, defaultValue int) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return float64(defaultValue)
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return float64(defaultValue)
	}
	return parsed
}

// GetEnvBool parses an environment variable as a boolean, falling back to
// the default when unset or unparsable.
func GetEnvBool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvDuration parses an environment variable holding a number of
// seconds, falling back to the default when unset or unparsable.
func GetEnvDuration(key string, defaultSeconds int) time.Duration {
	return time.Duration(GetEnvNumeric(key, defaultSeconds) * float64(time.Second))
}
