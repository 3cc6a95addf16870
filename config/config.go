// Package config loads the engine configuration from the environment, with a
// .env file as the development convenience layer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Targets accepted by MWL_TARGET.
const (
	TargetOrthanc  = "orthanc"
	TargetDcm4chee = "dcm4chee"
	TargetBoth     = "both"
)

// Config is the engine configuration.
type Config struct {
	DatabaseURL string

	Target  string
	Primary string

	OrthancBaseURL  string
	OrthancUsername string
	OrthancPassword string
	OrthancRetryMax int

	Dcm4cheeBaseURL    string
	Dcm4cheeAETitle    string
	Dcm4cheeCallingAET string
	Dcm4cheeCalledAET  string

	HTTPTimeout   time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	Concurrency   int
}

// Load reads the configuration. A missing .env file is fine; the environment
// itself is authoritative.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("RIS_DATABASE_URL"),

		Target:  getEnv("MWL_TARGET", TargetDcm4chee),
		Primary: getEnv("MWL_PRIMARY_BACKEND", TargetDcm4chee),

		OrthancBaseURL:  os.Getenv("ORTHANC_BASE_URL"),
		OrthancUsername: os.Getenv("ORTHANC_USERNAME"),
		OrthancPassword: os.Getenv("ORTHANC_PASSWORD"),
		OrthancRetryMax: getEnvInt("ORTHANC_RETRY_MAX", 2),

		Dcm4cheeBaseURL:    os.Getenv("DCM4CHEE_BASE_URL"),
		Dcm4cheeAETitle:    getEnv("DCM4CHEE_AE_TITLE", "DCM4CHEE"),
		Dcm4cheeCallingAET: getEnv("DCM4CHEE_CALLING_AET", "RIS"),
		Dcm4cheeCalledAET:  getEnv("DCM4CHEE_CALLED_AET", "DCM4CHEE"),

		HTTPTimeout:   getEnvDuration("MWL_HTTP_TIMEOUT", 30*time.Second),
		RetryAttempts: getEnvInt("MWL_RETRY_ATTEMPTS", 2),
		RetryBackoff:  getEnvDuration("MWL_RETRY_BACKOFF", time.Second),
		Concurrency:   getEnvInt("MWL_CONCURRENCY", 4),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("RIS_DATABASE_URL is required")
	}
	switch c.Target {
	case TargetOrthanc, TargetDcm4chee, TargetBoth:
	default:
		return fmt.Errorf("MWL_TARGET must be one of %s, %s, %s", TargetOrthanc, TargetDcm4chee, TargetBoth)
	}
	if (c.Target == TargetOrthanc || c.Target == TargetBoth) && c.OrthancBaseURL == "" {
		return fmt.Errorf("ORTHANC_BASE_URL is required for target %s", c.Target)
	}
	if (c.Target == TargetDcm4chee || c.Target == TargetBoth) && c.Dcm4cheeBaseURL == "" {
		return fmt.Errorf("DCM4CHEE_BASE_URL is required for target %s", c.Target)
	}
	if c.Target != TargetBoth {
		// With a single backend the primary can only be that backend.
		c.Primary = c.Target
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
