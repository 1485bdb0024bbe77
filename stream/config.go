package stream

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-streamupload/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// EnvConfig is the environment-backed configuration of an uploader process.
type EnvConfig struct {
	Email          string          `env:"CLOUDFLARE_EMAIL,required"`
	APIKey         stepconf.Secret `env:"CLOUDFLARE_API_KEY,required"`
	Zone           string          `env:"CLOUDFLARE_ZONE"`
	APIBaseURL     string          `env:"CLOUDFLARE_API_URL"`
	MaxRetries     int             `env:"STREAM_UPLOAD_MAX_RETRIES"`
	TimeoutSeconds int             `env:"STREAM_UPLOAD_TIMEOUT_SECONDS"`
	Verbose        bool            `env:"STREAM_UPLOAD_VERBOSE"`
}

// LoadConfig reads the EnvConfig from envRepository.
func LoadConfig(envRepository env.Repository) (EnvConfig, error) {
	var config EnvConfig
	if err := stepconf.NewInputParser(envRepository).Parse(&config); err != nil {
		return EnvConfig{}, err
	}

	if config.MaxRetries < 0 {
		return EnvConfig{}, fmt.Errorf("STREAM_UPLOAD_MAX_RETRIES must not be negative, got %d", config.MaxRetries)
	}
	if config.TimeoutSeconds < 0 {
		return EnvConfig{}, fmt.Errorf("STREAM_UPLOAD_TIMEOUT_SECONDS must not be negative, got %d", config.TimeoutSeconds)
	}

	return config, nil
}

// Credentials ...
func (c EnvConfig) Credentials() Credentials {
	return Credentials{
		Email: c.Email,
		Key:   c.APIKey,
		Zone:  c.Zone,
	}
}

// ClientConfig returns a Config for NewClient; fields without an environment variable keep their defaults.
func (c EnvConfig) ClientConfig(logger log.Logger) Config {
	config := DefaultConfig()
	if c.APIBaseURL != "" {
		config.APIBaseURL = c.APIBaseURL
	}
	config.MaxRetries = c.MaxRetries
	config.Timeout = time.Duration(c.TimeoutSeconds) * time.Second
	config.Logger = logger
	return config
}
