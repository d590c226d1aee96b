package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables for API token signing.
const (
	EnvJWTSecret          = "JWT_SECRET"
	EnvJWTExpirationHours = "JWT_EXPIRATION_HOURS"
)

// DefaultJWTExpirationHours is used when JWT_EXPIRATION_HOURS is unset.
const DefaultJWTExpirationHours = 24

const minJWTSecretLength = 16

// JWTConfig holds the signing secret and token lifetime of the HTTP API.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// NewJWTConfig reads JWT_SECRET (required) and JWT_EXPIRATION_HOURS.
func NewJWTConfig() (*JWTConfig, error) {
	cfg := &JWTConfig{
		Secret:          os.Getenv(EnvJWTSecret),
		ExpirationHours: DefaultJWTExpirationHours,
	}
	if cfg.Secret == "" {
		return nil, &ConfigurationError{Message: EnvJWTSecret + " is required but not set"}
	}

	if raw := os.Getenv(EnvJWTExpirationHours); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &ConfigurationError{Message: "invalid " + EnvJWTExpirationHours, Cause: err}
		}
		cfg.ExpirationHours = hours
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *JWTConfig) validate() error {
	if len(c.Secret) < minJWTSecretLength {
		return &ConfigurationError{Message: fmt.Sprintf("%s must be at least %d characters", EnvJWTSecret, minJWTSecretLength)}
	}
	if c.ExpirationHours < 1 {
		return &ConfigurationError{Message: fmt.Sprintf("%s must be at least 1 hour, got %d", EnvJWTExpirationHours, c.ExpirationHours)}
	}
	return nil
}
