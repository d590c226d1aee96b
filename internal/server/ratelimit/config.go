package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Environment variables read by LoadConfig.
const (
	EnvEnabled         = "RATE_LIMIT_ENABLED"
	EnvDefaultLimit    = "RATE_LIMIT_DEFAULT_LIMIT"
	EnvDefaultWindow   = "RATE_LIMIT_DEFAULT_WINDOW"
	EnvCleanupInterval = "RATE_LIMIT_CLEANUP_INTERVAL"
	EnvWhitelist       = "RATE_LIMIT_WHITELIST"
	EnvBlacklist       = "RATE_LIMIT_BLACKLIST"
)

// LoadConfig builds the limiter configuration from the environment.
// Unparseable values fall back to their defaults.
func LoadConfig() *Config {
	if !envOr(EnvEnabled, true, strconv.ParseBool) {
		return &Config{Enabled: false}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    envOr(EnvDefaultLimit, 600, strconv.Atoi),
		DefaultWindow:   envOr(EnvDefaultWindow, time.Minute, time.ParseDuration),
		CleanupInterval: envOr(EnvCleanupInterval, 5*time.Minute, time.ParseDuration),
		Whitelist:       clientSet(os.Getenv(EnvWhitelist)),
		Blacklist:       clientSet(os.Getenv(EnvBlacklist)),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
// Scoring fans out to remote sites and the Safe Browsing quota, so it gets the strictest limits.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		{Path: "/batches", Method: "POST", Limit: 20, Window: time.Hour, Burst: 2},
		{Path: "/batches/stream", Method: "POST", Limit: 20, Window: time.Hour, Burst: 2},
		{Path: "/score", Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
		// History reads use the default limit; /health is never limited.
	}
}

func envOr[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

// clientSet parses a comma-separated list of client IPs.
func clientSet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = true
		}
	}
	return set
}
