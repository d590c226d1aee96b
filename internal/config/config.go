// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/linkrisk/internal/blacklist"
	"github.com/jonathan/linkrisk/internal/fetch"
	"github.com/jonathan/linkrisk/internal/rules"
	"github.com/jonathan/linkrisk/internal/schemas"
	"github.com/jonathan/linkrisk/internal/scoring"
)

// Environment variables holding secrets. They fill fields left empty by the config file.
const (
	EnvSafeBrowsingAPIKey = "SAFE_BROWSING_API_KEY"
	EnvSearchAPIKey       = "GOOGLE_SEARCH_API_KEY"
	EnvSearchCX           = "GOOGLE_SEARCH_CX"
	EnvDatabaseURL        = "DATABASE_URL"
)

// Duration is a time.Duration written as a Go duration string ("5s", "1m30s") in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Blacklist configures the threat-intelligence lookups.
type Blacklist struct {
	Enabled           bool     `json:"enabled"`
	RequestsPerSecond float64  `json:"requests_per_second" validate:"gt=0"`
	Burst             int      `json:"burst" validate:"gte=1"`
	MaxRetries        int      `json:"max_retries" validate:"gte=0,lte=10"`
	InitialBackoff    Duration `json:"initial_backoff" validate:"gte=0"`
	ClientID          string   `json:"client_id,omitempty"`
}

// Config represents the CLI configuration that can be loaded from a JSON file.
// Fields missing from the file keep their Default values.
type Config struct {
	// Concurrency and timeouts
	Workers      int      `json:"workers" validate:"gte=0,lte=256"`
	FetchTimeout Duration `json:"fetch_timeout" validate:"gt=0"`
	RuleTimeout  Duration `json:"rule_timeout" validate:"gt=0"`
	MaxRedirects int      `json:"max_redirects" validate:"gte=0,lte=20"`
	MaxBodyBytes int64    `json:"max_body_bytes" validate:"gte=1024"`
	UserAgent    string   `json:"user_agent,omitempty"`

	// Scoring
	Thresholds    scoring.Thresholds `json:"thresholds"`
	Weights       rules.Weights      `json:"weights"`
	Keywords      []string           `json:"keywords,omitempty" validate:"dive,required"`
	SearchEngines []string           `json:"search_engines" validate:"dive,oneof=google yahoo bing"`
	Blacklist     Blacklist          `json:"blacklist"`

	// Storage and output
	Ledger      string `json:"ledger,omitempty"`       // Ledger DSN: file path, sqlite:<path> or postgres://
	Out         string `json:"out,omitempty"`          // Report path: .csv, .jsonl or .xlsx
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL URL for stored reports

	// Secrets
	SafeBrowsingAPIKey string `json:"safe_browsing_api_key,omitempty"`
	SearchAPIKey       string `json:"google_search_api_key,omitempty"`
	SearchCX           string `json:"google_search_cx,omitempty"`

	// Behavior
	Verbose  bool `json:"verbose,omitempty"`
	JSONLogs bool `json:"json_logs,omitempty"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Workers:       scoring.DefaultWorkers,
		FetchTimeout:  Duration(fetch.DefaultTimeout),
		RuleTimeout:   Duration(rules.DefaultRuleTimeout),
		MaxRedirects:  fetch.DefaultMaxRedirects,
		MaxBodyBytes:  fetch.DefaultMaxBodyBytes,
		Thresholds:    scoring.DefaultThresholds(),
		Weights:       rules.DefaultWeights(),
		SearchEngines: []string{"google", "yahoo", "bing"},
		Blacklist: Blacklist{
			Enabled:           true,
			RequestsPerSecond: blacklist.DefaultRequestsPerSecond,
			Burst:             blacklist.DefaultBurst,
			MaxRetries:        blacklist.DefaultMaxRetries,
			InitialBackoff:    Duration(blacklist.DefaultInitialBackoff),
		},
		Ledger: "processed_urls.csv",
		Out:    "url_analysis_results.xlsx",
	}
}

// ConfigurationError reports an unusable configuration. It is fatal at startup.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// LoadConfig loads configuration from a JSON file on top of Default.
// The document is checked against the config schema before decoding.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("failed to parse config JSON: invalid JSON in %s", path)
	}
	if err := schemas.ValidateConfig(data); err != nil {
		return nil, &ConfigurationError{Message: "config file " + path + " does not match schema", Cause: err}
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv fills empty secrets from the environment.
func (c *Config) ApplyEnv() {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&c.SafeBrowsingAPIKey, EnvSafeBrowsingAPIKey)
	fill(&c.SearchAPIKey, EnvSearchAPIKey)
	fill(&c.SearchCX, EnvSearchCX)
	fill(&c.DatabaseURL, EnvDatabaseURL)
}

var validate = validator.New()

// Validate checks field ranges and cross-field constraints.
// Any failure is a *ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ConfigurationError{
				Message: fmt.Sprintf("'%s' failed the '%s' check", fe.Namespace(), fe.Tag()),
				Cause:   err,
			}
		}
		return &ConfigurationError{Message: "invalid configuration", Cause: err}
	}

	if err := c.Thresholds.Validate(); err != nil {
		return &ConfigurationError{Message: "invalid thresholds", Cause: err}
	}

	if c.SearchCX != "" && c.SearchAPIKey == "" {
		return &ConfigurationError{Message: fmt.Sprintf("'google_search_cx' requires %s", EnvSearchAPIKey)}
	}

	return nil
}
