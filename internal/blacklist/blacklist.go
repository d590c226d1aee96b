// Package blacklist queries the Google Safe Browsing v4 threat-match API.
// All lookups go through one rate limiter shared by every URL and batch using the client.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/safebrowsing/v4"
)

const (
	// DefaultRequestsPerSecond is the sustained lookup rate.
	DefaultRequestsPerSecond = 5.0
	// DefaultBurst is the limiter burst size.
	DefaultBurst = 1
	// DefaultMaxRetries is how many times a quota rejection is retried.
	DefaultMaxRetries = 3
	// DefaultInitialBackoff is the first wait after a quota rejection; it doubles per retry.
	// With DefaultMaxRetries the waits add up to 7s, inside the default 15s rule timeout.
	DefaultInitialBackoff = 1 * time.Second
	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 5 * time.Second
)

// ThreatTypes are the categories looked up for every URL.
var ThreatTypes = []string{"MALWARE", "SOCIAL_ENGINEERING"}

// Verdict is the answer for one URL.
type Verdict struct {
	Listed      bool
	ThreatTypes []string
}

// Checker looks a URL up in a blacklist.
type Checker interface {
	Check(ctx context.Context, url string) (Verdict, error)
}

// APIError represents a failed lookup (network error, bad payload, server error).
type APIError struct {
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("blacklist API error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("blacklist API error: %s", e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// QuotaError is returned when the API keeps rejecting lookups for quota after all retries.
type QuotaError struct {
	Attempts int
	Cause    error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("blacklist quota exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *QuotaError) Unwrap() error {
	return e.Cause
}

// Options configures the Safe Browsing client. Retries that would outlive the
// caller's deadline are not attempted, so MaxRetries and InitialBackoff should
// fit inside the rule timeout.
type Options struct {
	APIKey            string
	ClientID          string
	ClientVersion     string
	RequestsPerSecond float64
	Burst             int
	MaxRetries        int
	InitialBackoff    time.Duration
	Timeout           time.Duration
	Logger            *zerolog.Logger
	ClientOptions     []option.ClientOption
}

// Client is a rate-limited Safe Browsing lookup client. It is safe for concurrent use.
type Client struct {
	svc           *safebrowsing.Service
	limiter       *rate.Limiter
	clientID      string
	clientVersion string
	maxRetries    int
	backoff       time.Duration
	timeout       time.Duration
	log           zerolog.Logger

	mu          sync.Mutex
	pausedUntil time.Time
}

// New creates a Client.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ClientID == "" {
		opts.ClientID = "linkrisk"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}

	clientOpts := opts.ClientOptions
	if opts.APIKey != "" {
		clientOpts = append([]option.ClientOption{option.WithAPIKey(opts.APIKey)}, clientOpts...)
	}
	svc, err := safebrowsing.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create safebrowsing service: %w", err)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		svc:           svc,
		limiter:       rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		clientID:      opts.ClientID,
		clientVersion: opts.ClientVersion,
		maxRetries:    opts.MaxRetries,
		backoff:       opts.InitialBackoff,
		timeout:       opts.Timeout,
		log:           logger.With().Str("component", "blacklist").Logger(),
	}, nil
}

// Check looks url up. Quota rejections are retried with exponential back-off
// before a QuotaError is returned.
func (c *Client) Check(ctx context.Context, url string) (Verdict, error) {
	req := &safebrowsing.GoogleSecuritySafebrowsingV4FindThreatMatchesRequest{
		Client: &safebrowsing.GoogleSecuritySafebrowsingV4ClientInfo{
			ClientId:      c.clientID,
			ClientVersion: c.clientVersion,
		},
		ThreatInfo: &safebrowsing.GoogleSecuritySafebrowsingV4ThreatInfo{
			ThreatTypes:      ThreatTypes,
			PlatformTypes:    []string{"ANY_PLATFORM"},
			ThreatEntryTypes: []string{"URL"},
			ThreatEntries: []*safebrowsing.GoogleSecuritySafebrowsingV4ThreatEntry{
				{Url: url},
			},
		},
	}

	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return Verdict{}, &APIError{Message: "rate limiter wait aborted", Cause: err}
		}

		resp, err := c.find(ctx, req)
		if err == nil {
			return verdictFrom(resp), nil
		}

		wait, quota := quotaDelay(err)
		if !quota {
			return Verdict{}, &APIError{Message: "threat match lookup failed", Cause: err}
		}
		if wait < backoff {
			wait = backoff
		}
		// Every lookup sharing this client backs off, not just this one.
		resumeAt := c.pause(wait)
		if attempt > c.maxRetries {
			return Verdict{}, &QuotaError{Attempts: attempt, Cause: err}
		}
		if deadline, ok := ctx.Deadline(); ok && deadline.Before(resumeAt) {
			return Verdict{}, &QuotaError{Attempts: attempt, Cause: err}
		}
		c.log.Warn().Err(err).Str("url", url).Int("attempt", attempt).Dur("wait", wait).Msg("Safe Browsing quota rejection, backing off")
		backoff *= 2
	}
}

// pause holds every lookup until at least d from now and returns the resume time.
func (c *Client) pause(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := time.Now().Add(d); until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
	return c.pausedUntil
}

func (c *Client) pauseRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Until(c.pausedUntil)
}

// waitTurn blocks while the client is paused for quota, then takes a limiter token.
func (c *Client) waitTurn(ctx context.Context) error {
	for {
		if d := c.pauseRemaining(); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		// A pause may have started while this caller waited for its token.
		if c.pauseRemaining() <= 0 {
			return nil
		}
	}
}

func (c *Client) find(ctx context.Context, req *safebrowsing.GoogleSecuritySafebrowsingV4FindThreatMatchesRequest) (*safebrowsing.GoogleSecuritySafebrowsingV4FindThreatMatchesResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.svc.ThreatMatches.Find(req).Context(callCtx).Do()
}

func verdictFrom(resp *safebrowsing.GoogleSecuritySafebrowsingV4FindThreatMatchesResponse) Verdict {
	if resp == nil || len(resp.Matches) == 0 {
		return Verdict{}
	}
	v := Verdict{Listed: true}
	for _, m := range resp.Matches {
		if m != nil && m.ThreatType != "" {
			v.ThreatTypes = append(v.ThreatTypes, m.ThreatType)
		}
	}
	return v
}

// quotaDelay reports whether err is a quota rejection and how long the server asked us to wait.
func quotaDelay(err error) (time.Duration, bool) {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
		return 0, false
	}
	if apiErr.Header != nil {
		if secs, convErr := strconv.Atoi(apiErr.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, true
}
