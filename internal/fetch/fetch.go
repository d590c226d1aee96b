// Package fetch provides the single-attempt page fetcher shared by every content-based rule.
// A URL's page is fetched at most once per evaluation; see Page.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 5 * time.Second

// DefaultMaxRedirects caps the redirect chain.
const DefaultMaxRedirects = 5

// DefaultMaxBodyBytes bounds how much of a page body is kept.
const DefaultMaxBodyBytes = 2 << 20

// DefaultUserAgent is the user agent string for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; linkrisk/1.0)"

// Hop is one response in a redirect chain.
type Hop struct {
	StatusCode int    `json:"status_code"`
	URL        string `json:"url"`
}

// Result holds the outcome of a page fetch. When Err is set, StatusCode is zero
// and Body is empty.
type Result struct {
	RequestURL  string
	FinalURL    string
	StatusCode  int
	Redirects   []Hop
	Body        []byte
	ContentType string
	Err         error
}

// OK reports whether the fetch completed without a transport error.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil
}

// Error represents an error during URL fetching.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrTooManyRedirects is returned when the redirect chain exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

// Options configures the fetch behavior.
type Options struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int64
	UserAgent    string
	Headers      map[string]string
}

// DefaultOptions returns sensible defaults for fetching.
func DefaultOptions() *Options {
	return &Options{
		Timeout:      DefaultTimeout,
		MaxRedirects: DefaultMaxRedirects,
		MaxBodyBytes: DefaultMaxBodyBytes,
		UserAgent:    DefaultUserAgent,
	}
}

// Fetcher performs page fetches over one shared HTTP client. It is safe for concurrent use.
type Fetcher struct {
	client *http.Client
	opts   Options
}

// New creates a Fetcher. A nil opts uses DefaultOptions.
func New(opts *Options) *Fetcher {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	f := &Fetcher{opts: o}
	f.client = &http.Client{
		Timeout:       o.Timeout,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

type chainKey struct{}

// Fetch performs one GET against urlStr, following redirects and recording the chain.
// Failures are reported through Result.Err, never as a separate return value.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) *Result {
	result := &Result{RequestURL: urlStr}

	parsedURL, err := url.Parse(urlStr)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		result.Err = &Error{URL: urlStr, Message: "invalid URL", Cause: err}
		return result
	}

	chain := &[]Hop{}
	req, err := http.NewRequestWithContext(context.WithValue(ctx, chainKey{}, chain), http.MethodGet, urlStr, nil)
	if err != nil {
		result.Err = &Error{URL: urlStr, Message: "failed to create request", Cause: err}
		return result
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	for key, value := range f.opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		result.Err = &Error{URL: urlStr, Message: "HTTP request failed", Cause: err}
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		result.Err = &Error{URL: urlStr, Message: "failed to read response body", Cause: err}
		return result
	}

	result.FinalURL = resp.Request.URL.String()
	result.StatusCode = resp.StatusCode
	result.Redirects = *chain
	result.Body = body
	result.ContentType = resp.Header.Get("Content-Type")
	return result
}

// checkRedirect records each intermediate response and enforces the redirect cap.
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if chain, ok := req.Context().Value(chainKey{}).(*[]Hop); ok && req.Response != nil {
		prev := via[len(via)-1]
		*chain = append(*chain, Hop{StatusCode: req.Response.StatusCode, URL: prev.URL.String()})
	}
	if len(via) > f.opts.MaxRedirects {
		return ErrTooManyRedirects
	}
	return nil
}

// schemePrefix matches an RFC 3986 scheme followed by "://" at the start of a candidate.
var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// WithScheme prefixes http:// when the candidate does not start with a scheme.
// A "://" later in the string, such as in a redirect parameter, does not count.
func WithScheme(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if schemePrefix.MatchString(trimmed) {
		return trimmed
	}
	return "http://" + trimmed
}

// Host returns the host[:port] of urlStr, or "" when it cannot be parsed.
func Host(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Host
}
