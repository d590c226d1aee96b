// Package search checks whether a domain is indexed by public search engines
// using a site-restricted query.
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each search-engine request.
const DefaultTimeout = 5 * time.Second

// BrowserUserAgent is sent to search engines, which reject obvious bots.
const BrowserUserAgent = "Mozilla/5.0"

const maxResultPageBytes = 4 << 20

// Engine answers whether domain appears in the engine's results for site:domain.
type Engine interface {
	Name() string
	Indexed(ctx context.Context, domain string) (bool, error)
}

// Probe is the answer of one engine.
type Probe struct {
	Engine string
	Found  bool
	Err    error
}

// HTMLEngine scrapes a search result page and looks for the domain in it.
type HTMLEngine struct {
	name     string
	template string
	client   *http.Client
}

// NewHTMLEngine creates an engine whose query URL is template with %s replaced
// by the escaped "site:<domain>" query.
func NewHTMLEngine(name, template string, client *http.Client) *HTMLEngine {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTMLEngine{name: name, template: template, client: client}
}

// DefaultEngines returns the Google, Yahoo and Bing scrapers sharing one client.
func DefaultEngines(client *http.Client) []Engine {
	return []Engine{
		NewHTMLEngine("google", "https://www.google.com/search?q=%s", client),
		NewHTMLEngine("yahoo", "https://search.yahoo.com/search?p=%s", client),
		NewHTMLEngine("bing", "https://www.bing.com/search?q=%s", client),
	}
}

// Name returns the engine name.
func (e *HTMLEngine) Name() string {
	return e.name
}

// Indexed fetches the result page for site:domain. A non-200 answer counts as not found.
func (e *HTMLEngine) Indexed(ctx context.Context, domain string) (bool, error) {
	queryURL := fmt.Sprintf(e.template, url.QueryEscape("site:"+domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create %s request: %w", e.name, err)
	}
	req.Header.Set("User-Agent", BrowserUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s search request failed: %w", e.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultPageBytes))
	if err != nil {
		return false, fmt.Errorf("failed to read %s result page: %w", e.name, err)
	}
	return MentionsDomain(string(body), domain), nil
}

// MentionsDomain reports whether text contains domain on word boundaries.
func MentionsDomain(text, domain string) bool {
	if domain == "" {
		return false
	}
	pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(domain) + `\b`)
	if err != nil {
		return false
	}
	return pattern.MatchString(text)
}

// IndexedInAll queries every engine concurrently. It reports true only when all
// engines found the domain; an engine error counts as not found.
func IndexedInAll(ctx context.Context, engines []Engine, domain string) (bool, []Probe) {
	probes := make([]Probe, len(engines))
	var g errgroup.Group
	for i, engine := range engines {
		g.Go(func() error {
			found, err := engine.Indexed(ctx, domain)
			probes[i] = Probe{Engine: engine.Name(), Found: found && err == nil, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	all := len(engines) > 0
	for _, p := range probes {
		if !p.Found {
			all = false
		}
	}
	return all, probes
}
