package search

import (
	"context"
	"fmt"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// CustomSearchEngine answers site: queries through the Google Custom Search JSON API.
// It replaces the scraped Google engine when an API key and engine ID are configured.
type CustomSearchEngine struct {
	svc *customsearch.Service
	cx  string
}

// NewCustomSearchEngine creates the API-backed engine.
func NewCustomSearchEngine(ctx context.Context, apiKey, cx string, opts ...option.ClientOption) (*CustomSearchEngine, error) {
	if cx == "" {
		return nil, fmt.Errorf("custom search engine ID is empty")
	}
	if apiKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	}
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &CustomSearchEngine{svc: svc, cx: cx}, nil
}

// Name returns the engine name.
func (e *CustomSearchEngine) Name() string {
	return "google"
}

// Indexed runs site:domain and looks for the domain among the returned links.
func (e *CustomSearchEngine) Indexed(ctx context.Context, domain string) (bool, error) {
	resp, err := e.svc.Cse.List().Cx(e.cx).Q("site:" + domain).Num(3).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("custom search failed: %w", err)
	}
	for _, item := range resp.Items {
		if MentionsDomain(item.DisplayLink, domain) || MentionsDomain(item.Link, domain) {
			return true, nil
		}
	}
	return false, nil
}

// WithCustomSearch swaps the engine named "google" for the API-backed one.
func WithCustomSearch(engines []Engine, cse *CustomSearchEngine) []Engine {
	out := make([]Engine, 0, len(engines))
	for _, e := range engines {
		if e.Name() == cse.Name() {
			out = append(out, cse)
			continue
		}
		out = append(out, e)
	}
	return out
}
