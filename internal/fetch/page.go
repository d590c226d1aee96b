package fetch

import (
	"context"
	"sync"
	"sync/atomic"
)

// Getter performs a single page fetch. *Fetcher implements it.
type Getter interface {
	Fetch(ctx context.Context, urlStr string) *Result
}

// Page is the fetch-once cache for one URL's evaluation. The first Get starts
// the fetch; every caller shares the same *Result. The fetch runs under the
// context given to NewPage so an impatient caller cannot cancel it for others.
type Page struct {
	getter  Getter
	url     string
	ctx     context.Context
	once    sync.Once
	done    chan struct{}
	result  *Result
	started atomic.Bool
}

// NewPage creates a lazily fetched page bound to the evaluation context ctx.
func NewPage(ctx context.Context, getter Getter, urlStr string) *Page {
	return &Page{
		getter: getter,
		url:    urlStr,
		ctx:    ctx,
		done:   make(chan struct{}),
	}
}

// URL returns the URL the page fetches.
func (p *Page) URL() string {
	return p.url
}

// Get returns the shared fetch result, starting the fetch if needed.
// If ctx ends first, a Result carrying the context error is returned instead.
func (p *Page) Get(ctx context.Context) *Result {
	p.once.Do(func() {
		p.started.Store(true)
		go func() {
			p.result = p.getter.Fetch(p.ctx, p.url)
			close(p.done)
		}()
	})

	select {
	case <-p.done:
		return p.result
	case <-ctx.Done():
		return &Result{
			RequestURL: p.url,
			Err:        &Error{URL: p.url, Message: "fetch abandoned", Cause: ctx.Err()},
		}
	}
}

// Started reports whether a fetch was ever triggered for this page.
func (p *Page) Started() bool {
	return p.started.Load()
}
