// Package ledger records which URLs have already been scored so repeated runs
// can skip them. Entries are keyed by the exact URL string and never expire.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Store is an append-only set of processed URLs.
type Store interface {
	// Load returns every URL recorded so far.
	Load(ctx context.Context) (map[string]struct{}, error)
	// Append records url as processed.
	Append(ctx context.Context, url string) error
	Close() error
}

// Open picks a store by DSN: "postgres://" or "postgresql://" for Postgres,
// "sqlite:" for a SQLite file, "memory:" for an in-process set, and a file path otherwise.
func Open(ctx context.Context, dsn string) (Store, error) {
	var (
		store Store
		err   error
	)
	switch {
	case dsn == "":
		return nil, fmt.Errorf("ledger DSN is empty")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		store, err = OpenPostgres(ctx, dsn)
	case strings.HasPrefix(dsn, "sqlite:"):
		store, err = OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite:"))
	case dsn == "memory:":
		store = NewMemory()
	default:
		store, err = OpenFile(dsn)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Memory is an in-process store.
type Memory struct {
	mu   sync.Mutex
	urls map[string]time.Time
}

// NewMemory returns an empty in-process store seeded with urls.
func NewMemory(urls ...string) *Memory {
	m := &Memory{urls: make(map[string]time.Time, len(urls))}
	for _, u := range urls {
		m.urls[u] = time.Now()
	}
	return m
}

func (m *Memory) Load(context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(m.urls))
	for u := range m.urls {
		set[u] = struct{}{}
	}
	return set, nil
}

func (m *Memory) Append(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.urls[url]; !ok {
		m.urls[url] = time.Now()
	}
	return nil
}

// Len returns the number of recorded URLs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.urls)
}

func (m *Memory) Close() error { return nil }
