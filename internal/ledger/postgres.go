package ledger

import (
	"context"
	"time"

	"github.com/jonathan/linkrisk/internal/db"
)

// PostgresStore keeps the ledger in the processed_urls table.
type PostgresStore struct {
	db    *db.DB
	owned bool
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	conn, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := conn.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &PostgresStore{db: conn, owned: true}, nil
}

// NewPostgres wraps an existing connection. Close leaves it open.
func NewPostgres(conn *db.DB) *PostgresStore {
	return &PostgresStore{db: conn}
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]struct{}, error) {
	urls, err := s.db.ProcessedURLs(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	return set, nil
}

func (s *PostgresStore) Append(ctx context.Context, url string) error {
	return s.db.MarkProcessed(ctx, url, time.Now())
}

func (s *PostgresStore) Close() error {
	if s.owned {
		s.db.Close()
	}
	return nil
}
