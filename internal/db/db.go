// Package db provides PostgreSQL storage for score reports and the processed-URL ledger.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/linkrisk/internal/types"
)

// Schema creates the tables used by the ledger and the report sink.
const Schema = `
CREATE TABLE IF NOT EXISTS processed_urls (
	url       TEXT PRIMARY KEY,
	scored_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS score_reports (
	id           BIGSERIAL PRIMARY KEY,
	run_id       UUID NOT NULL,
	idx          INTEGER NOT NULL,
	url          TEXT NOT NULL,
	total_score  INTEGER NOT NULL,
	tier         TEXT NOT NULL,
	outcomes     JSONB NOT NULL,
	evaluated_at TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (run_id, idx)
);

CREATE INDEX IF NOT EXISTS score_reports_url_idx ON score_reports (url);
`

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates missing tables. It is safe to call on every start.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// ProcessedURLs returns every URL recorded in the ledger table.
func (db *DB) ProcessedURLs(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT url FROM processed_urls`)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed urls: %w", err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan processed urls: %w", err)
	}
	return urls, nil
}

// MarkProcessed records url in the ledger table. Re-marking keeps the first timestamp.
func (db *DB) MarkProcessed(ctx context.Context, url string, scoredAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO processed_urls (url, scored_at) VALUES ($1, $2)
		 ON CONFLICT (url) DO NOTHING`,
		url, scoredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", url, err)
	}
	return nil
}

// SaveReport stores one report of a run. Saving the same run index twice replaces it.
func (db *DB) SaveReport(ctx context.Context, runID uuid.UUID, report *types.ScoreReport) error {
	outcomes, err := json.Marshal(report.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal outcomes: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO score_reports (run_id, idx, url, total_score, tier, outcomes, evaluated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id, idx) DO UPDATE
		 SET url = $3, total_score = $4, tier = $5, outcomes = $6, evaluated_at = $7, created_at = NOW()`,
		runID, report.Index, report.URL, report.TotalScore, report.Tier.String(), outcomes, report.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report for %s: %w", report.URL, err)
	}
	return nil
}

// ListReports returns the reports of a run in input order.
func (db *DB) ListReports(ctx context.Context, runID uuid.UUID) ([]StoredReport, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, run_id, idx, url, total_score, tier, outcomes, evaluated_at, created_at
		 FROM score_reports WHERE run_id = $1 ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []StoredReport
	for rows.Next() {
		var r StoredReport
		var outcomes []byte
		if err := rows.Scan(&r.ID, &r.RunID, &r.Index, &r.URL, &r.TotalScore, &r.Tier,
			&outcomes, &r.EvaluatedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if err := json.Unmarshal(outcomes, &r.Outcomes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal outcomes: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return reports, nil
}

// LatestReport returns the most recently stored report for url, or nil if none exists.
func (db *DB) LatestReport(ctx context.Context, url string) (*StoredReport, error) {
	var r StoredReport
	var outcomes []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, idx, url, total_score, tier, outcomes, evaluated_at, created_at
		 FROM score_reports WHERE url = $1 ORDER BY evaluated_at DESC LIMIT 1`,
		url,
	).Scan(&r.ID, &r.RunID, &r.Index, &r.URL, &r.TotalScore, &r.Tier, &outcomes, &r.EvaluatedAt, &r.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest report for %s: %w", url, err)
	}
	if err := json.Unmarshal(outcomes, &r.Outcomes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcomes: %w", err)
	}
	return &r, nil
}
