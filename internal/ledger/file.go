package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var fileHeader = []string{"url", "scored_at"}

// FileStore is a CSV ledger with one "url,scored_at" row per processed URL.
// The file is created with a header on first use.
type FileStore struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
	now  func() time.Time
}

// OpenFile opens or creates the ledger file at path for appending.
func OpenFile(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat ledger %s: %w", path, err)
	}

	s := &FileStore{path: path, file: f, w: csv.NewWriter(f), now: time.Now}
	if info.Size() == 0 {
		if err := s.writeRow(fileHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// Load reads every URL in the file. A missing header is tolerated.
func (s *FileStore) Load(context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	set := make(map[string]struct{})
	first := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger %s: %w", s.path, err)
		}
		if first {
			first = false
			if len(row) > 0 && row[0] == fileHeader[0] {
				continue
			}
		}
		if len(row) == 0 || row[0] == "" {
			continue
		}
		set[row[0]] = struct{}{}
	}
	return set, nil
}

// Append writes one row and flushes it to disk.
func (s *FileStore) Append(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRow([]string{url, s.now().UTC().Format(time.RFC3339)})
}

func (s *FileStore) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("failed to write ledger %s: %w", s.path, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("failed to flush ledger %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
