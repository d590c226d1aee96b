// Package extraction pulls candidate URLs out of free text, message exports and URL lists.
package extraction

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// DefaultColumn is the message body column of exported conversations.
const DefaultColumn = "CONTENT"

// ErrColumnNotFound is returned when a CSV export lacks the requested column.
var ErrColumnNotFound = errors.New("column not found")

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// FromText returns every http(s) URL in text, in order of appearance, duplicates included.
func FromText(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// FromCSV reads a CSV export with a header row and extracts URLs from column
// (DefaultColumn when empty), flattened in row order. The header match ignores case
// and surrounding spaces.
func FromCSV(r io.Reader, column string) ([]string, error) {
	if column == "" {
		column = DefaultColumn
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s (empty input)", ErrColumnNotFound, column)
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), column) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}

	var urls []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		if col >= len(row) {
			continue
		}
		urls = append(urls, FromText(row[col])...)
	}
	return urls, nil
}

// FromCSVFile opens path and calls FromCSV.
func FromCSVFile(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return FromCSV(f, column)
}

// ReadList reads one candidate per line. Blank lines and lines starting with
// "#" are ignored; candidates are kept verbatim apart from line endings.
func ReadList(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list: %w", err)
	}
	return urls, nil
}

// ReadListFile opens path and calls ReadList. "-" reads stdin.
func ReadListFile(path string) ([]string, error) {
	if path == "-" {
		return ReadList(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadList(f)
}
