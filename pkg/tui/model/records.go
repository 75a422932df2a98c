package model

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/modoterra/logcap/pkg/transport/httpapi"
)

// levelColumn is the header of the severity column. iOS tables do not
// carry one.
const levelColumn = "Log Level"

// Table is a structured artifact loaded for viewing.
type Table struct {
	Header []string
	Rows   [][]string
}

// LevelIndex returns the severity column index, or -1.
func (t Table) LevelIndex() int {
	return slices.Index(t.Header, levelColumn)
}

// Counts returns how many rows carry each severity.
func (t Table) Counts() map[string]int {
	idx := t.LevelIndex()
	counts := make(map[string]int)
	if idx < 0 {
		return counts
	}
	for _, row := range t.Rows {
		if idx < len(row) {
			counts[row[idx]]++
		}
	}
	return counts
}

// ParseCSV reads a structured artifact. The first record is the header.
func ParseCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return Table{}, fmt.Errorf("parse csv: missing header")
	}
	return Table{Header: records[0], Rows: records[1:]}, nil
}

// Loader fetches the table to display.
type Loader func(ctx context.Context) (Table, error)

// FileLoader reads a structured artifact from disk.
func FileLoader(path string) Loader {
	return func(context.Context) (Table, error) {
		f, err := os.Open(path)
		if err != nil {
			return Table{}, err
		}
		defer f.Close()
		return ParseCSV(f)
	}
}

// DownloadLoader fetches a session's structured artifact from the daemon.
func DownloadLoader(c *httpapi.Client, sessionID string) Loader {
	return func(ctx context.Context) (Table, error) {
		var buf bytes.Buffer
		if _, err := c.Download(ctx, sessionID, &buf); err != nil {
			return Table{}, err
		}
		return ParseCSV(&buf)
	}
}

// filterRows keeps rows containing query (case-insensitive) and, when
// levels is non-nil, whose severity is in levels.
func filterRows(t Table, query string, levels []string) [][]string {
	q := strings.ToLower(query)
	idx := t.LevelIndex()

	out := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		if levels != nil && idx >= 0 && (idx >= len(row) || !slices.Contains(levels, row[idx])) {
			continue
		}
		if q != "" && !rowContains(row, q) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func rowContains(row []string, q string) bool {
	for _, cell := range row {
		if strings.Contains(strings.ToLower(cell), q) {
			return true
		}
	}
	return false
}
