// Package structured converts raw capture artifacts into CSV tables.
package structured

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/modoterra/logcap/pkg/core"
	"github.com/modoterra/logcap/pkg/parser"
)

// ErrNotFound is returned when the raw artifact does not exist.
var ErrNotFound = errors.New("raw log not found")

// Result is the outcome of one parse run.
type Result struct {
	// Records holds the matched records, filtered when requested.
	Records []core.Record
	Matched int
	Skipped int
}

// Writer parses raw artifacts with a platform grammar and persists the
// structured table.
type Writer struct {
	grammar parser.Grammar
	levels  func() []string
	logger  *slog.Logger
}

// NewWriter creates a writer. levels is consulted on every filtered parse
// so display levels can change while the daemon runs.
func NewWriter(g parser.Grammar, levels func() []string, logger *slog.Logger) *Writer {
	if levels == nil {
		defaults := parser.DefaultLevels(g.Platform())
		levels = func() []string { return defaults }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{grammar: g, levels: levels, logger: logger}
}

// Parse reads rawPath line by line, writes every matched record to
// structuredPath (created or truncated, header first) and returns the
// records. With filterForDisplay the returned list keeps only the display
// levels; the CSV always holds all matches.
func (w *Writer) Parse(rawPath, structuredPath string, filterForDisplay bool) (Result, error) {
	raw, err := os.Open(rawPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, fmt.Errorf("%w: %s", ErrNotFound, rawPath)
		}
		return Result{}, fmt.Errorf("open raw log: %w", err)
	}
	defer raw.Close()

	if err := os.MkdirAll(filepath.Dir(structuredPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("create structured dir: %w", err)
	}
	out, err := os.Create(structuredPath)
	if err != nil {
		return Result{}, fmt.Errorf("create structured log: %w", err)
	}
	defer out.Close()

	res, err := w.convert(raw, out)
	if err != nil {
		return Result{}, err
	}
	if err := out.Close(); err != nil {
		return Result{}, fmt.Errorf("close structured log: %w", err)
	}

	w.logger.Info("structured log written",
		"platform", w.grammar.Platform(),
		"path", structuredPath,
		"matched", res.Matched,
		"skipped", res.Skipped,
	)

	if filterForDisplay {
		res.Records = parser.Filter(res.Records, w.levels())
	}
	return res, nil
}

func (w *Writer) convert(r io.Reader, out io.Writer) (Result, error) {
	cw := csv.NewWriter(out)
	cw.UseCRLF = true
	if err := cw.Write(w.grammar.Header()); err != nil {
		return Result{}, fmt.Errorf("write header: %w", err)
	}

	res := Result{Records: []core.Record{}}
	reader := bufio.NewReader(r)
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			if rec, ok := w.grammar.Parse(line); ok {
				res.Records = append(res.Records, rec)
				res.Matched++
				if err := cw.Write(rec.Row()); err != nil {
					return Result{}, fmt.Errorf("write row: %w", err)
				}
			} else {
				res.Skipped++
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{}, fmt.Errorf("read raw log: %w", readErr)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return Result{}, fmt.Errorf("flush structured log: %w", err)
	}
	return res, nil
}
