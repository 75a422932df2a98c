// Package parser turns raw device log lines into structured records.
package parser

import (
	"fmt"
	"slices"
	"strings"

	"github.com/modoterra/logcap/pkg/core"
)

// Grammar matches one platform's raw log line format.
type Grammar interface {
	Platform() core.Platform

	// Header returns the structured artifact column names.
	Header() []string

	// Parse returns the record for line, or false if the line does not
	// match. A mismatch is never an error.
	Parse(line string) (core.Record, bool)
}

// ForPlatform returns the grammar for p.
func ForPlatform(p core.Platform) (Grammar, error) {
	switch p {
	case core.PlatformAndroid:
		return Android{}, nil
	case core.PlatformIOS:
		return IOS{}, nil
	default:
		return nil, fmt.Errorf("no grammar for platform %q", p)
	}
}

// DefaultLevels returns the display filter levels used when none are
// configured.
func DefaultLevels(p core.Platform) []string {
	switch p {
	case core.PlatformIOS:
		return []string{"Fault", "Error", "Warning"}
	default:
		return []string{"F", "E", "W"}
	}
}

// Filter returns the records whose level is in levels, preserving order.
func Filter(records []core.Record, levels []string) []core.Record {
	out := make([]core.Record, 0, len(records))
	for _, r := range records {
		if slices.Contains(levels, r.LogLevel()) {
			out = append(out, r)
		}
	}
	return out
}

func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}
