package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/modoterra/logcap/pkg/core"
	"github.com/modoterra/logcap/pkg/transport/httpapi"
	tuimodel "github.com/modoterra/logcap/pkg/tui/model"
)

const levelColumn = "Log Level"

// displayColumns returns the columns printed for stop output. iOS records
// carry a level in JSON that the CSV header omits, so it is shown after PID.
func displayColumns(p core.Platform) []string {
	if p == core.PlatformAndroid {
		return core.AndroidHeader
	}
	cols := make([]string, 0, len(core.IOSHeader)+1)
	for _, h := range core.IOSHeader {
		if h == "Content" {
			cols = append(cols, levelColumn)
		}
		cols = append(cols, h)
	}
	return cols
}

// renderRecords lays out display records as padded columns with the
// severity colored. Content is left unpadded as the last column.
func renderRecords(p core.Platform, records []map[string]string) string {
	cols := displayColumns(p)
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c)
	}
	for _, r := range records {
		for i, c := range cols {
			if n := len(r[c]); n > widths[i] {
				widths[i] = n
			}
		}
	}

	var b strings.Builder
	for i, c := range cols {
		writeCell(&b, c, widths[i], i == len(cols)-1)
	}
	b.WriteByte('\n')
	for n, r := range records {
		for i, c := range cols {
			cell := r[c]
			last := i == len(cols)-1
			if c == levelColumn {
				b.WriteString(tuimodel.LevelStyle(cell).Render(cell))
				b.WriteString(strings.Repeat(" ", widths[i]-len(cell)+2))
				continue
			}
			writeCell(&b, cell, widths[i], last)
		}
		if n < len(records)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func writeCell(b *strings.Builder, s string, width int, last bool) {
	if last {
		b.WriteString(s)
		return
	}
	fmt.Fprintf(b, "%-*s  ", width, s)
}

func renderHealth(h httpapi.HealthResponse) string {
	if len(h.Active) == 0 {
		return "logcapd: running, no active captures"
	}
	platforms := make([]string, 0, len(h.Active))
	for p := range h.Active {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	var b strings.Builder
	b.WriteString("logcapd: running")
	for _, p := range platforms {
		fmt.Fprintf(&b, "\n  %-8s %s", p, h.Active[p])
	}
	return b.String()
}
