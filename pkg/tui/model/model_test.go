package model

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

const androidCSV = "Month,Day,Hour,Min,Sec,Milsec,PID,TID,Log Level,Component,Content\r\n" +
	"01,15,10,23,45,123,1234,5678,E,ActivityManager,boom\r\n" +
	"01,15,10,23,46,000,1234,5678,I,ActivityManager,fine\r\n" +
	"01,15,10,23,47,000,1234,5678,W,Zygote,\"slow, very slow\"\r\n"

func loadAndroid(t *testing.T) Table {
	t.Helper()
	tbl, err := ParseCSV(strings.NewReader(androidCSV))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tbl
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestParseCSV(t *testing.T) {
	tbl := loadAndroid(t)
	if len(tbl.Header) != 11 || len(tbl.Rows) != 3 {
		t.Fatalf("got %d columns and %d rows", len(tbl.Header), len(tbl.Rows))
	}
	if got := tbl.Rows[2][10]; got != "slow, very slow" {
		t.Errorf("quoted cell = %q", got)
	}
	if tbl.LevelIndex() != 8 {
		t.Errorf("LevelIndex = %d, want 8", tbl.LevelIndex())
	}

	if _, err := ParseCSV(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestCounts(t *testing.T) {
	counts := loadAndroid(t).Counts()
	if counts["E"] != 1 || counts["I"] != 1 || counts["W"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	ios := Table{Header: []string{"Month", "Content"}, Rows: [][]string{{"Jan", "x"}}}
	if n := len(ios.Counts()); n != 0 {
		t.Errorf("table without severity column counted %d levels", n)
	}
}

func TestFilterRows(t *testing.T) {
	tbl := loadAndroid(t)
	tests := []struct {
		name   string
		query  string
		levels []string
		want   int
	}{
		{"all", "", nil, 3},
		{"display levels", "", []string{"F", "E", "W"}, 2},
		{"no levels", "", []string{}, 0},
		{"search", "zygote", nil, 1},
		{"search and levels", "activitymanager", []string{"E"}, 1},
		{"no match", "kernel", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filterRows(tbl, tt.query, tt.levels); len(got) != tt.want {
				t.Errorf("got %d rows, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs_structured_x.csv")
	if err := os.WriteFile(path, []byte(androidCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl, err := FileLoader(path)(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(tbl.Rows) != 3 {
		t.Errorf("got %d rows, want 3", len(tbl.Rows))
	}

	if _, err := FileLoader(filepath.Join(t.TempDir(), "missing.csv"))(context.Background()); err == nil {
		t.Error("expected error for missing file")
	}
}

func newLoadedApp(t *testing.T) App {
	t.Helper()
	a := New("test", nil, []string{"F", "E", "W"})
	m, _ := a.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	m, _ = m.Update(loadedMsg{loadAndroid(t)})
	return m.(App)
}

func TestAppSeverityToggle(t *testing.T) {
	a := newLoadedApp(t)
	if len(a.visible) != 3 {
		t.Fatalf("visible = %d, want 3", len(a.visible))
	}

	m, _ := a.Update(key("f"))
	a = m.(App)
	if len(a.visible) != 2 {
		t.Errorf("after toggle: visible = %d, want 2", len(a.visible))
	}

	m, _ = a.Update(key("f"))
	a = m.(App)
	if len(a.visible) != 3 {
		t.Errorf("after second toggle: visible = %d, want 3", len(a.visible))
	}
}

func TestAppSeverityToggleWithoutColumn(t *testing.T) {
	a := New("ios", nil, []string{"Error"})
	m, _ := a.Update(tea.WindowSizeMsg{Width: 80, Height: 20})
	m, _ = m.Update(loadedMsg{Table{Header: []string{"Month", "Content"}, Rows: [][]string{{"Jan", "x"}}}})
	m, _ = m.Update(key("f"))
	a = m.(App)
	if a.onlyDisplay {
		t.Error("toggle should be refused without a severity column")
	}
	if len(a.visible) != 1 {
		t.Errorf("visible = %d, want 1", len(a.visible))
	}
}

func TestAppSearch(t *testing.T) {
	a := newLoadedApp(t)

	m, _ := a.Update(key("/"))
	a = m.(App)
	if a.mode != ModeSearch {
		t.Fatalf("mode = %v, want search", a.mode)
	}
	for _, r := range "boom" {
		m, _ = a.Update(key(string(r)))
		a = m.(App)
	}
	if len(a.visible) != 1 {
		t.Errorf("visible = %d, want 1", len(a.visible))
	}

	m, _ = a.Update(key("esc"))
	a = m.(App)
	if a.mode != ModeNormal || len(a.visible) != 3 {
		t.Errorf("esc should clear search: mode %v, visible %d", a.mode, len(a.visible))
	}
}

func TestAppDetail(t *testing.T) {
	a := newLoadedApp(t)

	m, _ := a.Update(key("enter"))
	a = m.(App)
	if a.mode != ModeDetail {
		t.Fatalf("mode = %v, want detail", a.mode)
	}
	if view := a.View(); !strings.Contains(view, "ActivityManager") || !strings.Contains(view, "boom") {
		t.Errorf("detail view missing record fields:\n%s", view)
	}

	m, _ = a.Update(key("esc"))
	if m.(App).mode != ModeNormal {
		t.Error("esc should leave detail mode")
	}
}

func TestAppLoadError(t *testing.T) {
	a := New("broken", FileLoader("/nonexistent/logs.csv"), nil)
	msg := loadCmd(a.load)()
	m, _ := a.Update(msg)
	if got := m.(App).statusMsg; !strings.HasPrefix(got, "error:") {
		t.Errorf("statusMsg = %q", got)
	}
}

func TestColumnsFor(t *testing.T) {
	cols := columnsFor(loadAndroid(t).Header, 160)
	if len(cols) != 11 {
		t.Fatalf("got %d columns", len(cols))
	}
	if cols[len(cols)-1].Title != "Content" || cols[len(cols)-1].Width < 20 {
		t.Errorf("last column = %+v", cols[len(cols)-1])
	}
}
