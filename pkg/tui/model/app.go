// Package model is the Bubble Tea viewer for structured capture tables.
package model

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
	ModeDetail
)

// App is the root Bubble Tea model.
type App struct {
	title  string
	load   Loader
	levels []string

	data        Table
	visible     [][]string
	onlyDisplay bool
	loaded      bool

	mode   Mode
	search textinput.Model
	table  table.Model
	width  int
	height int

	statusMsg string
}

// New creates a viewer for the table returned by load. levels are the
// display levels the severity toggle filters on.
func New(title string, load Loader, levels []string) App {
	si := textinput.New()
	si.Placeholder = "search..."
	si.CharLimit = 64

	t := table.New(table.WithFocused(true))
	t.SetStyles(tableStyles())

	return App{
		title:  title,
		load:   load,
		levels: levels,
		search: si,
		table:  t,
		mode:   ModeNormal,
	}
}

// Init loads the table.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		loadCmd(a.load),
		tea.SetWindowTitle("logcap: "+a.title),
	)
}

// loadedMsg carries a freshly loaded table.
type loadedMsg struct{ table Table }

// errorMsg carries an error to display.
type errorMsg struct{ err error }

func loadCmd(load Loader) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		t, err := load(ctx)
		if err != nil {
			return errorMsg{err}
		}
		return loadedMsg{t}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resize()
		return a, nil

	case loadedMsg:
		a.data = msg.table
		a.loaded = true
		a.statusMsg = fmt.Sprintf("%d records", len(a.data.Rows))
		a.table.SetColumns(columnsFor(a.data.Header, a.width))
		a.refresh()
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.mode {
	case ModeSearch:
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			a.refresh()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			a.refresh()
			return a, cmd
		}

	case ModeDetail:
		switch msg.String() {
		case "esc", "enter", "q":
			a.mode = ModeNormal
		case "ctrl+c":
			return a, tea.Quit
		}
		return a, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "f":
		if a.data.LevelIndex() < 0 {
			a.statusMsg = "no severity column in this table"
			return a, nil
		}
		a.onlyDisplay = !a.onlyDisplay
		a.refresh()
		return a, nil

	case "r":
		a.statusMsg = "reloading..."
		return a, loadCmd(a.load)

	case "enter":
		if len(a.visible) > 0 {
			a.mode = ModeDetail
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

// refresh recomputes the visible rows from the search and severity toggle.
func (a *App) refresh() {
	var levels []string
	if a.onlyDisplay {
		levels = a.levels
		if levels == nil {
			levels = []string{}
		}
	}
	a.visible = filterRows(a.data, a.search.Value(), levels)

	rows := make([]table.Row, len(a.visible))
	for i, r := range a.visible {
		rows[i] = table.Row(padRow(r, len(a.data.Header)))
	}
	a.table.SetRows(rows)
	if a.table.Cursor() >= len(rows) {
		a.table.SetCursor(max(0, len(rows)-1))
	}
}

func (a *App) resize() {
	// title, search line, status bar and table borders
	a.table.SetHeight(max(a.height-6, 3))
	a.table.SetWidth(max(a.width-2, 20))
	if a.loaded {
		a.table.SetColumns(columnsFor(a.data.Header, a.width))
	}
}

// selected returns the highlighted row, or nil.
func (a App) selected() []string {
	c := a.table.Cursor()
	if c < 0 || c >= len(a.visible) {
		return nil
	}
	return a.visible[c]
}

// columnsFor sizes columns to their header, giving the remaining width to
// the last one.
func columnsFor(header []string, width int) []table.Column {
	cols := make([]table.Column, len(header))
	used := 0
	for i, h := range header {
		w := max(len(h), 4)
		switch h {
		case "Component", "Process", "Device":
			w = 18
		}
		cols[i] = table.Column{Title: h, Width: w}
		used += w + 2
	}
	if n := len(cols); n > 0 {
		last := &cols[n-1]
		last.Width = max(width-used+last.Width-4, 20)
	}
	return cols
}

func padRow(r []string, n int) []string {
	if len(r) >= n {
		return r[:n]
	}
	out := make([]string, n)
	copy(out, r)
	return out
}
