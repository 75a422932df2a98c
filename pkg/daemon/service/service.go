// Package service manages the logcapd systemd user units.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

const (
	ServiceUnit = "logcapd.service"
	SocketUnit  = "logcapd.socket"
)

// Options describe the units to install.
type Options struct {
	// Binary is the absolute logcapd path. Empty resolves logcapd on PATH.
	Binary string
	// ConfigPath is passed to logcapd with --config when set.
	ConfigPath string
	// SocketListen enables socket activation on this ListenStream value,
	// e.g. "8080" or "%t/logcapd.sock".
	SocketListen string
}

// UnitContents returns the service unit file contents.
func UnitContents(opts Options) string {
	execStart := opts.Binary
	if opts.ConfigPath != "" {
		execStart += " --config " + opts.ConfigPath
	}
	requires := ""
	if opts.SocketListen != "" {
		execStart += " --listen systemd"
		requires = "Requires=" + SocketUnit + "\nAfter=" + SocketUnit + "\n"
	}

	return fmt.Sprintf(`[Unit]
Description=logcap device log capture daemon
Documentation=https://github.com/modoterra/logcap
%s
[Service]
Type=notify
ExecStart=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, requires, execStart)
}

// SocketContents returns the socket unit file contents for listen.
func SocketContents(listen string) string {
	return fmt.Sprintf(`[Unit]
Description=logcap daemon socket

[Socket]
ListenStream=%s

[Install]
WantedBy=sockets.target
`, listen)
}

// UnitDir returns the systemd user unit directory.
func UnitDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user"), nil
}

// systemd is the part of the D-Bus connection the manager uses.
type systemd interface {
	ReloadContext(ctx context.Context) error
	EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []dbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]dbus.DisableUnitFileChange, error)
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	Close()
}

// Manager installs and controls the units over the user D-Bus session.
type Manager struct {
	conn systemd
	dir  string
}

// Connect opens a connection to the user systemd instance.
func Connect(ctx context.Context) (*Manager, error) {
	dir, err := UnitDir()
	if err != nil {
		return nil, err
	}
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to user systemd: %w", err)
	}
	return &Manager{conn: conn, dir: dir}, nil
}

// Close releases the D-Bus connection.
func (m *Manager) Close() {
	m.conn.Close()
}

// Install writes the unit files, reloads systemd, then enables and starts
// the units.
func (m *Manager) Install(ctx context.Context, opts Options) error {
	if opts.Binary == "" {
		path, err := exec.LookPath("logcapd")
		if err != nil {
			return fmt.Errorf("logcapd not found in PATH: %w", err)
		}
		opts.Binary = path
	}
	bin, err := filepath.Abs(opts.Binary)
	if err != nil {
		return fmt.Errorf("cannot resolve logcapd path: %w", err)
	}
	opts.Binary = bin

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	files := []string{filepath.Join(m.dir, ServiceUnit)}
	if err := os.WriteFile(files[0], []byte(UnitContents(opts)), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}
	start := ServiceUnit
	if opts.SocketListen != "" {
		socketPath := filepath.Join(m.dir, SocketUnit)
		if err := os.WriteFile(socketPath, []byte(SocketContents(opts.SocketListen)), 0o644); err != nil {
			return fmt.Errorf("cannot write socket unit: %w", err)
		}
		files = append(files, socketPath)
		start = SocketUnit
	}

	if err := m.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("reload systemd: %w", err)
	}
	if _, _, err := m.conn.EnableUnitFilesContext(ctx, files, false, true); err != nil {
		return fmt.Errorf("enable units: %w", err)
	}
	return m.job(ctx, m.conn.StartUnitContext, start)
}

// Uninstall stops and disables the units, removes their files and reloads
// systemd.
func (m *Manager) Uninstall(ctx context.Context) error {
	var names []string
	for _, unit := range []string{SocketUnit, ServiceUnit} {
		if _, err := os.Stat(filepath.Join(m.dir, unit)); err != nil {
			continue
		}
		names = append(names, unit)
		// Best effort; the unit may not be running.
		_ = m.job(ctx, m.conn.StopUnitContext, unit)
	}
	if len(names) > 0 {
		if _, err := m.conn.DisableUnitFilesContext(ctx, names, false); err != nil {
			return fmt.Errorf("disable units: %w", err)
		}
	}

	for _, unit := range names {
		if err := os.Remove(filepath.Join(m.dir, unit)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("cannot remove unit file: %w", err)
		}
	}
	if err := m.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("reload systemd: %w", err)
	}
	return nil
}

// Status returns one line per unit with its load and active state.
func (m *Manager) Status(ctx context.Context) (string, error) {
	units, err := m.conn.ListUnitsByNamesContext(ctx, []string{ServiceUnit, SocketUnit})
	if err != nil {
		return "", fmt.Errorf("list units: %w", err)
	}

	var lines []string
	for _, u := range units {
		if u.LoadState == "not-found" {
			lines = append(lines, u.Name+": not installed")
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", u.Name, u.ActiveState, u.SubState))
	}
	return strings.Join(lines, "\n"), nil
}

type jobFunc func(ctx context.Context, name, mode string, ch chan<- string) (int, error)

// job queues a start or stop job and waits for its result.
func (m *Manager) job(ctx context.Context, fn jobFunc, unit string) error {
	ch := make(chan string, 1)
	if _, err := fn(ctx, unit, "replace", ch); err != nil {
		return fmt.Errorf("%s: %w", unit, err)
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("%s: job %s", unit, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
