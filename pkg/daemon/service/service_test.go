package service

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/coreos/go-systemd/v22/dbus"
)

type fakeSystemd struct {
	reloads  int
	enabled  []string
	disabled []string
	started  []string
	stopped  []string
	units    []dbus.UnitStatus
	result   string
}

func (f *fakeSystemd) ReloadContext(context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeSystemd) EnableUnitFilesContext(_ context.Context, files []string, _, _ bool) (bool, []dbus.EnableUnitFileChange, error) {
	f.enabled = append(f.enabled, files...)
	return true, nil, nil
}

func (f *fakeSystemd) DisableUnitFilesContext(_ context.Context, files []string, _ bool) ([]dbus.DisableUnitFileChange, error) {
	f.disabled = append(f.disabled, files...)
	return nil, nil
}

func (f *fakeSystemd) StartUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	f.started = append(f.started, name)
	ch <- f.jobResult()
	return 1, nil
}

func (f *fakeSystemd) StopUnitContext(_ context.Context, name, _ string, ch chan<- string) (int, error) {
	f.stopped = append(f.stopped, name)
	ch <- f.jobResult()
	return 2, nil
}

func (f *fakeSystemd) ListUnitsByNamesContext(context.Context, []string) ([]dbus.UnitStatus, error) {
	return f.units, nil
}

func (f *fakeSystemd) Close() {}

func (f *fakeSystemd) jobResult() string {
	if f.result == "" {
		return "done"
	}
	return f.result
}

func TestUnitContents(t *testing.T) {
	got := UnitContents(Options{Binary: "/usr/local/bin/logcapd", ConfigPath: "/etc/logcap.yaml"})

	for _, want := range []string{
		"ExecStart=/usr/local/bin/logcapd --config /etc/logcap.yaml\n",
		"Type=notify",
		"Restart=on-failure",
		"[Install]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("unit file missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, SocketUnit) {
		t.Error("unit without socket activation references the socket unit")
	}
}

func TestUnitContentsSocketActivated(t *testing.T) {
	got := UnitContents(Options{Binary: "/usr/bin/logcapd", SocketListen: "8080"})
	if !strings.Contains(got, "ExecStart=/usr/bin/logcapd --listen systemd") {
		t.Errorf("ExecStart should select the activated socket:\n%s", got)
	}
	if !strings.Contains(got, "Requires="+SocketUnit) {
		t.Errorf("service should require the socket unit:\n%s", got)
	}

	sock := SocketContents("8080")
	if !strings.Contains(sock, "ListenStream=8080") {
		t.Errorf("socket unit missing ListenStream:\n%s", sock)
	}
}

func TestUnitDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err := UnitDir()
	if err != nil {
		t.Fatalf("UnitDir() error: %v", err)
	}
	if dir != "/tmp/xdg/systemd/user" {
		t.Errorf("UnitDir() = %q", dir)
	}
}

func TestInstallUninstall(t *testing.T) {
	dir := t.TempDir()
	fake := &fakeSystemd{}
	m := &Manager{conn: fake, dir: dir}
	ctx := context.Background()

	if err := m.Install(ctx, Options{Binary: "/opt/logcapd", SocketListen: "%t/logcapd.sock"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	for _, unit := range []string{ServiceUnit, SocketUnit} {
		if _, err := os.Stat(filepath.Join(dir, unit)); err != nil {
			t.Errorf("%s not written: %v", unit, err)
		}
	}
	if fake.reloads != 1 {
		t.Errorf("reloads = %d, want 1", fake.reloads)
	}
	if len(fake.enabled) != 2 {
		t.Errorf("enabled = %v", fake.enabled)
	}
	if !slices.Equal(fake.started, []string{SocketUnit}) {
		t.Errorf("started = %v, want the socket unit", fake.started)
	}

	if err := m.Uninstall(ctx); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if !slices.Equal(fake.stopped, []string{SocketUnit, ServiceUnit}) {
		t.Errorf("stopped = %v", fake.stopped)
	}
	if !slices.Equal(fake.disabled, []string{SocketUnit, ServiceUnit}) {
		t.Errorf("disabled = %v", fake.disabled)
	}
	for _, unit := range []string{ServiceUnit, SocketUnit} {
		if _, err := os.Stat(filepath.Join(dir, unit)); !os.IsNotExist(err) {
			t.Errorf("%s still present", unit)
		}
	}
}

func TestInstallJobFailure(t *testing.T) {
	fake := &fakeSystemd{result: "failed"}
	m := &Manager{conn: fake, dir: t.TempDir()}

	err := m.Install(context.Background(), Options{Binary: "/opt/logcapd"})
	if err == nil || !strings.Contains(err.Error(), "failed") {
		t.Errorf("got %v, want job failure", err)
	}
}

func TestStatus(t *testing.T) {
	fake := &fakeSystemd{units: []dbus.UnitStatus{
		{Name: ServiceUnit, LoadState: "loaded", ActiveState: "active", SubState: "running"},
		{Name: SocketUnit, LoadState: "not-found", ActiveState: "inactive", SubState: "dead"},
	}}
	m := &Manager{conn: fake, dir: t.TempDir()}

	got, err := m.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := "logcapd.service: active (running)\nlogcapd.socket: not installed"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
