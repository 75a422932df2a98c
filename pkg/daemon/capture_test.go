package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modoterra/logcap/pkg/core"
	"github.com/modoterra/logcap/pkg/parser"
	"github.com/modoterra/logcap/pkg/providers/device"
	"github.com/modoterra/logcap/pkg/structured"
)

const (
	androidError = "01-15 10:23:45.123  1234  5678 E ActivityManager: boom"
	androidInfo  = "01-15 10:23:46.000  1234  5678 I ActivityManager: fine"
	iosError     = "Jan 15 10:23:45 iPhone SpringBoard[123] <Error>: boom"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, src device.Source, stopTimeout time.Duration) (*Controller, *Registry) {
	t.Helper()
	dir := t.TempDir()
	reg := NewRegistry(filepath.Join(dir, "raw"), filepath.Join(dir, "structured"), "", quietLogger())
	g, err := parser.ForPlatform(src.Platform)
	if err != nil {
		t.Fatal(err)
	}
	w := structured.NewWriter(g, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	c := NewController(ctx, src, NewSlot(), reg, w, stopTimeout, quietLogger())
	t.Cleanup(func() {
		c.Shutdown()
		cancel()
	})
	return c, reg
}

func shSource(p core.Platform, script string) device.Source {
	return device.Source{Platform: p, Command: []string{"sh", "-c", script}}
}

// waitLines blocks until the running capture has buffered n lines.
func waitLines(t *testing.T, c *Controller, n int) {
	t.Helper()
	cp := c.slot.get()
	if cp == nil {
		t.Fatal("no running capture")
	}
	deadline := time.Now().Add(5 * time.Second)
	for cp.buffer.Lines() < n {
		if time.Now().After(deadline) {
			t.Fatalf("buffered %d lines, want %d", cp.buffer.Lines(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartStopAndroid(t *testing.T) {
	script := "printf '%s\\n' '" + androidError + "' '" + androidInfo + "' 'noise'; exec sleep 30"
	c, reg := newTestController(t, shSource(core.PlatformAndroid, script), time.Second)

	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !res.Started || res.Session.ID == "" {
		t.Fatalf("start = %+v", res)
	}
	if !reg.IsActive(res.Session.ID) {
		t.Error("session should be active after start")
	}
	waitLines(t, c, 3)

	out, err := c.Stop(context.Background(), res.Session.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if out.Matched != 2 || out.Skipped != 1 {
		t.Errorf("matched/skipped = %d/%d, want 2/1", out.Matched, out.Skipped)
	}
	if len(out.Records) != 1 || out.Records[0].LogLevel() != "E" {
		t.Errorf("records = %+v, want the single E line", out.Records)
	}

	raw, err := os.ReadFile(res.Session.RawPath)
	if err != nil {
		t.Fatalf("raw log: %v", err)
	}
	if want := androidError + "\n" + androidInfo + "\nnoise\n"; string(raw) != want {
		t.Errorf("raw log = %q, want %q", raw, want)
	}

	csv, err := os.ReadFile(res.Session.StructuredPath)
	if err != nil {
		t.Fatalf("structured log: %v", err)
	}
	if lines := strings.Split(strings.TrimRight(string(csv), "\r\n"), "\r\n"); len(lines) != 3 {
		t.Errorf("csv has %d lines, want header + 2 rows: %q", len(lines), csv)
	}

	if reg.IsActive(res.Session.ID) {
		t.Error("session still active after stop")
	}
	if _, ok := reg.Lookup(res.Session.ID); !ok {
		t.Error("session should stay saved after stop")
	}
	if _, ok := c.Active(); ok {
		t.Error("slot should be empty after stop")
	}
}

func TestStartWhileBusyReturnsExisting(t *testing.T) {
	c, reg := newTestController(t, shSource(core.PlatformAndroid, "exec sleep 30"), time.Second)

	first, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.Started {
		t.Error("second start should not spawn")
	}
	if second.Session.ID != first.Session.ID {
		t.Errorf("got session %q, want existing %q", second.Session.ID, first.Session.ID)
	}
	if n := len(reg.AllSaved()); n != 1 {
		t.Errorf("saved sessions = %d, want 1", n)
	}
}

func TestConcurrentStartSpawnsOnce(t *testing.T) {
	count := filepath.Join(t.TempDir(), "spawns")
	c, _ := newTestController(t, shSource(core.PlatformAndroid, "echo x >> '"+count+"'; exec sleep 30"), time.Second)

	const n = 8
	results := make([]StartResult, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Start(context.Background())
			if err != nil {
				t.Errorf("start: %v", err)
			}
			results[i] = res
		}()
	}
	wg.Wait()

	started := 0
	for _, r := range results {
		if r.Started {
			started++
		}
		if r.Session.ID != results[0].Session.ID {
			t.Errorf("session %q differs from %q", r.Session.ID, results[0].Session.ID)
		}
	}
	if started != 1 {
		t.Errorf("started = %d, want 1", started)
	}

	if _, err := c.Stop(context.Background(), results[0].Session.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	data, err := os.ReadFile(count)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "x"); got != 1 {
		t.Errorf("process spawned %d times, want 1", got)
	}
}

func TestStopInvalidSession(t *testing.T) {
	c, _ := newTestController(t, shSource(core.PlatformAndroid, "exec sleep 30"), time.Second)

	if _, err := c.Stop(context.Background(), "missing"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("idle stop: got %v, want ErrInvalidSession", err)
	}

	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.Stop(context.Background(), "other"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("wrong id: got %v, want ErrInvalidSession", err)
	}
	if s, ok := c.Active(); !ok || s.ID != res.Session.ID {
		t.Error("capture should keep running after a stop with the wrong id")
	}
}

func TestStopWithoutOutput(t *testing.T) {
	c, _ := newTestController(t, shSource(core.PlatformIOS, "exec sleep 30"), time.Second)

	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err := c.Stop(context.Background(), res.Session.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if out.Records == nil || len(out.Records) != 0 {
		t.Errorf("records = %#v, want empty non-nil", out.Records)
	}

	csv, err := os.ReadFile(res.Session.StructuredPath)
	if err != nil {
		t.Fatal(err)
	}
	if want := strings.Join(core.IOSHeader, ",") + "\r\n"; string(csv) != want {
		t.Errorf("got %q, want %q", csv, want)
	}
}

func TestStopKillsAfterTimeout(t *testing.T) {
	script := "trap '' TERM; while :; do sleep 1; done"
	c, _ := newTestController(t, shSource(core.PlatformAndroid, script), 200*time.Millisecond)

	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	began := time.Now()
	if _, err := c.Stop(context.Background(), res.Session.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	elapsed := time.Since(began)
	if elapsed < 200*time.Millisecond {
		t.Errorf("stop returned after %s, before the SIGTERM timeout", elapsed)
	}
	if elapsed > 5*time.Second {
		t.Errorf("stop took %s, SIGKILL fallback not applied", elapsed)
	}
	if _, err := os.Stat(res.Session.RawPath); err != nil {
		t.Errorf("raw log not flushed: %v", err)
	}
}

func TestStopAfterSessionExpired(t *testing.T) {
	script := "printf '%s\\n' '" + androidError + "'; exec sleep 30"
	c, reg := newTestController(t, shSource(core.PlatformAndroid, script), time.Second)
	sweeper := NewSweeper(reg, time.Minute, nil, quietLogger())

	first, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitLines(t, c, 1)

	if n := sweeper.Sweep(time.Now().Add(61 * time.Minute)); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}

	again, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if again.Started || again.Session.ID != first.Session.ID {
		t.Errorf("second start = %+v, want the running session", again)
	}

	res, err := c.Stop(context.Background(), first.Session.ID)
	if err != nil {
		t.Fatalf("stop after expiry: %v", err)
	}
	if len(res.Records) != 1 {
		t.Errorf("got %d records, want 1", len(res.Records))
	}
	if _, ok := c.Active(); ok {
		t.Error("slot still occupied after stop")
	}
	if _, ok := reg.Lookup(first.Session.ID); !ok {
		t.Error("stopped session not saved again for the next sweep")
	}

	next, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start after stop: %v", err)
	}
	if !next.Started || next.Session.ID == first.Session.ID {
		t.Errorf("start after stop = %+v, want a new capture", next)
	}
}

func TestActiveDuringSlowStop(t *testing.T) {
	script := "trap '' TERM; while :; do sleep 1; done"
	c, _ := newTestController(t, shSource(core.PlatformAndroid, script), 2*time.Second)

	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		_, err := c.Stop(context.Background(), res.Session.ID)
		stopped <- err
	}()
	time.Sleep(200 * time.Millisecond)

	active := make(chan bool, 1)
	go func() {
		_, ok := c.Active()
		active <- ok
	}()
	select {
	case ok := <-active:
		if !ok {
			t.Error("capture reported idle before stop finished")
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("Active blocked while stop was waiting on the process")
	}

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("stop: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("stop did not return")
	}
	if _, ok := c.Active(); ok {
		t.Error("slot still occupied after stop")
	}
}

func TestStartSpawnFailure(t *testing.T) {
	src := device.Source{Platform: core.PlatformAndroid, Command: []string{filepath.Join(t.TempDir(), "no-such-bridge")}}
	c, reg := newTestController(t, src, time.Second)

	_, err := c.Start(context.Background())
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("got %v, want ErrSpawn", err)
	}
	if n := len(reg.AllSaved()); n != 0 {
		t.Errorf("saved sessions = %d, want 0", n)
	}
	if _, ok := c.Active(); ok {
		t.Error("slot should stay empty after spawn failure")
	}
}

func TestIOSWindowEndsCapture(t *testing.T) {
	src := shSource(core.PlatformIOS, "printf '%s\\n' '"+iosError+"'; exec sleep 30")
	src.Window = 200 * time.Millisecond
	c, _ := newTestController(t, src, time.Second)

	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cp := c.slot.get()
	select {
	case <-cp.exited:
	case <-time.After(5 * time.Second):
		t.Fatal("capture window did not end the process")
	}

	if s, ok := c.Active(); !ok || s.ID != res.Session.ID {
		t.Error("slot should stay occupied until stop")
	}

	out, err := c.Stop(context.Background(), res.Session.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(out.Records) != 1 || out.Records[0].LogLevel() != "Error" {
		t.Errorf("records = %+v", out.Records)
	}
}

func TestShutdownFlushes(t *testing.T) {
	c, reg := newTestController(t, shSource(core.PlatformAndroid, "echo hello; exec sleep 30"), time.Second)

	res, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitLines(t, c, 1)
	c.Shutdown()

	raw, err := os.ReadFile(res.Session.RawPath)
	if err != nil {
		t.Fatalf("raw log: %v", err)
	}
	if string(raw) != "hello\n" {
		t.Errorf("got %q, want %q", raw, "hello\n")
	}
	if reg.IsActive(res.Session.ID) {
		t.Error("session active after shutdown")
	}
	if _, ok := reg.Lookup(res.Session.ID); !ok {
		t.Error("session should stay saved after shutdown")
	}
}
