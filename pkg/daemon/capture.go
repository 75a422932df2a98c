package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/modoterra/logcap/pkg/core"
	"github.com/modoterra/logcap/pkg/providers/device"
	"github.com/modoterra/logcap/pkg/structured"
)

var (
	// ErrInvalidSession is returned by Stop when the id does not name the
	// running capture.
	ErrInvalidSession = errors.New("no active capture for session")

	// ErrSpawn is returned by Start when the bridge command cannot be run.
	ErrSpawn = errors.New("spawn capture process")
)

// DefaultStopTimeout is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopTimeout = 10 * time.Second

// killGrace bounds the wait for the drain task after SIGKILL. Past it the
// stdout pipe is closed so a stray grandchild cannot hold Stop forever.
const killGrace = 2 * time.Second

// StartResult reports the session a Start call resolved to.
type StartResult struct {
	Session core.Session
	Started bool
}

// capture is the handle to one running bridge process.
type capture struct {
	session   core.Session
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	buffer    *CaptureBuffer
	stdout    io.ReadCloser
	drain     conc.WaitGroup
	exited    chan struct{}
	startedAt time.Time
}

// Slot holds at most one running capture. op serializes start and stop
// transitions; mu only guards reads and writes of current, so Session
// never waits on a stop in progress.
type Slot struct {
	op      sync.Mutex
	mu      sync.Mutex
	current *capture
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Session returns the session of the running capture, if any.
func (s *Slot) Session() (core.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return core.Session{}, false
	}
	return s.current.session, true
}

func (s *Slot) get() *capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Slot) set(cp *capture) {
	s.mu.Lock()
	s.current = cp
	s.mu.Unlock()
}

// Controller starts and stops captures for one platform.
type Controller struct {
	source      device.Source
	slot        *Slot
	registry    *Registry
	writer      *structured.Writer
	stopTimeout time.Duration
	ctx         context.Context
	logger      *slog.Logger
}

// NewController creates a controller. Capture processes live under ctx,
// not under the request that started them.
func NewController(ctx context.Context, source device.Source, slot *Slot, registry *Registry, writer *structured.Writer, stopTimeout time.Duration, logger *slog.Logger) *Controller {
	if slot == nil {
		slot = NewSlot()
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		source:      source,
		slot:        slot,
		registry:    registry,
		writer:      writer,
		stopTimeout: stopTimeout,
		ctx:         ctx,
		logger:      logger.With("platform", string(source.Platform)),
	}
}

// Platform returns the platform this controller captures.
func (c *Controller) Platform() core.Platform {
	return c.source.Platform
}

// Active returns the running session, if any.
func (c *Controller) Active() (core.Session, bool) {
	return c.slot.Session()
}

// Start begins a capture. If one is already running its session is
// returned with Started false and nothing new is spawned.
func (c *Controller) Start(ctx context.Context) (StartResult, error) {
	if err := ctx.Err(); err != nil {
		return StartResult{}, err
	}

	c.slot.op.Lock()
	defer c.slot.op.Unlock()

	if cur := c.slot.get(); cur != nil {
		c.logger.Info("capture already running", "session", cur.session.ID)
		return StartResult{Session: cur.session}, nil
	}

	s := c.registry.Create(c.source.Platform)
	cp, err := c.spawn(s)
	if err != nil {
		c.registry.Forget(s.ID)
		return StartResult{}, err
	}
	c.slot.set(cp)
	c.registry.TouchActive(s.ID, cp.startedAt)
	return StartResult{Session: s, Started: true}, nil
}

func (c *Controller) spawn(s core.Session) (*capture, error) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.source.Window > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.source.Window)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}

	cmd, err := c.source.Cmd(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawn, err)
	}
	cmd.Stderr = newLineLogger(c.logger, "capture stderr")

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start %q: %w", ErrSpawn, c.source.Command, err)
	}

	cp := &capture{
		session:   s,
		cmd:       cmd,
		cancel:    cancel,
		buffer:    NewCaptureBuffer(),
		stdout:    stdout,
		exited:    make(chan struct{}),
		startedAt: time.Now(),
	}
	c.logger.Info("capture started", "session", s.ID, "pid", cmd.Process.Pid, "command", c.source.Command)

	cp.drain.Go(func() { c.drain(cp) })
	return cp, nil
}

// drain copies stdout into the buffer until EOF, reaps the process and
// flushes the raw artifact.
func (c *Controller) drain(cp *capture) {
	defer close(cp.exited)

	if err := readLines(cp.stdout, cp.buffer.Write); err != nil && !errors.Is(err, os.ErrClosed) {
		c.logger.Warn("read capture output", "session", cp.session.ID, "err", err)
	}

	err := cp.cmd.Wait()
	exitCode := -1
	if cp.cmd.ProcessState != nil {
		exitCode = cp.cmd.ProcessState.ExitCode()
	}
	c.logger.Info("capture exited", "session", cp.session.ID, "exit_code", exitCode, "lines", cp.buffer.Lines(), "err", err)

	if err := cp.buffer.Flush(cp.session.RawPath); err != nil {
		c.logger.Error("partial write of raw log", "session", cp.session.ID, "path", cp.session.RawPath, "err", err)
	}
}

// Stop terminates the capture named by id and returns its display records.
func (c *Controller) Stop(ctx context.Context, id string) (structured.Result, error) {
	if err := ctx.Err(); err != nil {
		return structured.Result{}, err
	}

	c.slot.op.Lock()
	cp := c.slot.get()
	if cp == nil || cp.session.ID != id || !c.registry.IsActive(id) {
		c.slot.op.Unlock()
		return structured.Result{}, fmt.Errorf("%w: %s", ErrInvalidSession, id)
	}

	c.collect(cp)
	c.slot.set(nil)
	c.registry.Deactivate(id)
	c.slot.op.Unlock()

	if _, ok := c.registry.Lookup(id); !ok {
		c.logger.Info("stopped capture outlived retention", "session", id)
		defer c.registry.Readmit(cp.session)
	}

	if _, err := os.Stat(cp.session.RawPath); errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("raw log missing after stop", "session", id, "path", cp.session.RawPath)
		return structured.Result{Records: []core.Record{}}, nil
	}
	return c.writer.Parse(cp.session.RawPath, cp.session.StructuredPath, true)
}

// Shutdown terminates a running capture and flushes its raw artifact.
// The session stays saved so it still expires through the sweeper.
func (c *Controller) Shutdown() {
	c.slot.op.Lock()
	defer c.slot.op.Unlock()

	cp := c.slot.get()
	if cp == nil {
		return
	}
	c.collect(cp)
	c.slot.set(nil)
	c.registry.Deactivate(cp.session.ID)
}

// collect terminates the process and waits for the drain task.
func (c *Controller) collect(cp *capture) {
	c.terminate(cp)
	if r := cp.drain.WaitAndRecover(); r != nil {
		c.logger.Error("capture drain panicked", "session", cp.session.ID, "panic", r.String())
	}
	cp.cancel()
	c.logger.Info("capture stopped", "session", cp.session.ID, "duration", time.Since(cp.startedAt))
}

func (c *Controller) terminate(cp *capture) {
	select {
	case <-cp.exited:
		return
	default:
	}

	if err := device.SignalGroup(cp.cmd, syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Warn("signal capture", "session", cp.session.ID, "signal", "SIGTERM", "err", err)
	}

	select {
	case <-cp.exited:
		return
	case <-time.After(c.stopTimeout):
	}

	c.logger.Warn("capture ignored SIGTERM, killing", "session", cp.session.ID, "timeout", c.stopTimeout)
	if err := device.SignalGroup(cp.cmd, syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Warn("signal capture", "session", cp.session.ID, "signal", "SIGKILL", "err", err)
	}

	select {
	case <-cp.exited:
		return
	case <-time.After(killGrace):
	}
	cp.stdout.Close()
	<-cp.exited
}
