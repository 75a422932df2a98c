// Package device describes the external bridge commands that stream
// device logs to stdout.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/modoterra/logcap/pkg/core"
)

// waitDelay bounds how long Wait keeps copying stderr after the process
// has exited.
const waitDelay = 2 * time.Second

// Source is one platform's capture command.
type Source struct {
	Platform core.Platform
	Command  []string
	Dir      string
	Env      map[string]string

	// Window bounds the capture. Zero means the command runs until stopped.
	Window time.Duration
}

// Android returns the default logcat source.
func Android(command []string) Source {
	if len(command) == 0 {
		command = []string{"adb", "logcat"}
	}
	return Source{Platform: core.PlatformAndroid, Command: command}
}

// IOS returns the syslog source, bounded to window.
func IOS(command []string, window time.Duration) Source {
	if len(command) == 0 {
		command = []string{"idevicesyslog"}
	}
	return Source{Platform: core.PlatformIOS, Command: command, Window: window}
}

// Available reports whether the command's binary can be found.
func (s Source) Available() error {
	if len(s.Command) == 0 {
		return errors.New("empty command")
	}
	if _, err := exec.LookPath(s.Command[0]); err != nil {
		return fmt.Errorf("%s capture: %w", s.Platform, err)
	}
	return nil
}

// Cmd builds the command in its own process group. When ctx is done the
// whole group receives SIGTERM.
func (s Source) Cmd(ctx context.Context) (*exec.Cmd, error) {
	if len(s.Command) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Dir = s.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return SignalGroup(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = waitDelay

	cmd.Env = os.Environ()
	for k, v := range s.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	return cmd, nil
}

// SignalGroup delivers sig to the process group led by cmd.
func SignalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
