package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// journalctl is the binary Logs runs.
var journalctl = "journalctl"

// JournalArgs returns the journalctl arguments selecting the daemon's
// user unit output.
func JournalArgs(follow bool, lines int) []string {
	args := []string{"--user", "-u", ServiceUnit, "-o", "cat", "-n", strconv.Itoa(lines)}
	if follow {
		args = append(args, "-f")
	}
	return args
}

// Logs copies the daemon's journal to w line by line. With follow it runs
// until ctx is done.
func Logs(ctx context.Context, w io.Writer, follow bool, lines int) error {
	cmd := exec.CommandContext(ctx, journalctl, JournalArgs(follow, lines)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("journalctl pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("journalctl start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if _, err := fmt.Fprintln(w, scanner.Text()); err != nil {
			cmd.Cancel()
			break
		}
	}

	err = cmd.Wait()
	if ctx.Err() != nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("journalctl exited with code %d", exitErr.ExitCode())
	}
	return err
}
