package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// CaptureBuffer accumulates decoded output of a running capture until it
// is flushed to the raw artifact.
type CaptureBuffer struct {
	mu    sync.Mutex
	buf   strings.Builder
	lines int
}

// NewCaptureBuffer returns an empty buffer.
func NewCaptureBuffer() *CaptureBuffer {
	return &CaptureBuffer{}
}

// Write appends one raw line. Invalid UTF-8 is replaced with U+FFFD.
func (b *CaptureBuffer) Write(line []byte) {
	decoded := strings.ToValidUTF8(string(line), "\uFFFD")
	b.mu.Lock()
	b.buf.WriteString(decoded)
	b.lines++
	b.mu.Unlock()
}

// Lines returns the number of lines written so far.
func (b *CaptureBuffer) Lines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lines
}

// String returns the buffered text.
func (b *CaptureBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Flush writes the full buffer to path, creating the parent directory.
func (b *CaptureBuffer) Flush(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create raw dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write raw log: %w", err)
	}
	return nil
}
