package daemon

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// readLines reads r until EOF and calls fn for each line, newline included.
// A final line without a trailing newline is still delivered.
func readLines(r io.Reader, fn func([]byte)) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			fn(line)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// lineLogger is an io.Writer that logs each complete line at debug level.
// It backs the stderr of capture processes.
type lineLogger struct {
	mu      sync.Mutex
	pending bytes.Buffer
	logger  *slog.Logger
	msg     string
}

func newLineLogger(logger *slog.Logger, msg string) *lineLogger {
	return &lineLogger{logger: logger, msg: msg}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending.Write(p)
	for {
		i := bytes.IndexByte(l.pending.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(l.pending.Next(i + 1))
		l.emit(line)
	}
	return len(p), nil
}

func (l *lineLogger) emit(line string) {
	line = strings.TrimRight(strings.ToValidUTF8(line, "\uFFFD"), "\r\n")
	if line == "" {
		return
	}
	l.logger.Debug(l.msg, "line", line)
}
