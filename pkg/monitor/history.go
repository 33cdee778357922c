// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// HistoryFile is the log file name inside the log directory
const HistoryFile = "serial.log"

// TimeFormat is the UTC timestamp prefix of each history record
const TimeFormat = "2006-01-02T15:04:05Z"

// History is the append-only log of every captured line across sessions
type History struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// OpenHistory prepares dir/serial.log for appending
func OpenHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory %s", dir)
	}
	return &History{path: filepath.Join(dir, HistoryFile), now: time.Now}, nil
}

// Path returns the log file path
func (h *History) Path() string {
	return h.path
}

// Append writes one record per line: "<UTC time> [<port>] <line>"
func (h *History) Append(port string, lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	stamp := h.now().UTC().Format(TimeFormat)

	var b strings.Builder
	for _, line := range lines {
		fmt.Fprintf(&b, "%s [%s] %s\n", stamp, port, line)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to open history log")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return errors.Wrap(err, "failed to append history log")
	}
	return f.Close()
}

// Tail returns the last n non-blank records, oldest first.
// A missing log yields no records.
func (h *History) Tail(n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history log")
	}
	defer f.Close()

	tail := newRing(n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			tail.push(line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read history log")
	}
	return tail.lines(), nil
}
