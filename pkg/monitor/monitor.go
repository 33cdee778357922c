// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package monitor captures serial output from one device at a time into a
// bounded in-memory buffer and an append-only history log.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

// Defaults
const (
	DefaultBufferLines  = 500
	DefaultPollInterval = 50 * time.Millisecond
	DefaultStopTimeout  = 2 * time.Second
	DefaultBaud         = 115200

	// MaxLineBytes splits output that never ends a line
	MaxLineBytes = 4096
)

// Port is the serial handle the reader goroutine owns
type Port interface {
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Opener opens a port at baud, 8N1
type Opener func(path string, baud int) (Port, error)

// OpenSerial opens a real serial port
func OpenSerial(path string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(path, mode)
}

// Snapshot is an immutable copy of the monitor state
type Snapshot struct {
	Lines      []string `json:"lines" cbor:"0,keyasint"`
	ActivePort *string  `json:"active_port" cbor:"1,keyasint"`
	Active     bool     `json:"active" cbor:"2,keyasint"`
	LogPath    string   `json:"log_path,omitempty" cbor:"3,keyasint,omitempty"`
	// Seq counts lines captured in the current session
	Seq uint64 `json:"seq" cbor:"4,keyasint"`
}

// Options configure a Monitor
type Options struct {
	BufferLines  int
	PollInterval time.Duration
	StopTimeout  time.Duration
	// History receives every captured line; nil disables the log
	History *History
	Open    Opener
	// Claim takes exclusive use of the port; nil skips claiming
	Claim  func(port, owner string) (func(), error)
	Logger logrus.FieldLogger
}

// Monitor runs at most one capture session
type Monitor struct {
	opts   Options
	logger logrus.FieldLogger

	// session serializes Start and Stop; mu guards the state Buffer reads
	session sync.Mutex

	mu     sync.Mutex
	ring   *ring
	port   string
	active bool
	gen    uint64
	seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped monitor
func New(opts Options) *Monitor {
	if opts.BufferLines <= 0 {
		opts.BufferLines = DefaultBufferLines
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Open == nil {
		opts.Open = OpenSerial
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Monitor{opts: opts, logger: logger, ring: newRing(opts.BufferLines)}
}

// Start stops any running session, clears the buffer and begins capturing port.
// An open failure is recorded in the buffer and returned; the monitor stays stopped.
func (m *Monitor) Start(port string, baud int) error {
	if port == "" {
		return deverr.New(deverr.NotFound, "monitor", "No port selected")
	}
	if baud <= 0 {
		baud = DefaultBaud
	}

	m.session.Lock()
	defer m.session.Unlock()

	m.stop()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.ring.reset()
	m.seq = 0
	m.mu.Unlock()

	release := func() {}
	if m.opts.Claim != nil {
		r, err := m.opts.Claim(port, "monitor")
		if err != nil {
			return err
		}
		release = r
	}

	handle, err := m.opts.Open(port, baud)
	if err == nil {
		err = handle.SetReadTimeout(m.opts.PollInterval)
		if err != nil {
			handle.Close()
		}
	}
	if err != nil {
		release()
		line := fmt.Sprintf("[Serial open error] %s: %v", port, err)
		m.appendLines(gen, port, []string{line})
		return deverr.New(deverr.Failed, "monitor", line)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.port = port
	m.active = true
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{"port": port, "baud": baud}).Info("serial monitor started")
	go m.read(ctx, gen, port, handle, release, done)
	return nil
}

// Stop ends the running session, waiting up to StopTimeout for the reader.
// It is a no-op when stopped.
func (m *Monitor) Stop() {
	m.session.Lock()
	defer m.session.Unlock()
	m.stop()
}

func (m *Monitor) stop() {
	m.mu.Lock()
	cancel, done, port := m.cancel, m.done, m.port
	m.cancel, m.done = nil, nil
	m.active = false
	m.port = ""
	m.gen++
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(m.opts.StopTimeout):
		m.logger.WithField("port", port).Warn("serial reader did not exit in time")
	}
	m.logger.WithField("port", port).Info("serial monitor stopped")
}

// Buffer returns a snapshot of the buffer and session state
func (m *Monitor) Buffer() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{Lines: m.ring.lines(), Active: m.active, Seq: m.seq}
	if m.active {
		port := m.port
		snap.ActivePort = &port
	}
	if m.opts.History != nil {
		snap.LogPath = m.opts.History.Path()
	}
	return snap
}

// History returns the persistent log, or nil
func (m *Monitor) History() *History {
	return m.opts.History
}

// read owns handle until ctx is canceled or a read fails
func (m *Monitor) read(ctx context.Context, gen uint64, port string, handle Port, release func(), done chan struct{}) {
	defer close(done)
	defer release()
	defer handle.Close()

	buf := make([]byte, 1024)
	var pending strings.Builder

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := handle.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.appendLines(gen, port, []string{fmt.Sprintf("[Read error] %v", err)})
			m.end(gen)
			m.logger.WithFields(logrus.Fields{"port": port, "error": err}).Warn("serial read failed")
			return
		}

		if n == 0 {
			// idle poll: flush a partial line so prompts without a newline show up
			if line := takeLine(&pending); line != "" {
				m.appendLines(gen, port, []string{line})
			}
			continue
		}

		var lines []string
		for _, b := range buf[:n] {
			if b == '\n' || b == '\r' {
				if line := takeLine(&pending); line != "" {
					lines = append(lines, line)
				}
				continue
			}
			pending.WriteByte(b)
			if pending.Len() >= MaxLineBytes {
				if line := takeLine(&pending); line != "" {
					lines = append(lines, line)
				}
			}
		}
		m.appendLines(gen, port, lines)
	}
}

// takeLine empties pending and returns its trimmed text with invalid
// UTF-8 sequences replaced by U+FFFD
func takeLine(pending *strings.Builder) string {
	line := strings.ToValidUTF8(strings.TrimSpace(pending.String()), "\uFFFD")
	pending.Reset()
	return line
}

// appendLines adds lines to the buffer and history if gen is still current
func (m *Monitor) appendLines(gen uint64, port string, lines []string) {
	if len(lines) == 0 {
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	for _, line := range lines {
		m.ring.push(line)
	}
	m.seq += uint64(len(lines))
	m.mu.Unlock()

	if m.opts.History != nil {
		if err := m.opts.History.Append(port, lines...); err != nil {
			m.logger.WithField("error", err).Warn("failed to write serial history")
		}
	}
}

// end marks the session stopped after a reader error, keeping the buffer
func (m *Monitor) end(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.active = false
	m.port = ""
	m.cancel = nil
	m.done = nil
}

// Differs reports whether o carries new lines or a different session state
func (s Snapshot) Differs(o Snapshot) bool {
	if s.Seq != o.Seq || s.Active != o.Active || len(s.Lines) != len(o.Lines) {
		return true
	}
	if (s.ActivePort == nil) != (o.ActivePort == nil) {
		return true
	}
	return s.ActivePort != nil && *s.ActivePort != *o.ActivePort
}

// NewLines returns the lines of s captured after sequence number prev.
// When more lines arrived than the buffer holds, the whole buffer is returned.
func (s Snapshot) NewLines(prev uint64) []string {
	if s.Seq < prev {
		// a new session started
		prev = 0
	}
	n := s.Seq - prev
	if n >= uint64(len(s.Lines)) {
		return s.Lines
	}
	return s.Lines[len(s.Lines)-int(n):]
}
