// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package esptool wraps the external ESP flashing tool. It is the only place
// that runs the tool or looks at its text output; callers get typed results
// and classified errors.
package esptool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

// DefaultCommands are tried in order; esptool.py is the pre-v5 entry point
var DefaultCommands = []string{"esptool", "esptool.py"}

const defaultWaitDelay = 5 * time.Second

// Tool runs the flashing tool as a bounded subprocess
type Tool struct {
	// Commands are executable names or paths, tried in order until one is found
	Commands []string
	// WaitDelay bounds how long output pipes are drained after the process is killed
	WaitDelay time.Duration
	Logger    logrus.FieldLogger
}

// New creates a Tool for the given executables
func New(commands []string, logger logrus.FieldLogger) *Tool {
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tool{Commands: commands, WaitDelay: defaultWaitDelay, Logger: logger}
}

func (t *Tool) log() logrus.FieldLogger {
	if t.Logger == nil {
		return logrus.StandardLogger()
	}
	return t.Logger
}

// Run executes the tool with args, killing it after timeout.
// The combined stdout/stderr is returned even when err is non-nil.
func (t *Tool) Run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	commands := t.Commands
	if len(commands) == 0 {
		commands = DefaultCommands
	}

	for _, name := range commands {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		return t.run(ctx, timeout, path, args)
	}

	return "", deverr.New(deverr.NotFound, "esptool", "esptool not found (pip install esptool)")
}

func (t *Tool) run(ctx context.Context, timeout time.Duration, path string, args []string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.WaitDelay = t.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	t.log().WithField("args", strings.Join(args, " ")).Debug("running esptool")
	err := cmd.Run()
	output := out.String()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		t.log().WithField("elapsed", time.Since(start)).Warn("esptool timed out, process killed")
		return output, deverr.New(deverr.Timeout, "esptool", "Timeout")
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return output, deverr.New(deverr.Failed, "esptool", "canceled")
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return output, deverr.Wrap(deverr.Failed, "esptool", err)
		}
		return output, Classify(output, err)
	}
	return output, nil
}

// ReadFlash reads size bytes at addr into dst
func (t *Tool) ReadFlash(ctx context.Context, chip, port string, addr, size int64, dst string, timeout time.Duration) error {
	_, err := t.Run(ctx, timeout,
		"--chip", chip, "--port", port,
		"read-flash", fmt.Sprint(addr), fmt.Sprint(size), dst)
	return err
}

// WriteFlash writes the file at path to addr. extra is inserted after write-flash
// (e.g. --flash_mode dio --flash_size 8MB).
func (t *Tool) WriteFlash(ctx context.Context, chip, port string, addr int64, path string, extra []string, timeout time.Duration) error {
	args := []string{"--chip", chip, "--port", port, "write-flash"}
	args = append(args, extra...)
	args = append(args, fmt.Sprintf("0x%x", addr), path)
	_, err := t.Run(ctx, timeout, args...)
	return err
}

// ReadMac runs read-mac on port, optionally forcing the chip family.
// The output is returned even on failure since it may still name the chip.
func (t *Tool) ReadMac(ctx context.Context, port, chip string, timeout time.Duration) (string, error) {
	args := []string{"--port", port}
	if chip != "" {
		args = append(args, "--chip", chip)
	}
	args = append(args, "read-mac")
	return t.Run(ctx, timeout, args...)
}

// Version returns the tool's version banner
func (t *Tool) Version(ctx context.Context) (string, error) {
	out, err := t.Run(ctx, 10*time.Second, "version")
	if err != nil {
		return strings.TrimSpace(out), err
	}
	return strings.TrimSpace(out), nil
}
