// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esptool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/flashdeck/pkg/config"
	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

// ============================================================
// Output Parsing Tests
// ============================================================

func TestParseChip(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Chip
	}{
		{"v4 s3", "Detecting chip type... ESP32-S3\nChip is ESP32-S3 (QFN56) (revision v0.2)\n", "esp32s3"},
		{"v5 s3", "Connected to ESP32-S3 on /dev/ttyACM0:\nChip type:          ESP32-S3 (QFN56) (revision v0.2)\n", "esp32s3"},
		{"classic", "Chip is ESP32-D0WD-V3 (revision v3.1)", "esp32"},
		{"c3", "Chip is ESP32-C3 (QFN32) (revision v0.4)", "esp32c3"},
		{"c6", "Chip is ESP32-C6 (QFN40) (revision v0.0)", "esp32c6"},
		{"s2 lower", "chip is esp32-s2", "esp32s2"},
		{"none", "A fatal error occurred: Failed to connect to ESP32", ChipUnknown},
		{"empty", "", ChipUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseChip(tt.output); got != tt.want {
				t.Errorf("ParseChip() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cause := errors.New("exit status 2")
	tests := []struct {
		name     string
		output   string
		wantKind deverr.Kind
		wantMsg  string
	}{
		{
			name:     "port busy",
			output:   "A fatal error occurred: Could not open /dev/ttyUSB0, the port is busy or doesn't exist.\n([Errno 16] could not open port /dev/ttyUSB0: [Errno 16] Device or resource busy)",
			wantKind: deverr.Busy,
			wantMsg:  MsgPortBusy,
		},
		{
			name:     "port missing",
			output:   "could not open port /dev/ttyUSB9: [Errno 2] No such file or directory: '/dev/ttyUSB9'",
			wantKind: deverr.NotFound,
			wantMsg:  MsgPortMissing,
		},
		{
			name:     "not in bootloader",
			output:   "Connecting......................................\nA fatal error occurred: Failed to connect to ESP32-S3: No serial data received.",
			wantKind: deverr.Failed,
			wantMsg:  MsgNotBootloader,
		},
		{
			name:     "fatal line extracted",
			output:   "esptool.py v4.7.0\nA fatal error occurred: Corrupt data, expected 0x1000 bytes but received 0xc00 bytes\n",
			wantKind: deverr.Failed,
			wantMsg:  "Corrupt data, expected 0x1000 bytes but received 0xc00 bytes",
		},
		{
			name:     "empty output",
			output:   "",
			wantKind: deverr.Failed,
			wantMsg:  "exit status 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.output, cause)
			if err.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", err.Kind, tt.wantKind)
			}
			if err.Msg != tt.wantMsg {
				t.Errorf("Msg = %q, want %q", err.Msg, tt.wantMsg)
			}
			if !errors.Is(err, cause) {
				t.Error("cause should be preserved in the chain")
			}
		})
	}
}

func TestClassifyTruncates(t *testing.T) {
	err := Classify(strings.Repeat("x", 500), nil)
	if len(err.Msg) != maxMessageLength {
		t.Errorf("message length = %d, want %d", len(err.Msg), maxMessageLength)
	}
}

// ============================================================
// Prober Tests
// ============================================================

type macCall struct {
	port, chip string
}

// fakeMacReader answers read-mac calls from a per-guess script
type fakeMacReader struct {
	calls   []macCall
	replies map[string]func(ctx context.Context) (string, error)
}

func (f *fakeMacReader) ReadMac(ctx context.Context, port, chip string, timeout time.Duration) (string, error) {
	f.calls = append(f.calls, macCall{port, chip})
	reply, ok := f.replies[chip]
	if !ok {
		return "", deverr.New(deverr.Failed, "esptool", "no reply")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return reply(ctx)
}

func hang(ctx context.Context) (string, error) {
	<-ctx.Done()
	return "", deverr.New(deverr.Timeout, "esptool", "Timeout")
}

func TestDetectAutoFirst(t *testing.T) {
	f := &fakeMacReader{replies: map[string]func(context.Context) (string, error){
		"": func(context.Context) (string, error) { return "Chip is ESP32-S3 (QFN56)", nil },
	}}
	p := &Prober{Tool: f, Timeout: time.Second}

	chip, err := p.Detect(context.Background(), "/dev/ttyACM0")
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if chip != "esp32s3" {
		t.Errorf("chip = %q", chip)
	}
	if len(f.calls) != 1 || f.calls[0].chip != "" {
		t.Errorf("expected a single auto-detect call, got %+v", f.calls)
	}
}

func TestDetectFallsBackToGuesses(t *testing.T) {
	f := &fakeMacReader{replies: map[string]func(context.Context) (string, error){
		"":        hang,
		"esp32s3": func(context.Context) (string, error) { return "Wrong --chip argument?", errors.New("exit 2") },
		"esp32":   func(context.Context) (string, error) { return "Chip is ESP32-D0WD-V3", nil },
	}}
	p := &Prober{Tool: f, Timeout: 2 * time.Second, AttemptTimeout: 50 * time.Millisecond}

	chip, err := p.Detect(context.Background(), "/dev/ttyUSB0")
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if chip != "esp32" {
		t.Errorf("chip = %q, want esp32", chip)
	}

	want := []string{"", "esp32s3", "esp32"}
	if len(f.calls) != len(want) {
		t.Fatalf("calls = %+v", f.calls)
	}
	for i, c := range want {
		if f.calls[i].chip != c {
			t.Errorf("call %d chip = %q, want %q", i, f.calls[i].chip, c)
		}
	}
}

func TestDetectDefaultConfigReachesGuesses(t *testing.T) {
	cfg := config.Default()
	f := &fakeMacReader{replies: map[string]func(context.Context) (string, error){
		"":        hang,
		"esp32s3": func(context.Context) (string, error) { return "Chip is ESP32-S3 (QFN56)", nil },
	}}
	p := &Prober{
		Tool:           f,
		Timeout:        cfg.Probe.Timeout / 10,
		AttemptTimeout: cfg.Probe.AttemptTimeout,
		Guesses:        cfg.Probe.Guesses,
	}

	chip, err := p.Detect(context.Background(), "/dev/ttyACM0")
	if err != nil {
		t.Fatalf("Detect error: %v (calls %+v)", err, f.calls)
	}
	if chip != "esp32s3" {
		t.Errorf("chip = %q, want esp32s3", chip)
	}
	if len(f.calls) != 2 {
		t.Errorf("calls = %+v, want auto then esp32s3", f.calls)
	}
}

func TestDetectAllFail(t *testing.T) {
	fail := func(context.Context) (string, error) {
		return "", deverr.New(deverr.Failed, "esptool", MsgNotBootloader)
	}
	f := &fakeMacReader{replies: map[string]func(context.Context) (string, error){
		"": fail, "esp32s3": fail, "esp32": fail,
	}}
	p := &Prober{Tool: f, Timeout: time.Second}

	chip, err := p.Detect(context.Background(), "/dev/ttyUSB0")
	if chip != ChipUnknown {
		t.Errorf("chip = %q, want unknown", chip)
	}
	if deverr.Message(err) != MsgNotBootloader {
		t.Errorf("error = %v, want last attempt's error", err)
	}
}

func TestDetectNoErrorNoChip(t *testing.T) {
	silent := func(context.Context) (string, error) { return "MAC: aa:bb:cc", nil }
	f := &fakeMacReader{replies: map[string]func(context.Context) (string, error){
		"": silent, "esp32s3": silent, "esp32": silent,
	}}
	p := &Prober{Tool: f, Timeout: time.Second}

	_, err := p.Detect(context.Background(), "/dev/ttyUSB0")
	if deverr.Message(err) != "Could not detect chip" {
		t.Errorf("error = %v", err)
	}
}

func TestDetectUnresponsivePortTimesOut(t *testing.T) {
	f := &fakeMacReader{replies: map[string]func(context.Context) (string, error){
		"": hang, "esp32s3": hang, "esp32": hang,
	}}
	p := &Prober{Tool: f, Timeout: 200 * time.Millisecond}

	start := time.Now()
	chip, err := p.Detect(context.Background(), "/dev/ttyUSB0")
	elapsed := time.Since(start)

	if chip != ChipUnknown {
		t.Errorf("chip = %q", chip)
	}
	if !errors.Is(err, deverr.ErrTimeout) || deverr.Message(err) != "Timeout" {
		t.Errorf("error = %v, want Timeout", err)
	}
	if elapsed > time.Second {
		t.Errorf("probe took %v, want about 200ms", elapsed)
	}
}

func TestDetectToolMissing(t *testing.T) {
	missing := func(context.Context) (string, error) {
		return "", deverr.New(deverr.NotFound, "esptool", "esptool not found (pip install esptool)")
	}
	f := &fakeMacReader{replies: map[string]func(context.Context) (string, error){"": missing}}
	p := &Prober{Tool: f, Timeout: time.Second}

	_, err := p.Detect(context.Background(), "/dev/ttyUSB0")
	if !errors.Is(err, deverr.ErrNotFound) {
		t.Errorf("error = %v, want NotFound", err)
	}
	if len(f.calls) != 1 {
		t.Errorf("missing tool should stop the probe, got %d calls", len(f.calls))
	}
}

// ============================================================
// Subprocess Tests
// ============================================================

// writeScript creates an executable shell script standing in for esptool
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-esptool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunSuccess(t *testing.T) {
	script := writeScript(t, `echo "Chip is ESP32-S3 (QFN56)"; echo "args: $*"`)
	tool := New([]string{script}, nil)

	out, err := tool.ReadMac(context.Background(), "/dev/ttyACM0", "", time.Second)
	if err != nil {
		t.Fatalf("ReadMac error: %v", err)
	}
	if !strings.Contains(out, "args: --port /dev/ttyACM0 read-mac") {
		t.Errorf("unexpected argv: %q", out)
	}
	if ParseChip(out) != "esp32s3" {
		t.Errorf("ParseChip(%q) failed", out)
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	script := writeScript(t, "exec sleep 10")
	tool := New([]string{script}, nil)

	start := time.Now()
	_, err := tool.Run(context.Background(), 100*time.Millisecond, "read-mac")
	if !errors.Is(err, deverr.ErrTimeout) {
		t.Fatalf("error = %v, want Timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestRunNonZeroExitIsClassified(t *testing.T) {
	script := writeScript(t, `echo "A fatal error occurred: Failed to connect to ESP32: No serial data received." >&2; exit 2`)
	tool := New([]string{script}, nil)

	out, err := tool.Run(context.Background(), time.Second, "read-mac")
	if err == nil {
		t.Fatal("expected error")
	}
	if deverr.Message(err) != MsgNotBootloader {
		t.Errorf("message = %q", deverr.Message(err))
	}
	if !strings.Contains(out, "Failed to connect") {
		t.Errorf("stderr not captured: %q", out)
	}
}

func TestRunFallsThroughMissingCommands(t *testing.T) {
	script := writeScript(t, `echo ok`)
	tool := New([]string{"/nonexistent/esptool", script}, nil)

	out, err := tool.Run(context.Background(), time.Second, "version")
	if err != nil || strings.TrimSpace(out) != "ok" {
		t.Errorf("Run = %q, %v", out, err)
	}
}

func TestRunToolNotFound(t *testing.T) {
	tool := New([]string{"/nonexistent/esptool", "/nonexistent/esptool.py"}, nil)
	_, err := tool.Run(context.Background(), time.Second, "version")
	if !errors.Is(err, deverr.ErrNotFound) {
		t.Errorf("error = %v, want NotFound", err)
	}
}
