// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package flasher writes firmware and backup images to device flash.
package flasher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
	"github.com/Thermoquad/flashdeck/pkg/profile"
)

// DefaultTimeout bounds one write invocation
const DefaultTimeout = 300 * time.Second

// FlashWriter writes the file at path to flash at addr
type FlashWriter interface {
	WriteFlash(ctx context.Context, chip, port string, addr int64, path string, extra []string, timeout time.Duration) error
}

// Request describes one write
type Request struct {
	Port     string
	DeviceID string
	File     string
	// Address is "0x" hex or decimal; empty means 0x0
	Address string
}

// Writer validates requests against the device table and runs the tool
type Writer struct {
	Tool     FlashWriter
	Profiles *profile.Table
	Timeout  time.Duration
	// Claim takes exclusive use of the port; nil skips claiming
	Claim func(port, owner string) (func(), error)
	// TempDir holds converted HEX images; "" means os.TempDir
	TempDir string
	Logger  logrus.FieldLogger
}

func (w *Writer) log() logrus.FieldLogger {
	if w.Logger == nil {
		return logrus.StandardLogger()
	}
	return w.Logger
}

// Write flashes req.File to the device on req.Port
func (w *Writer) Write(ctx context.Context, req Request) error {
	dev, ok := w.Profiles.Lookup(req.DeviceID)
	if !ok {
		return deverr.Newf(deverr.NotFound, "flash", "Unknown device: %s", req.DeviceID)
	}
	if dev.Method() == profile.MethodUF2 {
		msg := fmt.Sprintf("%s uses a UF2 bootloader: copy the .uf2 file to its USB drive instead.", dev.Description)
		if dev.Notes != "" {
			msg += " " + dev.Notes
		}
		return deverr.New(deverr.Unsupported, "flash", msg)
	}
	if req.Port == "" {
		return deverr.New(deverr.NotFound, "flash", "No port selected")
	}
	info, err := os.Stat(req.File)
	if err != nil || info.IsDir() {
		return deverr.Newf(deverr.NotFound, "flash", "File not found: %s", req.File)
	}

	addr, err := ParseAddress(req.Address)
	if err != nil {
		return deverr.Wrap(deverr.Failed, "flash", err)
	}

	path := req.File
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		img, err := ConvertHex(path, w.TempDir)
		if err != nil {
			return deverr.Wrap(deverr.Failed, "flash", err)
		}
		defer os.Remove(img.Path)
		if req.Address == "" {
			addr = img.Start
		}
		path = img.Path
	}

	if w.Claim != nil {
		release, err := w.Claim(req.Port, "flash")
		if err != nil {
			return err
		}
		defer release()
	}

	var extra []string
	if dev.FlashMode != "" {
		extra = append(extra, "--flash_mode", dev.FlashMode)
	}
	if dev.FlashSize != "" {
		extra = append(extra, "--flash_size", dev.FlashSize)
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger := w.log().WithFields(logrus.Fields{"port": req.Port, "chip": dev.Chip, "file": req.File})
	logger.WithField("addr", fmt.Sprintf("0x%x", addr)).Info("flash write started")
	start := time.Now()
	if err := w.Tool.WriteFlash(ctx, dev.Chip, req.Port, addr, path, extra, timeout); err != nil {
		logger.WithField("error", err).Error("flash write failed")
		return err
	}
	logger.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("flash write complete")
	return nil
}

// Restore writes a full backup image back at address 0
func (w *Writer) Restore(ctx context.Context, port, deviceID, file string) error {
	return w.Write(ctx, Request{Port: port, DeviceID: deviceID, File: file, Address: "0x0"})
}

// ParseAddress accepts "0x10000", "65536" or "" (zero)
func ParseAddress(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.ToLower(s), 0, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid flash address %q", s)
	}
	return n, nil
}
