// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ports lists candidate serial devices for flashing and monitoring.
package ports

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialPort is one candidate device node. It is rebuilt on every listing.
type SerialPort struct {
	Path         string `json:"port" cbor:"0,keyasint"`
	Description  string `json:"description" cbor:"1,keyasint"`
	IsUSB        bool   `json:"is_usb" cbor:"2,keyasint"`
	VID          string `json:"vid,omitempty" cbor:"3,keyasint,omitempty"`
	PID          string `json:"pid,omitempty" cbor:"4,keyasint,omitempty"`
	SerialNumber string `json:"serial_number,omitempty" cbor:"5,keyasint,omitempty"`
}

// Virtual and debug ports that never carry a target device
var excludedSubstrings = []string{
	"debug-console",
	"bluetooth-incoming",
	"tty.debug",
	"cu.debug",
}

// Excluded reports whether a port should be hidden from backup, flash and health checks
func Excluded(path, description string) bool {
	combined := strings.ToLower(path + " " + description)
	for _, ex := range excludedSubstrings {
		if strings.Contains(combined, ex) {
			return true
		}
	}
	return false
}

// Enumerator lists serial ports. The zero value uses the platform enumerator
// and scans /dev when it returns nothing.
type Enumerator struct {
	// Detailed lists ports with USB metadata
	Detailed func() ([]*enumerator.PortDetails, error)
	// Basic lists port names only, used when Detailed fails
	Basic func() ([]string, error)
	// DevDir is scanned for well-known device names as a last resort
	DevDir string
}

// List returns the candidate ports sorted by path
func (e Enumerator) List() []SerialPort {
	seen := make(map[string]SerialPort)

	for _, p := range e.platformPorts() {
		if p.Path == "" || Excluded(p.Path, p.Description) {
			continue
		}
		if _, dup := seen[p.Path]; !dup {
			seen[p.Path] = p
		}
	}

	if len(seen) == 0 {
		for _, path := range e.scanDevDir() {
			if !Excluded(path, "") {
				seen[path] = SerialPort{Path: path, Description: path}
			}
		}
	}

	out := make([]SerialPort, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (e Enumerator) platformPorts() []SerialPort {
	detailed := e.Detailed
	if detailed == nil {
		detailed = enumerator.GetDetailedPortsList
	}

	details, err := detailed()
	if err == nil && len(details) > 0 {
		out := make([]SerialPort, 0, len(details))
		for _, d := range details {
			if d == nil {
				continue
			}
			desc := d.Product
			if desc == "" {
				desc = d.Name
			}
			out = append(out, SerialPort{
				Path:         d.Name,
				Description:  desc,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
			})
		}
		return out
	}

	basic := e.Basic
	if basic == nil {
		basic = serial.GetPortsList
	}
	names, err := basic()
	if err != nil {
		return nil
	}
	out := make([]SerialPort, 0, len(names))
	for _, name := range names {
		out = append(out, SerialPort{Path: name, Description: name})
	}
	return out
}

// scanDevDir finds USB serial nodes by name:
// cu./tty. usbmodem/usbserial on macOS, ttyUSB/ttyACM on Linux
func (e Enumerator) scanDevDir() []string {
	dir := e.DevDir
	if dir == "" {
		dir = "/dev"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []string
	for _, entry := range entries {
		if isUSBSerialName(entry.Name()) {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	return out
}

func isUSBSerialName(name string) bool {
	low := strings.ToLower(name)
	if strings.HasPrefix(name, "cu.") || strings.HasPrefix(name, "tty.") {
		return strings.Contains(low, "usbmodem") || strings.Contains(low, "usbserial")
	}
	return strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM")
}

// Alternate returns the other macOS node for the same device (cu.* <-> tty.*),
// or "" when path has no twin
func Alternate(path string) string {
	dir, base := filepath.Split(path)
	low := strings.ToLower(base)
	if !strings.Contains(low, "usbmodem") && !strings.Contains(low, "usbserial") {
		return ""
	}
	switch {
	case strings.HasPrefix(base, "cu."):
		return dir + "tty." + strings.TrimPrefix(base, "cu.")
	case strings.HasPrefix(base, "tty."):
		return dir + "cu." + strings.TrimPrefix(base, "tty.")
	}
	return ""
}
