// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package station

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

// Check is one health check outcome
type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Report is the result of Doctor
type Report struct {
	Checks      []Check  `json:"checks"`
	Problems    []string `json:"problems"`
	Suggestions []string `json:"suggestions"`
}

// Healthy reports whether no problems were found
func (r Report) Healthy() bool {
	return len(r.Problems) == 0
}

func (r *Report) problem(problem, suggestion string) {
	r.Problems = append(r.Problems, problem)
	r.Suggestions = append(r.Suggestions, suggestion)
}

// doctorProbeTimeout keeps the chip check short
const doctorProbeTimeout = 3 * time.Second

// Doctor checks the tool, the ports, the first port's chip and the data directory
func (s *Station) Doctor(ctx context.Context) Report {
	r := Report{Checks: []Check{}, Problems: []string{}, Suggestions: []string{}}

	version, err := s.ToolVersion(ctx)
	toolOK := err == nil
	if toolOK {
		r.Checks = append(r.Checks, Check{"esptool", true, deverr.Truncate(version, 200)})
	} else {
		r.Checks = append(r.Checks, Check{"esptool", false, deverr.Truncate(deverr.Message(err), 200)})
		r.problem("esptool not installed or not in PATH", "Install esptool: pip install esptool")
	}

	list := s.ListPorts()
	r.Checks = append(r.Checks, Check{"serial_ports", true, fmt.Sprintf("%d port(s) found", len(list))})
	if len(list) == 0 {
		r.problem("No serial ports detected",
			"Connect a device via USB and ensure the correct driver is installed (e.g. CP210x, CH340)")
	}

	if len(list) > 0 {
		port := list[0].Path
		pctx, cancel := context.WithTimeout(ctx, doctorProbeTimeout)
		chip, err := s.Probe(pctx, port)
		cancel()
		if err == nil {
			r.Checks = append(r.Checks, Check{"chip_detect", true, fmt.Sprintf("%s: %s", port, chip)})
		} else {
			msg := deverr.Message(err)
			r.Checks = append(r.Checks, Check{"chip_detect", false, fmt.Sprintf("%s: %s", port, msg)})
			if toolOK && !strings.Contains(strings.ToLower(msg), "not found") {
				r.problem(fmt.Sprintf("Chip detection failed on %s: %s", port, msg),
					"Connect an ESP32 in bootloader mode (hold BOOT, press RESET) or try another USB port/cable")
			}
		}
	}

	dir := s.Config.DataDir
	if err := checkWritable(dir); err != nil {
		r.Checks = append(r.Checks, Check{"data_dir", false, err.Error()})
		r.problem("Data directory is not writable: "+dir, "Set --data-dir or FLASHDECK_DATA_DIR to a writable directory")
	} else {
		r.Checks = append(r.Checks, Check{"data_dir", true, dir})
	}

	return r
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor_*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
