// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flashdeck/pkg/config"
	"github.com/Thermoquad/flashdeck/pkg/deverr"
	"github.com/Thermoquad/flashdeck/pkg/station"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// Configuration flags
	configPath string
	dataDir    string

	// Logging flags
	verbose   bool
	logFormat string
)

// Exit codes
const (
	ExitOK         = 0
	ExitFailed     = 1
	ExitConnection = 2
)

var rootCmd = &cobra.Command{
	Use:   "flashdeck",
	Short: "ESP32 bench tool: port discovery, flash backup, flashing and serial capture",
	Long: `Flashdeck - ESP32 bench flasher and serial monitor.

Discovers serial ports, identifies the connected chip, reads flash into backup
images in verified 1 MiB chunks, writes firmware, and captures device output
to a bounded buffer and a persistent log.

The bootloader protocol is handled by esptool, which must be installed
(pip install esptool).

Configuration:
  --config flashdeck.yaml   optional YAML file (tool, backup, flash, probe,
                            monitor and devices sections)
  --data-dir DIR            backups and logs (default: $FLASHDECK_DATA_DIR or ./artifacts)

Exit codes:
  0 - Success
  1 - Operation failed
  2 - Port or tool unavailable (not found, busy)`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (monitor only)")

	// Configuration flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for backups and device logs")

	// Logging flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text or json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// exitError carries a specific process exit code
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// failed wraps err with the exit code its kind maps to
func failed(err error) error {
	if err == nil {
		return nil
	}
	switch deverr.KindOf(err) {
	case deverr.NotFound, deverr.Busy:
		return &exitError{code: ExitConnection, err: err}
	}
	return &exitError{code: ExitFailed, err: err}
}

// ExitCode maps an Execute error to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return ExitFailed
}

// ErrorMessage returns the operator-facing text for an Execute error
func ErrorMessage(err error) string {
	return deverr.Message(err)
}

func setupLogging(cmd *cobra.Command, args []string) error {
	logrus.SetOutput(os.Stderr)
	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q (use text or json)", logFormat)
	}

	logrus.SetLevel(logrus.WarnLevel)
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// loadConfig reads --config and applies flag overrides
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openStation builds the bench from configuration
func openStation() (*station.Station, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return station.New(cfg, logrus.StandardLogger())
}

func requirePort() error {
	if portName == "" {
		return &exitError{code: ExitConnection, err: fmt.Errorf("--port must be specified (see: flashdeck ports)")}
	}
	return nil
}
