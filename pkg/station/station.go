// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package station owns every device-facing resource of a bench: the tool
// adapter, the port claims, the backup engine, the flash writer and the serial
// monitor. Front-ends hold one Station and call through it.
package station

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flashdeck/pkg/backup"
	"github.com/Thermoquad/flashdeck/pkg/config"
	"github.com/Thermoquad/flashdeck/pkg/deverr"
	"github.com/Thermoquad/flashdeck/pkg/esptool"
	"github.com/Thermoquad/flashdeck/pkg/flasher"
	"github.com/Thermoquad/flashdeck/pkg/monitor"
	"github.com/Thermoquad/flashdeck/pkg/portlock"
	"github.com/Thermoquad/flashdeck/pkg/ports"
	"github.com/Thermoquad/flashdeck/pkg/profile"
)

// Station is the explicit owner of the bench state
type Station struct {
	Config   config.Config
	Ports    ports.Enumerator
	Profiles *profile.Table
	Tool     *esptool.Tool
	Prober   *esptool.Prober
	Locks    *portlock.Registry
	Engine   *backup.Engine
	Backups  *backup.Backup
	Writer   *flasher.Writer
	Monitor  *monitor.Monitor

	logger logrus.FieldLogger
}

// New wires a Station from cfg
func New(cfg config.Config, logger logrus.FieldLogger) (*Station, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	history, err := monitor.OpenHistory(cfg.LogDir())
	if err != nil {
		return nil, err
	}

	s := &Station{
		Config:   cfg,
		Profiles: cfg.Profiles(),
		Locks:    &portlock.Registry{},
		logger:   logger,
	}

	s.Tool = esptool.New(cfg.Tool.Commands, logger.WithField("component", "esptool"))
	s.Prober = &esptool.Prober{
		Tool:           s.Tool,
		Timeout:        cfg.Probe.Timeout,
		AttemptTimeout: cfg.Probe.AttemptTimeout,
		Guesses:        cfg.Probe.Guesses,
		Logger:         logger.WithField("component", "probe"),
	}

	s.Engine = backup.NewEngine(s.Tool, backup.Options{
		ChunkSize:         cfg.Backup.ChunkSize,
		Retries:           cfg.Backup.ChunkRetries,
		RetryBackoff:      cfg.Backup.RetryBackoff,
		ChunkTimeout:      cfg.Backup.ChunkTimeout,
		SinglePassMax:     cfg.Backup.SinglePassMax,
		SinglePassTimeout: cfg.Backup.SinglePassTimeout,
		Logger:            logger.WithField("component", "backup"),
	})
	s.Backups = &backup.Backup{
		Engine:   s.Engine,
		Profiles: s.Profiles,
		Dir:      cfg.BackupDir(),
		Claim:    s.Locks.Claim,
	}

	s.Writer = &flasher.Writer{
		Tool:     s.Tool,
		Profiles: s.Profiles,
		Timeout:  cfg.Flash.Timeout,
		Claim:    s.Locks.Claim,
		Logger:   logger.WithField("component", "flash"),
	}

	s.Monitor = monitor.New(monitor.Options{
		BufferLines:  cfg.Monitor.BufferLines,
		PollInterval: cfg.Monitor.PollInterval,
		StopTimeout:  cfg.Monitor.StopTimeout,
		History:      history,
		Claim:        s.Locks.Claim,
		Logger:       logger.WithField("component", "monitor"),
	})

	return s, nil
}

// Close stops the serial monitor
func (s *Station) Close() {
	s.Monitor.Stop()
}

// ListPorts enumerates candidate serial ports
func (s *Station) ListPorts() []ports.SerialPort {
	return s.Ports.List()
}

// Probe identifies the chip on port, holding the port for the duration
func (s *Station) Probe(ctx context.Context, port string) (esptool.Chip, error) {
	release, err := s.Locks.Claim(port, "probe")
	if err != nil {
		return esptool.ChipUnknown, err
	}
	defer release()
	return s.Prober.Detect(ctx, port)
}

// Detection is one port with its probe outcome
type Detection struct {
	ports.SerialPort
	Chip             string   `json:"chip,omitempty"`
	Error            string   `json:"error,omitempty"`
	SuggestedDevices []string `json:"suggested_devices,omitempty"`
}

// DetectAll probes every port in turn and suggests matching device profiles
func (s *Station) DetectAll(ctx context.Context) []Detection {
	list := s.ListPorts()
	out := make([]Detection, 0, len(list))
	for _, p := range list {
		d := Detection{SerialPort: p}
		chip, err := s.Probe(ctx, p.Path)
		if err != nil {
			d.Error = deverr.Message(err)
		} else {
			d.Chip = string(chip)
			d.SuggestedDevices = s.Profiles.ForChip(string(chip))
		}
		out = append(out, d)
	}
	return out
}

// Backup reads a flash region to a file
func (s *Station) Backup(ctx context.Context, req backup.Request) (string, error) {
	return s.Backups.Run(ctx, req)
}

// Progress returns the backup progress snapshot
func (s *Station) Progress() backup.Snapshot {
	return s.Engine.Progress()
}

// ListBackups returns the images in the backup directory, newest first
func (s *Station) ListBackups() ([]backup.Image, error) {
	return backup.List(s.Backups.Dir)
}

// DeleteBackup removes one image from the backup directory
func (s *Station) DeleteBackup(name string) error {
	err := backup.Delete(s.Backups.Dir, name)
	if err == nil {
		s.logger.WithField("name", name).Info("backup deleted")
	}
	return err
}

// Flash writes a firmware image
func (s *Station) Flash(ctx context.Context, req flasher.Request) error {
	return s.Writer.Write(ctx, req)
}

// Restore writes a backup image back at 0x0
func (s *Station) Restore(ctx context.Context, port, deviceID, file string) error {
	return s.Writer.Restore(ctx, port, deviceID, file)
}

// StartMonitor begins capturing port
func (s *Station) StartMonitor(port string, baud int) error {
	return s.Monitor.Start(port, baud)
}

// StopMonitor ends the capture session
func (s *Station) StopMonitor() {
	s.Monitor.Stop()
}

// Buffer returns the serial buffer snapshot
func (s *Station) Buffer() monitor.Snapshot {
	return s.Monitor.Buffer()
}

// HistoryTail returns the last n records of the persistent serial log
func (s *Station) HistoryTail(n int) ([]string, error) {
	return s.Monitor.History().Tail(n)
}

// ToolVersion reports the flashing tool's version banner
func (s *Station) ToolVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return s.Tool.Version(ctx)
}

// Devices lists the device profile table
func (s *Station) Devices() []profile.Device {
	return s.Profiles.List()
}
