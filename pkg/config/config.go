// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads flashdeck settings from an optional YAML file layered
// over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/Thermoquad/flashdeck/pkg/profile"
)

// EnvDataDir overrides the default data directory
const EnvDataDir = "FLASHDECK_DATA_DIR"

// Config is the complete runtime configuration
type Config struct {
	DataDir string                    `yaml:"data_dir"`
	Tool    ToolConfig                `yaml:"tool"`
	Backup  BackupConfig              `yaml:"backup"`
	Flash   FlashConfig               `yaml:"flash"`
	Probe   ProbeConfig               `yaml:"probe"`
	Monitor MonitorConfig             `yaml:"monitor"`
	Devices map[string]profile.Device `yaml:"devices"`
}

// ToolConfig selects the flashing tool executables, tried in order
type ToolConfig struct {
	Commands []string `yaml:"commands"`
}

// BackupConfig controls the chunked reader
type BackupConfig struct {
	Dir               string        `yaml:"dir"`
	ChunkSize         int64         `yaml:"chunk_size"`
	ChunkRetries      int           `yaml:"chunk_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	ChunkTimeout      time.Duration `yaml:"chunk_timeout"`
	SinglePassMax     int64         `yaml:"single_pass_max"`
	SinglePassTimeout time.Duration `yaml:"single_pass_timeout"`
}

// FlashConfig controls the flash writer
type FlashConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ProbeConfig controls chip detection
type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// AttemptTimeout of zero shares Timeout between all attempts
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Guesses        []string      `yaml:"guesses"`
}

// MonitorConfig controls the serial monitor
type MonitorConfig struct {
	LogDir       string        `yaml:"log_dir"`
	BufferLines  int           `yaml:"buffer_lines"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
}

// Default returns the built-in configuration
func Default() Config {
	dataDir := os.Getenv(EnvDataDir)
	if dataDir == "" {
		dataDir = "artifacts"
	}
	return Config{
		DataDir: dataDir,
		Tool: ToolConfig{
			Commands: []string{"esptool", "esptool.py"},
		},
		Backup: BackupConfig{
			ChunkSize:         0x100000,
			ChunkRetries:      3,
			RetryBackoff:      2 * time.Second,
			ChunkTimeout:      180 * time.Second,
			SinglePassMax:     0x200000,
			SinglePassTimeout: 300 * time.Second,
		},
		Flash: FlashConfig{
			Timeout: 300 * time.Second,
		},
		Probe: ProbeConfig{
			Timeout: 5 * time.Second,
			Guesses: []string{"esp32s3", "esp32"},
		},
		Monitor: MonitorConfig{
			BufferLines:  500,
			PollInterval: 50 * time.Millisecond,
			StopTimeout:  2 * time.Second,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values that would make an operation unbounded or meaningless
func (c Config) Validate() error {
	switch {
	case len(c.Tool.Commands) == 0:
		return fmt.Errorf("tool.commands must not be empty")
	case c.Backup.ChunkSize <= 0:
		return fmt.Errorf("backup.chunk_size must be positive")
	case c.Backup.ChunkRetries <= 0:
		return fmt.Errorf("backup.chunk_retries must be positive")
	case c.Backup.ChunkTimeout <= 0 || c.Backup.SinglePassTimeout <= 0:
		return fmt.Errorf("backup timeouts must be positive")
	case c.Backup.RetryBackoff < 0:
		return fmt.Errorf("backup.retry_backoff must not be negative")
	case c.Backup.SinglePassMax < 0:
		return fmt.Errorf("backup.single_pass_max must not be negative")
	case c.Flash.Timeout <= 0:
		return fmt.Errorf("flash.timeout must be positive")
	case c.Probe.Timeout <= 0 || c.Probe.AttemptTimeout < 0:
		return fmt.Errorf("probe timeouts must be positive")
	case c.Monitor.BufferLines <= 0:
		return fmt.Errorf("monitor.buffer_lines must be positive")
	case c.Monitor.PollInterval <= 0 || c.Monitor.StopTimeout <= 0:
		return fmt.Errorf("monitor intervals must be positive")
	}
	for id, d := range c.Devices {
		if d.Chip == "" {
			return fmt.Errorf("devices.%s: chip is required", id)
		}
	}
	return nil
}

// BackupDir returns where backup images are written
func (c Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.DataDir, "backups")
}

// LogDir returns where the serial history log lives
func (c Config) LogDir() string {
	if c.Monitor.LogDir != "" {
		return c.Monitor.LogDir
	}
	return filepath.Join(c.DataDir, "device_logs")
}

// Profiles returns the builtin device table with configured devices merged over it
func (c Config) Profiles() *profile.Table {
	return profile.Builtin().Merge(c.Devices)
}
