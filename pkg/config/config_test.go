// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Backup.ChunkSize != 1024*1024 {
		t.Errorf("ChunkSize = %d, want 1 MiB", cfg.Backup.ChunkSize)
	}
	if cfg.Backup.ChunkRetries != 3 {
		t.Errorf("ChunkRetries = %d, want 3", cfg.Backup.ChunkRetries)
	}
	if cfg.Monitor.BufferLines != 500 {
		t.Errorf("BufferLines = %d, want 500", cfg.Monitor.BufferLines)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flashdeck.yaml")
	doc := `
data_dir: /srv/lab
backup:
  chunk_size: 524288
  retry_backoff: 500ms
  single_pass_max: 0
probe:
  guesses: [esp32c3]
devices:
  heltec_v3:
    chip: esp32s3
    flash_size: 8MB
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Backup.ChunkSize != 524288 {
		t.Errorf("ChunkSize = %d", cfg.Backup.ChunkSize)
	}
	if cfg.Backup.RetryBackoff != 500*time.Millisecond {
		t.Errorf("RetryBackoff = %v", cfg.Backup.RetryBackoff)
	}
	if cfg.Backup.ChunkRetries != 3 {
		t.Errorf("unset field lost its default: ChunkRetries = %d", cfg.Backup.ChunkRetries)
	}
	if len(cfg.Probe.Guesses) != 1 || cfg.Probe.Guesses[0] != "esp32c3" {
		t.Errorf("Guesses = %v", cfg.Probe.Guesses)
	}
	if cfg.BackupDir() != filepath.Join("/srv/lab", "backups") {
		t.Errorf("BackupDir = %s", cfg.BackupDir())
	}
	if _, ok := cfg.Profiles().Lookup("heltec_v3"); !ok {
		t.Error("configured device not in profile table")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("backup:\n  chunk_size: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for negative chunk size")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvDataDir(t *testing.T) {
	t.Setenv(EnvDataDir, "/tmp/bench")
	cfg := Default()
	if cfg.LogDir() != filepath.Join("/tmp/bench", "device_logs") {
		t.Errorf("LogDir = %s", cfg.LogDir())
	}
}
