// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package profile holds the static device profile table: the chip family and
// flash geometry needed to address flash operations on each known device.
package profile

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Flash methods
const (
	MethodEsptool = "esptool"
	MethodUF2     = "uf2"
)

// DefaultFlashSize is assumed when a profile's flash size cannot be parsed
const DefaultFlashSize = 8 * 1024 * 1024

// Device is the static configuration of one device model
type Device struct {
	ID          string `yaml:"-" json:"id"`
	Chip        string `yaml:"chip" json:"chip"`
	FlashSize   string `yaml:"flash_size" json:"flash_size"`
	FlashMode   string `yaml:"flash_mode,omitempty" json:"flash_mode,omitempty"`
	FlashMethod string `yaml:"flash_method,omitempty" json:"flash_method,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Notes       string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Method returns the flash method, defaulting to esptool
func (d Device) Method() string {
	if d.FlashMethod == "" {
		return MethodEsptool
	}
	return strings.ToLower(d.FlashMethod)
}

// FlashSizeBytes parses FlashSize ("4MB", "16MB", "0x800000").
// Unparseable values fall back to DefaultFlashSize.
func (d Device) FlashSizeBytes() int64 {
	n, err := ParseSize(d.FlashSize)
	if err != nil || n <= 0 {
		return DefaultFlashSize
	}
	return n
}

// ParseSize parses a size written as "<n>MB", "<n>KB" or a plain/0x integer
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "MB"):
		mult = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		mult = 1024
		s = strings.TrimSuffix(s, "KB")
	}
	n, err := strconv.ParseInt(strings.ToLower(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// Table maps device ids to profiles. It is read-only after construction.
type Table struct {
	devices map[string]Device
}

// NewTable builds a table, filling in each profile's ID from its key
func NewTable(devices map[string]Device) *Table {
	t := &Table{devices: make(map[string]Device, len(devices))}
	for id, d := range devices {
		d.ID = id
		t.devices[id] = d
	}
	return t
}

// Builtin returns the devices known without any configuration
func Builtin() *Table {
	return NewTable(map[string]Device{
		"t_beam_1w": {
			Chip:        "esp32s3",
			FlashSize:   "8MB",
			FlashMode:   "dio",
			Description: "LilyGO T-Beam 1W (ESP32-S3)",
		},
		"t_deck_plus": {
			Chip:        "esp32s3",
			FlashSize:   "16MB",
			FlashMode:   "dio",
			Description: "LilyGO T-Deck Plus",
		},
		"ht_mesh_pocket_10000": {
			Chip:        "nrf52840",
			FlashSize:   "1MB",
			FlashMethod: MethodUF2,
			Description: "Heltec MeshPocket 10000 (nRF52840)",
			Notes:       "Use the magnetic pogo cable and copy a UF2 file to the HT-n5262 drive.",
		},
	})
}

// Lookup returns the profile for id
func (t *Table) Lookup(id string) (Device, bool) {
	d, ok := t.devices[id]
	return d, ok
}

// List returns all profiles sorted by id
func (t *Table) List() []Device {
	out := make([]Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForChip returns the ids of devices built on chip, sorted
func (t *Table) ForChip(chip string) []string {
	var ids []string
	for id, d := range t.devices {
		if chip != "" && strings.EqualFold(d.Chip, chip) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Merge returns a new table with other's profiles overriding t's
func (t *Table) Merge(other map[string]Device) *Table {
	all := make(map[string]Device, len(t.devices)+len(other))
	for id, d := range t.devices {
		all[id] = d
	}
	for id, d := range other {
		all[id] = d
	}
	return NewTable(all)
}

// Decode reads a YAML document of the form {device_id: {chip: ..., flash_size: ...}}
func Decode(r io.Reader) (map[string]Device, error) {
	var devices map[string]Device
	if err := yaml.NewDecoder(r).Decode(&devices); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to parse device profiles")
	}
	for id, d := range devices {
		if d.Chip == "" {
			return nil, fmt.Errorf("device %q: chip is required", id)
		}
	}
	return devices, nil
}

// LoadFile reads device profiles from a YAML file
func LoadFile(path string) (map[string]Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open profile file %s", path)
	}
	defer f.Close()
	return Decode(f)
}
