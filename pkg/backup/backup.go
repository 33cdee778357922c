// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
	"github.com/Thermoquad/flashdeck/pkg/profile"
)

// Backup types
const (
	TypeFull = "full"
	TypeApp  = "app"
	TypeNVS  = "nvs"
)

// Fixed regions of the default partition table
const (
	AppOffset = 0x10000
	AppSize   = 0x180000
	NVSOffset = 0x9000
	NVSSize   = 0x6000
)

// Region is a span of flash addresses
type Region struct {
	Start int64
	Size  int64
}

// RegionFor returns the flash span a backup type covers on d
func RegionFor(backupType string, d profile.Device) (Region, error) {
	switch strings.ToLower(backupType) {
	case TypeFull, "":
		return Region{Start: 0, Size: d.FlashSizeBytes()}, nil
	case TypeApp:
		return Region{Start: AppOffset, Size: AppSize}, nil
	case TypeNVS:
		return Region{Start: NVSOffset, Size: NVSSize}, nil
	}
	return Region{}, deverr.Newf(deverr.Unsupported, "backup", "Unknown backup type: %s (use full, app or nvs)", backupType)
}

// Request describes one backup job
type Request struct {
	Port     string
	DeviceID string
	Type     string
	// Name overrides the generated file name; it is sanitised and forced to .bin
	Name string
}

// Backup runs Request against the device table and writes the image into dir
type Backup struct {
	Engine   *Engine
	Profiles *profile.Table
	Dir      string
	// Claim takes exclusive use of the port; nil skips claiming
	Claim func(port, owner string) (func(), error)
	Now   func() time.Time
}

// Run validates req, reads the region and returns the written file path
func (b *Backup) Run(ctx context.Context, req Request) (string, error) {
	dev, ok := b.Profiles.Lookup(req.DeviceID)
	if !ok {
		return "", deverr.Newf(deverr.NotFound, "backup", "Unknown device: %s", req.DeviceID)
	}
	if dev.Method() == profile.MethodUF2 {
		return "", deverr.New(deverr.Unsupported, "backup", uf2Guidance(dev))
	}
	if req.Port == "" {
		return "", deverr.New(deverr.NotFound, "backup", "No port selected")
	}
	region, err := RegionFor(req.Type, dev)
	if err != nil {
		return "", err
	}

	typ := strings.ToLower(req.Type)
	if typ == "" {
		typ = TypeFull
	}
	name := SanitizeName(req.Name)
	if name == "" {
		now := time.Now
		if b.Now != nil {
			now = b.Now
		}
		name = DefaultName(req.DeviceID, typ, now())
	}

	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return "", deverr.Wrap(deverr.Failed, "backup", err)
	}
	dst := filepath.Join(b.Dir, name)

	release, err := b.Engine.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	if _, err := os.Stat(dst); err == nil {
		return "", deverr.Newf(deverr.Failed, "backup", "Backup file already exists: %s", name)
	}

	if b.Claim != nil {
		unclaim, err := b.Claim(req.Port, "backup")
		if err != nil {
			return "", err
		}
		defer unclaim()
	}

	if err := b.Engine.readRegion(ctx, dev.Chip, req.Port, region.Start, region.Size, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func uf2Guidance(d profile.Device) string {
	msg := fmt.Sprintf("%s uses a UF2 bootloader; flash backup is not available over esptool.", d.Description)
	if d.Notes != "" {
		msg += " " + d.Notes
	}
	return msg
}

// DefaultName is backup_<device>_<type>_<YYYYMMDD_HHMMSS>.bin
func DefaultName(deviceID, backupType string, t time.Time) string {
	return fmt.Sprintf("backup_%s_%s_%s.bin", deviceID, backupType, t.Format("20060102_150405"))
}

var (
	unsafeChars = regexp.MustCompile(`[^\w\-.]`)
	underscores = regexp.MustCompile(`_+`)
)

// SanitizeName makes a caller-supplied name safe as a file name in the backup
// directory. It returns "" when nothing usable remains.
func SanitizeName(name string) string {
	name = strings.TrimSpace(filepath.Base(strings.TrimSpace(name)))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscores.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_.")
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(strings.ToLower(name), ".bin") {
		name += ".bin"
	}
	return name
}
