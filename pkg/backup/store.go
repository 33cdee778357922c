// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package backup

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

// Image is a backup file in the backup directory
type Image struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// List returns the .bin images in dir, newest first.
// A missing directory holds no images.
func List(dir string) ([]Image, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []Image{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read backup directory %s", dir)
	}

	images := []Image{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".bin") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		images = append(images, Image{
			Name:     e.Name(),
			Path:     filepath.Join(dir, e.Name()),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(images, func(i, j int) bool {
		if images[i].Modified.Equal(images[j].Modified) {
			return images[i].Name < images[j].Name
		}
		return images[i].Modified.After(images[j].Modified)
	})
	return images, nil
}

// Delete removes the image called name from dir. Only plain .bin file names
// are accepted, so nothing outside dir can be removed.
func Delete(dir, name string) error {
	if strings.TrimSpace(name) == "" {
		return deverr.New(deverr.NotFound, "backup", "Name required")
	}
	if name != filepath.Base(name) || name == ".." || strings.ContainsAny(name, `/\`) {
		return deverr.New(deverr.Failed, "backup", "Name must be a file in the backup directory")
	}
	if !strings.HasSuffix(strings.ToLower(name), ".bin") {
		return deverr.New(deverr.Failed, "backup", "Only .bin backups can be deleted")
	}

	path := filepath.Join(dir, name)
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return deverr.Newf(deverr.NotFound, "backup", "Backup not found: %s", name)
	}
	if err := os.Remove(path); err != nil {
		return deverr.Wrap(deverr.Failed, "backup", err)
	}
	return nil
}
