// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"os"
	"sort"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// HexImage is an Intel HEX file flattened to a raw binary
type HexImage struct {
	Path  string
	Start int64
	Size  int64
}

// ConvertHex flattens the Intel HEX file at path into a temporary binary in dir.
// The image starts at the lowest data address; gaps are filled with 0xFF.
// The caller removes HexImage.Path.
func ConvertHex(path, dir string) (HexImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return HexImage{}, errors.Wrapf(err, "failed to open %s", path)
	}
	defer file.Close()

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(file); err != nil {
		return HexImage{}, errors.Wrapf(err, "failed to parse %s", path)
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return HexImage{}, errors.Errorf("%s contains no data", path)
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Address < segments[j].Address })

	start := segments[0].Address
	var end uint32
	for _, s := range segments {
		if e := s.Address + uint32(len(s.Data)); e > end {
			end = e
		}
	}
	data := mem.ToBinary(start, end-start, 0xFF)

	out, err := os.CreateTemp(dir, "flash_hex_*.bin")
	if err != nil {
		return HexImage{}, errors.Wrap(err, "failed to create image file")
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		os.Remove(out.Name())
		return HexImage{}, errors.Wrap(err, "failed to write image file")
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return HexImage{}, errors.Wrap(err, "failed to write image file")
	}

	return HexImage{Path: out.Name(), Start: int64(start), Size: int64(len(data))}, nil
}
