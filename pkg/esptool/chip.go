// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esptool

import (
	"regexp"
	"strings"
)

// Chip is a chip family in the spelling the tool's --chip flag accepts
type Chip string

// ChipUnknown means no chip could be identified
const ChipUnknown Chip = ""

// String returns the chip name, or "unknown"
func (c Chip) String() string {
	if c == ChipUnknown {
		return "unknown"
	}
	return string(c)
}

// Matches "Chip is ESP32-S3 (QFN56) (revision v0.2)" and the v5 form "Chip type: ESP32-S3 (QFN56)"
var chipLine = regexp.MustCompile(`(?i)Chip (?:is|type:)\s*(ESP32[^\s(,]*)`)

// Families checked longest-prefix first; anything else starting with esp32 is the original ESP32
var chipFamilies = []Chip{
	"esp32s3", "esp32s2",
	"esp32c61", "esp32c6", "esp32c5", "esp32c3", "esp32c2",
	"esp32h2", "esp32p4",
}

// ParseChip extracts the chip family from tool output
func ParseChip(output string) Chip {
	m := chipLine.FindStringSubmatch(output)
	if m == nil {
		return ChipUnknown
	}
	name := strings.ToLower(strings.ReplaceAll(m[1], "-", ""))
	for _, family := range chipFamilies {
		if strings.HasPrefix(name, string(family)) {
			return family
		}
	}
	if strings.HasPrefix(name, "esp32") {
		return "esp32"
	}
	return ChipUnknown
}
