// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esptool

import (
	"regexp"
	"strings"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

// Operator guidance for the common failure causes
const (
	MsgPortBusy      = "port busy or permission denied: close other programs using the port (serial monitor, IDE) and retry"
	MsgPortMissing   = "port not found: check the cable and the port path"
	MsgNotBootloader = "device not in bootloader mode: hold BOOT, press RESET, then retry"
	maxMessageLength = 200
)

var fatalLine = regexp.MustCompile(`(?m)^A fatal error occurred:\s*(.+)$`)

// Classify maps a failed tool run to an error kind and an operator-facing message
func Classify(output string, cause error) *deverr.Error {
	low := strings.ToLower(output)

	if strings.Contains(low, "could not open") || strings.Contains(low, "could not exclusively lock") {
		switch {
		case containsAny(low, "no such file", "filenotfounderror", "cannot find the file", "does not exist"):
			return &deverr.Error{Kind: deverr.NotFound, Op: "esptool", Msg: MsgPortMissing, Err: cause}
		default:
			return &deverr.Error{Kind: deverr.Busy, Op: "esptool", Msg: MsgPortBusy, Err: cause}
		}
	}

	if containsAny(low, "failed to connect", "no serial data received", "wrong boot mode", "invalid head of packet") {
		return &deverr.Error{Kind: deverr.Failed, Op: "esptool", Msg: MsgNotBootloader, Err: cause}
	}

	msg := strings.TrimSpace(output)
	if m := fatalLine.FindStringSubmatch(output); m != nil {
		msg = strings.TrimSpace(m[1])
	}
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &deverr.Error{Kind: deverr.Failed, Op: "esptool", Msg: deverr.Truncate(msg, maxMessageLength), Err: cause}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
