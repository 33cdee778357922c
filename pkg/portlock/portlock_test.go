// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package portlock

import (
	"errors"
	"strings"
	"testing"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/dev/tty.usbmodem1101", "/dev/cu.usbmodem1101"},
		{"/dev/cu.usbmodem1101", "/dev/cu.usbmodem1101"},
		{"/dev/tty.Bluetooth-Incoming-Port", "/dev/tty.Bluetooth-Incoming-Port"},
		{"/dev/ttyUSB0", "/dev/ttyUSB0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Canonical(tt.in); got != tt.want {
				t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestClaimConflict(t *testing.T) {
	var r Registry

	release, err := r.Claim("/dev/ttyUSB0", "monitor")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}

	_, err = r.Claim("/dev/ttyUSB0", "backup")
	if !errors.Is(err, deverr.ErrBusy) {
		t.Fatalf("second claim error = %v, want Busy", err)
	}
	if !strings.Contains(err.Error(), "monitor") {
		t.Errorf("error should name the owner: %v", err)
	}

	if _, err := r.Claim("/dev/ttyUSB1", "backup"); err != nil {
		t.Errorf("different port should be free: %v", err)
	}

	release()
	if owner := r.Owner("/dev/ttyUSB0"); owner != "" {
		t.Errorf("owner after release = %q", owner)
	}
	if _, err := r.Claim("/dev/ttyUSB0", "backup"); err != nil {
		t.Errorf("claim after release: %v", err)
	}
}

func TestClaimTwinsShareLock(t *testing.T) {
	var r Registry
	if _, err := r.Claim("/dev/cu.usbserial-0001", "flash"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Claim("/dev/tty.usbserial-0001", "monitor"); !errors.Is(err, deverr.ErrBusy) {
		t.Errorf("tty twin claim error = %v, want Busy", err)
	}
}

func TestStaleReleaseKeepsNewClaim(t *testing.T) {
	var r Registry
	first, _ := r.Claim("/dev/ttyACM0", "monitor")
	first()

	if _, err := r.Claim("/dev/ttyACM0", "backup"); err != nil {
		t.Fatal(err)
	}
	first()

	if owner := r.Owner("/dev/ttyACM0"); owner != "backup" {
		t.Errorf("owner = %q, want backup", owner)
	}
	if held := r.Held(); len(held) != 1 {
		t.Errorf("held = %v", held)
	}
}
