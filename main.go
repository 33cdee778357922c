// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Flashdeck - ESP32 bench flasher and serial monitor
//
// A CLI tool for discovering ESP32 boards, backing up and writing their
// flash, and capturing their serial output.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/flashdeck/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", cmd.ErrorMessage(err))
		os.Exit(cmd.ExitCode(err))
	}
}
