// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Identify the chip on a port",
	Long: `Run esptool read-mac against --port to identify the chip family.

Auto-detection is tried first, then each configured chip guess. The whole
probe is bounded by --timeout.

Examples:
  flashdeck probe --port /dev/ttyACM0
  flashdeck probe -p /dev/cu.usbmodem1101 --timeout 10

Exit codes:
  0 - Chip identified
  1 - Detection failed or timed out
  2 - Port or esptool unavailable`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 0, "Overall timeout in seconds (default from config, 5)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	if err := requirePort(); err != nil {
		return err
	}
	st, err := openStation()
	if err != nil {
		return err
	}
	defer st.Close()

	if probeTimeout > 0 {
		st.Prober.Timeout = time.Duration(probeTimeout) * time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Probing %s...\n", portName)
	start := time.Now()
	chip, err := st.Probe(ctx, portName)
	if err != nil {
		return failed(err)
	}

	fmt.Printf("Chip: %s (%.1fs)\n", chip, time.Since(start).Seconds())
	if ids := st.Profiles.ForChip(string(chip)); len(ids) > 0 {
		fmt.Printf("Matching devices: %s\n", strings.Join(ids, ", "))
	}
	return nil
}
