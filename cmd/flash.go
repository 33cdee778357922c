// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/flashdeck/pkg/flasher"
)

var (
	flashDevice  string
	flashAddress string
)

var flashCmd = &cobra.Command{
	Use:   "flash FILE",
	Short: "Write a firmware image to device flash",
	Long: `Write a .bin or Intel HEX file to the device on --port.

Binary images are written at --addr (default 0x0). HEX files are converted
to a padded binary first and written at their own start address unless
--addr is given.

Examples:
  flashdeck flash -p /dev/ttyACM0 --device t_beam_1w firmware.bin --addr 0x10000
  flashdeck flash -p /dev/ttyUSB0 --device t_deck_plus app.hex`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

var restoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Write a full backup image back to the device",
	Long: `Write a backup image at address 0x0 on the device on --port.

Example:
  flashdeck restore -p /dev/ttyACM0 --device t_beam_1w artifacts/backups/backup_t_beam_1w_full_20250101_120000.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(flashCmd)
	rootCmd.AddCommand(restoreCmd)

	flashCmd.Flags().StringVar(&flashDevice, "device", "", "Device profile id (see: flashdeck devices)")
	flashCmd.Flags().StringVar(&flashAddress, "addr", "", "Flash address, hex (0x10000) or decimal")
	_ = flashCmd.MarkFlagRequired("device")

	restoreCmd.Flags().StringVar(&flashDevice, "device", "", "Device profile id (see: flashdeck devices)")
	_ = restoreCmd.MarkFlagRequired("device")
}

func runFlash(cmd *cobra.Command, args []string) error {
	return writeImage(args[0], func(ctx context.Context, w writeTarget) error {
		return w.Flash(ctx, flasher.Request{
			Port:     portName,
			DeviceID: flashDevice,
			File:     args[0],
			Address:  flashAddress,
		})
	})
}

func runRestore(cmd *cobra.Command, args []string) error {
	return writeImage(args[0], func(ctx context.Context, w writeTarget) error {
		return w.Restore(ctx, portName, flashDevice, args[0])
	})
}

type writeTarget interface {
	Flash(ctx context.Context, req flasher.Request) error
	Restore(ctx context.Context, port, deviceID, file string) error
}

func writeImage(file string, write func(context.Context, writeTarget) error) error {
	if err := requirePort(); err != nil {
		return err
	}

	st, err := openStation()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "%s %s to %s...\n", headerStyle.Render("Writing"), file, portName)
	start := time.Now()
	if err := write(ctx, st); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✗ write failed"))
		return failed(err)
	}
	fmt.Fprintln(os.Stderr, valueStyle.Render(fmt.Sprintf("✓ done in %s", time.Since(start).Round(100*time.Millisecond))))
	return nil
}
