// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var devicesJSON bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List known device profiles",
	Long: `List the device profiles used to address flash operations.

Built-in profiles can be overridden and extended in the devices section of
the configuration file:

  devices:
    my_board:
      chip: esp32c3
      flash_size: 4MB
      flash_mode: dio`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Print JSON")
}

func runDevices(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	list := cfg.Profiles().List()
	if devicesJSON {
		return printJSON(list)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHIP\tFLASH\tMODE\tMETHOD\tDESCRIPTION")
	for _, d := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.Chip, d.FlashSize, dashIfEmpty(d.FlashMode), d.Method(), d.Description)
	}
	return w.Flush()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
