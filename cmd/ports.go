// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	portsDetect bool
	portsJSON   bool
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List candidate serial ports",
	Long: `List serial ports that may have a device attached.

Debug consoles and Bluetooth ports are hidden. With --detect each port is
probed with esptool and matching device profiles are suggested; probing
resets the board, so close any serial monitor first.

Examples:
  flashdeck ports
  flashdeck ports --detect
  flashdeck ports --json`,
	RunE: runPorts,
}

func init() {
	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().BoolVar(&portsDetect, "detect", false, "Probe each port for its chip")
	portsCmd.Flags().BoolVar(&portsJSON, "json", false, "Print JSON")
}

func runPorts(cmd *cobra.Command, args []string) error {
	st, err := openStation()
	if err != nil {
		return err
	}
	defer st.Close()

	if !portsDetect {
		list := st.ListPorts()
		if portsJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tDESCRIPTION\tVID:PID")
		for _, p := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Path, p.Description, vidPID(p.VID, p.PID))
		}
		return w.Flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	detections := st.DetectAll(ctx)
	if portsJSON {
		return printJSON(detections)
	}
	if len(detections) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tDESCRIPTION\tCHIP\tDEVICES")
	for _, d := range detections {
		chip := d.Chip
		if chip == "" {
			chip = "? (" + d.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Path, d.Description, chip, strings.Join(d.SuggestedDevices, ", "))
	}
	return w.Flush()
}

func vidPID(vid, pid string) string {
	if vid == "" && pid == "" {
		return "-"
	}
	return vid + ":" + pid
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
