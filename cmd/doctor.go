// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check esptool, serial ports and the data directory",
	Long: `Run bench health checks: esptool availability, serial port discovery,
chip detection on the first port, and a writable data directory.

Problems are listed with a suggested fix.

Exit codes:
  0 - All checks passed
  1 - At least one problem found`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Print JSON")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	st, err := openStation()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report := st.Doctor(ctx)
	if doctorJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
		failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

		for _, c := range report.Checks {
			mark := okStyle.Render("✓")
			if !c.OK {
				mark = failStyle.Render("✗")
			}
			fmt.Printf("%s %-13s %s\n", mark, c.Name, c.Message)
		}
		if !report.Healthy() {
			fmt.Println()
			for i, p := range report.Problems {
				fmt.Printf("%s %s\n", failStyle.Render("Problem:"), p)
				if i < len(report.Suggestions) {
					fmt.Printf("  → %s\n", report.Suggestions[i])
				}
			}
		}
	}

	if !report.Healthy() {
		return &exitError{code: ExitFailed, err: fmt.Errorf("%d problem(s) found", len(report.Problems))}
	}
	return nil
}
