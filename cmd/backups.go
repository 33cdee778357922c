// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/flashdeck/pkg/backup"
)

var backupsJSON bool

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backup images",
	Long: `List the .bin images in the backup directory, newest first.

Examples:
  flashdeck backups
  flashdeck backups rm backup_t_beam_1w_full_20250304_050607.bin`,
	Args: cobra.NoArgs,
	RunE: runBackups,
}

var backupsRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Delete a backup image",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupsRm,
}

func init() {
	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(backupsRmCmd)
	backupsCmd.Flags().BoolVar(&backupsJSON, "json", false, "Print JSON")
}

func runBackups(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	images, err := backup.List(cfg.BackupDir())
	if err != nil {
		return failed(err)
	}
	if backupsJSON {
		return printJSON(images)
	}
	if len(images) == 0 {
		fmt.Fprintf(os.Stderr, "No backups in %s\n", cfg.BackupDir())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, img := range images {
		fmt.Fprintf(w, "%s\t%s\t%s\n", img.Name, humanSize(img.Size), img.Modified.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runBackupsRm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := backup.Delete(cfg.BackupDir(), args[0]); err != nil {
		return failed(err)
	}
	fmt.Fprintln(os.Stderr, valueStyle.Render("✓ deleted "+args[0]))
	return nil
}

// humanSize prints sizes in the KiB/MiB units flash sizes use
func humanSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MiB", n>>20)
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%d KiB", n>>10)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
