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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flashdeck/pkg/backup"
	"github.com/Thermoquad/flashdeck/pkg/station"
)

var (
	backupDevice string
	backupType   string
	backupName   string
	backupTUI    bool
	backupNoTUI  bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Read device flash into a backup image",
	Long: `Read flash from the device on --port into the backups directory.

Types:
  full - the whole flash (size from the device profile)
  app  - the application partition (0x10000, 1.5 MiB)
  nvs  - the NVS partition (0x9000, 24 KiB)

Large regions are read in 1 MiB chunks, each verified and retried, then
assembled into a single .bin file. Progress is shown as a bar on a terminal
and as text lines otherwise.

Examples:
  flashdeck backup -p /dev/ttyACM0 --device t_beam_1w
  flashdeck backup -p /dev/ttyUSB0 --device t_deck_plus --type nvs --name before-update`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVar(&backupDevice, "device", "", "Device profile id (see: flashdeck devices)")
	backupCmd.Flags().StringVar(&backupType, "type", backup.TypeFull, "Backup type (full, app, nvs)")
	backupCmd.Flags().StringVar(&backupName, "name", "", "Backup file name (default: backup_<device>_<type>_<YYYYMMDD_HHMMSS>.bin)")
	backupCmd.Flags().BoolVar(&backupTUI, "tui", false, "Force the interactive progress display")
	backupCmd.Flags().BoolVar(&backupNoTUI, "no-tui", false, "Print progress as text lines")
	_ = backupCmd.MarkFlagRequired("device")
}

func runBackup(cmd *cobra.Command, args []string) error {
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
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := backup.Request{Port: portName, DeviceID: backupDevice, Type: backupType, Name: backupName}
	done := make(chan backupDoneMsg, 1)
	go func() {
		path, err := st.Backup(ctx, req)
		done <- backupDoneMsg{path: path, err: err}
	}()

	var result backupDoneMsg
	if useTUI(backupTUI, backupNoTUI) {
		title := fmt.Sprintf("%s on %s (%s)", backupDevice, portName, backupType)
		p := tea.NewProgram(newBackupModel(title, st.Progress, done, cancel))
		final, err := p.Run()
		if err != nil {
			cancel()
			result = <-done
			return fmt.Errorf("TUI error: %w", err)
		}
		m := final.(backupModel)
		if m.result == nil {
			cancel()
			result = <-done
		} else {
			result = *m.result
		}
	} else {
		result = followBackup(st, done)
	}

	if result.err != nil {
		return failed(result.err)
	}
	fmt.Println(result.path)
	return nil
}

// followBackup prints a progress line whenever the registry changes
func followBackup(st *station.Station, done <-chan backupDoneMsg) backupDoneMsg {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var last backup.Snapshot
	for {
		select {
		case result := <-done:
			printProgress(st.Progress(), &last)
			return result
		case <-ticker.C:
			printProgress(st.Progress(), &last)
		}
	}
}

func printProgress(snap backup.Snapshot, last *backup.Snapshot) {
	if snap == *last {
		return
	}
	*last = snap
	if snap.Status == backup.StatusIdle {
		return
	}
	fmt.Fprintf(os.Stderr, "[%3d%%] chunk %d/%d %s\n", snap.Pct, snap.Chunk, snap.TotalChunks, snap.Status)
}
