// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
	"github.com/Thermoquad/flashdeck/pkg/monitor"
)

var (
	// Remote connection flags
	remoteURL      string
	remoteUsername string
	noSSLVerify    bool

	monitorTUI   bool
	monitorNoTUI bool
	historyLines int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Capture device serial output",
	Long: `Open --port and show device output as it arrives.

Every line is also appended to serial.log in the logs directory. The last
500 lines stay in memory; older ones are only in the log file.

With --url the output of a running 'flashdeck serve' is shown instead. If
--port is also given, the server starts monitoring that port first.

Examples:
  flashdeck monitor -p /dev/ttyUSB0
  flashdeck monitor -p /dev/ttyACM0 -b 921600 --no-tui
  flashdeck monitor --url http://bench.local:8080
  flashdeck monitor --url https://bench.local -u admin -p /dev/ttyUSB0
  flashdeck monitor history -n 50`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the end of the persistent serial log",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.AddCommand(historyCmd)

	monitorCmd.Flags().StringVar(&remoteURL, "url", "", "flashdeck server URL (http://, https://, ws:// or wss://)")
	monitorCmd.Flags().StringVarP(&remoteUsername, "username", "u", "", "Username for HTTP Basic auth")
	monitorCmd.Flags().BoolVar(&noSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification")
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", false, "Force the interactive viewer")
	monitorCmd.Flags().BoolVar(&monitorNoTUI, "no-tui", false, "Print lines to stdout")

	historyCmd.Flags().IntVarP(&historyLines, "lines", "n", 100, "Number of lines")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		src    snapshotSource
		origin string
		err    error
	)
	if remoteURL != "" {
		src, err = openRemoteMonitor(ctx)
		origin = remoteURL
	} else {
		src, err = openLocalMonitor()
		origin = "local"
	}
	if err != nil {
		return err
	}
	defer src.Close()

	if useTUI(monitorTUI, monitorNoTUI) {
		p := tea.NewProgram(newMonitorModel(ctx, src, origin), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	}
	return followMonitor(ctx, src)
}

func openLocalMonitor() (snapshotSource, error) {
	if err := requirePort(); err != nil {
		return nil, err
	}
	st, err := openStation()
	if err != nil {
		return nil, err
	}
	if err := st.StartMonitor(portName, baudRate); err != nil {
		st.Close()
		return nil, failed(err)
	}
	return &closingSource{snapshotSource: newLocalSource(st), close: st.Close}, nil
}

func openRemoteMonitor(ctx context.Context) (snapshotSource, error) {
	password := ""
	if remoteUsername != "" {
		pw, err := GetPassword()
		if err != nil {
			return nil, err
		}
		password = pw
	}

	endpoint, err := parseRemote(remoteURL, remoteUsername, password, noSSLVerify)
	if err != nil {
		return nil, err
	}

	if portName != "" {
		result, err := endpoint.Call(ctx, "/api/serial/start", map[string]interface{}{
			"port": portName,
			"baud": baudRate,
		})
		if err != nil {
			return nil, failed(err)
		}
		if !result.OK {
			return nil, failed(deverr.New(deverr.ParseKind(result.Kind), "monitor", result.Message))
		}
	}

	src, err := endpoint.OpenStream(ctx)
	if err != nil {
		return nil, failed(err)
	}
	return src, nil
}

// closingSource runs close after the wrapped source is closed
type closingSource struct {
	snapshotSource
	close func()
}

func (c *closingSource) Close() error {
	err := c.snapshotSource.Close()
	c.close()
	return err
}

// followMonitor prints new lines until interrupted or the session ends
func followMonitor(ctx context.Context, src snapshotSource) error {
	var (
		seq     uint64
		wasLive bool
	)
	for {
		snap, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return failed(err)
		}

		for _, line := range snap.NewLines(seq) {
			fmt.Println(line)
		}
		seq = snap.Seq

		if wasLive && !snap.Active {
			return failed(deverr.New(deverr.Failed, "monitor", lastLine(snap)))
		}
		wasLive = snap.Active
	}
}

func lastLine(snap monitor.Snapshot) string {
	if len(snap.Lines) == 0 {
		return "monitor stopped"
	}
	return snap.Lines[len(snap.Lines)-1]
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	history, err := monitor.OpenHistory(cfg.LogDir())
	if err != nil {
		return failed(err)
	}
	lines, err := history.Tail(historyLines)
	if err != nil {
		return failed(err)
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}
