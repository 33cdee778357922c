// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Thermoquad/flashdeck/pkg/backup"
	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// useTUI decides between the interactive and the line-oriented output
func useTUI(forceTUI, forceText bool) bool {
	if forceText {
		return false
	}
	if forceTUI {
		return true
	}
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

// Messages
type tickMsg time.Time

type backupDoneMsg struct {
	path string
	err  error
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// backupModel shows the progress registry while a backup job runs
type backupModel struct {
	title    string
	progress func() backup.Snapshot
	done     <-chan backupDoneMsg
	cancel   func()

	bar      progress.Model
	snap     backup.Snapshot
	started  time.Time
	result   *backupDoneMsg
	quitting bool
}

func newBackupModel(title string, snapshot func() backup.Snapshot, done <-chan backupDoneMsg, cancel func()) backupModel {
	return backupModel{
		title:    title,
		progress: snapshot,
		done:     done,
		cancel:   cancel,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		started:  time.Now(),
	}
}

func waitBackup(done <-chan backupDoneMsg) tea.Cmd {
	return func() tea.Msg {
		return <-done
	}
}

func (m backupModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(200*time.Millisecond), waitBackup(m.done))
}

func (m backupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// the job still has to finish cleaning up; wait for its result
			if !m.quitting {
				m.quitting = true
				m.cancel()
			}
		}

	case tea.WindowSizeMsg:
		w := msg.Width - 8
		if w > 80 {
			w = 80
		}
		if w > 10 {
			m.bar.Width = w
		}

	case tickMsg:
		m.snap = m.progress()
		return m, tickCmd(200 * time.Millisecond)

	case backupDoneMsg:
		m.snap = m.progress()
		m.result = &msg
		return m, tea.Quit
	}

	return m, nil
}

func (m backupModel) View() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("FLASHDECK - BACKUP"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(m.title + " | Press 'q' to abort"))
	s.WriteString("\n\n")

	content := strings.Builder{}
	content.WriteString(m.bar.ViewAs(float64(m.snap.Pct) / 100))
	content.WriteString("\n")
	content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		labelStyle.Render("Chunk:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.snap.Chunk, m.snap.TotalChunks)),
		labelStyle.Render("Status:"), statusStyle(m.snap.Status).Render(string(m.snap.Status)),
		labelStyle.Render("Elapsed:"), valueStyle.Render(time.Since(m.started).Round(time.Second).String()),
	))
	s.WriteString(boxStyle.Render(content.String()))
	s.WriteString("\n")

	switch {
	case m.result != nil && m.result.err != nil:
		s.WriteString(errorStyle.Render("✗ " + deverr.Message(m.result.err)))
		s.WriteString("\n")
	case m.result != nil:
		s.WriteString(valueStyle.Render("✓ Saved " + m.result.path))
		s.WriteString("\n")
	case m.quitting:
		s.WriteString(warningStyle.Render("Aborting, waiting for esptool to exit..."))
		s.WriteString("\n")
	}
	return s.String()
}

func statusStyle(status backup.Status) lipgloss.Style {
	switch status {
	case backup.StatusError:
		return errorStyle
	case backup.StatusDone:
		return valueStyle
	default:
		return warningStyle
	}
}
