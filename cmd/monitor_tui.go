// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/flashdeck/pkg/monitor"
)

// Messages
type snapshotMsg monitor.Snapshot

type sourceErrMsg struct{ err error }

func nextSnapshot(ctx context.Context, src snapshotSource) tea.Cmd {
	return func() tea.Msg {
		snap, err := src.Next(ctx)
		if err != nil {
			return sourceErrMsg{err}
		}
		return snapshotMsg(snap)
	}
}

// monitorModel shows the serial buffer in a scrollable viewport
type monitorModel struct {
	ctx    context.Context
	src    snapshotSource
	origin string

	view    viewport.Model
	ready   bool
	snap    monitor.Snapshot
	follow  bool
	err     error
	stopped bool
}

func newMonitorModel(ctx context.Context, src snapshotSource, origin string) monitorModel {
	return monitorModel{ctx: ctx, src: src, origin: origin, follow: true}
}

func (m monitorModel) Init() tea.Cmd {
	return nextSnapshot(m.ctx, m.src)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "f":
			m.follow = !m.follow
			if m.follow && m.ready {
				m.view.GotoBottom()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		// title, header and footer lines plus the box border
		height := msg.Height - 6
		if height < 3 {
			height = 3
		}
		width := msg.Width - 4
		if !m.ready {
			m.view = viewport.New(width, height)
			m.ready = true
		} else {
			m.view.Width = width
			m.view.Height = height
		}
		m.refresh()

	case snapshotMsg:
		if m.snap.Active && !msg.Active {
			m.stopped = true
		}
		m.snap = monitor.Snapshot(msg)
		m.refresh()
		cmds = append(cmds, nextSnapshot(m.ctx, m.src))

	case sourceErrMsg:
		m.err = msg.err
		return m, nil
	}

	if m.ready {
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		cmds = append(cmds, cmd)
		if _, ok := msg.(tea.KeyMsg); ok {
			m.follow = m.view.AtBottom()
		}
	}
	return m, tea.Batch(cmds...)
}

func (m *monitorModel) refresh() {
	if !m.ready {
		return
	}
	m.view.SetContent(strings.Join(m.snap.Lines, "\n"))
	if m.follow {
		m.view.GotoBottom()
	}
}

func (m monitorModel) View() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("FLASHDECK - SERIAL MONITOR"))
	s.WriteString("\n")

	port := "none"
	if m.snap.ActivePort != nil {
		port = *m.snap.ActivePort
	}
	status := valueStyle.Render("active")
	if !m.snap.Active {
		status = warningStyle.Render("stopped")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Port: %s | ", m.origin, port)))
	s.WriteString(status)
	s.WriteString(headerStyle.Render(fmt.Sprintf(" | Lines: %d | Press 'q' to quit, 'f' to follow", len(m.snap.Lines))))
	s.WriteString("\n")

	if m.ready {
		s.WriteString(boxStyle.Render(m.view.View()))
	} else {
		s.WriteString(headerStyle.Render("Waiting for output..."))
	}
	s.WriteString("\n")

	switch {
	case m.err != nil && m.ctx.Err() == nil:
		s.WriteString(errorStyle.Render("Connection lost: " + m.err.Error()))
	case m.stopped:
		s.WriteString(warningStyle.Render("Session ended, see the last line for the cause"))
	case !m.follow:
		s.WriteString(headerStyle.Render("Scrolled, press 'f' to follow"))
	}
	return s.String()
}
