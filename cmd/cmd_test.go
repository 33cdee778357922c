// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/Thermoquad/flashdeck/pkg/api"
	"github.com/Thermoquad/flashdeck/pkg/backup"
	"github.com/Thermoquad/flashdeck/pkg/deverr"
	"github.com/Thermoquad/flashdeck/pkg/monitor"
)

// ============================================================
// Exit Code Tests
// ============================================================

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitFailed},
		{"not found", failed(deverr.New(deverr.NotFound, "esptool", "esptool not found")), ExitConnection},
		{"busy", failed(deverr.New(deverr.Busy, "portlock", "port in use")), ExitConnection},
		{"timeout", failed(deverr.New(deverr.Timeout, "probe", "Timeout")), ExitFailed},
		{"integrity", failed(deverr.New(deverr.ChunkIntegrity, "backup", "short")), ExitFailed},
		{"explicit", &exitError{code: ExitConnection, err: errors.New("--port")}, ExitConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFailedKeepsMessage(t *testing.T) {
	err := failed(deverr.New(deverr.Unsupported, "backup", "UF2 devices cannot be backed up"))
	if ErrorMessage(err) != "UF2 devices cannot be backed up" {
		t.Errorf("ErrorMessage = %q", ErrorMessage(err))
	}
	if failed(nil) != nil {
		t.Error("failed(nil) should be nil")
	}
}

func TestUseTUI(t *testing.T) {
	if useTUI(true, true) {
		t.Error("--no-tui should win")
	}
	if !useTUI(true, false) {
		t.Error("--tui should force the TUI")
	}
}

// ============================================================
// Remote Endpoint Tests
// ============================================================

func TestParseRemote(t *testing.T) {
	tests := []struct {
		raw        string
		wantStream string
		wantAPI    string
		wantErr    bool
	}{
		{"http://bench:8080", "ws://bench:8080/ws/serial?format=cbor", "http://bench:8080/api/serial/start", false},
		{"https://bench/flashdeck/", "wss://bench/flashdeck/ws/serial?format=cbor", "https://bench/flashdeck/api/serial/start", false},
		{"ws://10.0.0.2:8080", "ws://10.0.0.2:8080/ws/serial?format=cbor", "http://10.0.0.2:8080/api/serial/start", false},
		{"ftp://bench", "", "", true},
		{"http://", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			e, err := parseRemote(tt.raw, "", "", false)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRemote error: %v", err)
			}
			if got := e.streamURL(); got != tt.wantStream {
				t.Errorf("streamURL = %q, want %q", got, tt.wantStream)
			}
			if got := e.apiURL("/api/serial/start"); got != tt.wantAPI {
				t.Errorf("apiURL = %q, want %q", got, tt.wantAPI)
			}
		})
	}
}

func TestBasicAuthHeader(t *testing.T) {
	e, _ := parseRemote("http://bench", "admin", "secret", false)
	if got := e.headers().Get("Authorization"); got != "Basic YWRtaW46c2VjcmV0" {
		t.Errorf("Authorization = %q", got)
	}
	e, _ = parseRemote("http://bench", "", "", false)
	if got := e.headers().Get("Authorization"); got != "" {
		t.Errorf("unexpected Authorization %q", got)
	}
}

func TestRemoteStreamDecodesFrames(t *testing.T) {
	port := "/dev/ttyUSB0"
	want := monitor.Snapshot{Lines: []string{"boot", "ready"}, ActivePort: &port, Active: true, Seq: 2}

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != api.FormatCBOR {
			http.Error(w, "want cbor", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// text frames are skipped by the client
		conn.WriteMessage(websocket.TextMessage, []byte(`{"ignored":true}`))
		data, _ := api.EncodeSnapshot(want)
		conn.WriteMessage(websocket.BinaryMessage, data)
		conn.ReadMessage()
	}))
	defer srv.Close()

	e, err := parseRemote(srv.URL, "", "", false)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, err := e.OpenStream(ctx)
	if err != nil {
		t.Fatalf("OpenStream error: %v", err)
	}
	defer src.Close()

	got, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next error: %v", err)
	}
	if got.Seq != 2 || len(got.Lines) != 2 || got.Lines[1] != "ready" || got.ActivePort == nil || *got.ActivePort != port {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestRemoteStreamConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	e, _ := parseRemote(srv.URL, "", "", false)
	_, err := e.OpenStream(context.Background())
	if !errors.Is(err, deverr.ErrNotFound) {
		t.Fatalf("error = %v, want NotFound", err)
	}
	if !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("error = %v, want HTTP status", err)
	}
}

func TestRemoteCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/serial/start" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"message":"port /dev/ttyUSB0 is in use by backup","kind":"busy"}`))
	}))
	defer srv.Close()

	e, _ := parseRemote(srv.URL, "", "", false)
	result, err := e.Call(context.Background(), "/api/serial/start", map[string]interface{}{"port": "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if result.OK || deverr.ParseKind(result.Kind) != deverr.Busy {
		t.Errorf("result = %+v", result)
	}
}

// ============================================================
// Monitor Follow Tests
// ============================================================

// scriptedSource returns queued snapshots, then the context error
type scriptedSource struct {
	snaps []monitor.Snapshot
}

func (s *scriptedSource) Next(ctx context.Context) (monitor.Snapshot, error) {
	if len(s.snaps) == 0 {
		<-ctx.Done()
		return monitor.Snapshot{}, ctx.Err()
	}
	snap := s.snaps[0]
	s.snaps = s.snaps[1:]
	return snap, nil
}

func (s *scriptedSource) Close() error { return nil }

func TestFollowMonitorReportsSessionEnd(t *testing.T) {
	src := &scriptedSource{snaps: []monitor.Snapshot{
		{Lines: []string{"a"}, Active: true, Seq: 1},
		{Lines: []string{"a", "[Read error] device disconnected"}, Active: false, Seq: 2},
	}}

	err := followMonitor(context.Background(), src)
	if ExitCode(err) != ExitFailed {
		t.Fatalf("exit code = %d, want %d", ExitCode(err), ExitFailed)
	}
	if ErrorMessage(err) != "[Read error] device disconnected" {
		t.Errorf("message = %q", ErrorMessage(err))
	}
}

func TestFollowMonitorInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{snaps: []monitor.Snapshot{{Lines: []string{"a"}, Active: true, Seq: 1}}}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := followMonitor(ctx, src); err != nil {
		t.Errorf("interrupt should exit cleanly, got %v", err)
	}
}

// ============================================================
// Backup Progress Tests
// ============================================================

func TestBackupModelFinishes(t *testing.T) {
	done := make(chan backupDoneMsg, 1)
	snap := backup.Snapshot{Pct: 100, Chunk: 4, TotalChunks: 4, Status: backup.StatusDone}
	m := newBackupModel("test", func() backup.Snapshot { return snap }, done, func() {})

	next, cmd := m.Update(backupDoneMsg{path: "/tmp/b.bin"})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	bm := next.(backupModel)
	if bm.result == nil || bm.result.path != "/tmp/b.bin" {
		t.Fatalf("result = %+v", bm.result)
	}
	if !strings.Contains(bm.View(), "Saved /tmp/b.bin") {
		t.Errorf("view missing result:\n%s", bm.View())
	}
}

func TestBackupModelAbortCancelsOnce(t *testing.T) {
	cancels := 0
	m := newBackupModel("test", func() backup.Snapshot { return backup.Snapshot{} }, nil, func() { cancels++ })

	next, _ := m.Update(keyMsg("q"))
	next, _ = next.Update(keyMsg("q"))
	if cancels != 1 {
		t.Errorf("cancel called %d times, want 1", cancels)
	}
	if !next.(backupModel).quitting {
		t.Error("model should be waiting for the job")
	}
}

func keyMsg(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{8 << 20, "8 MiB"},
		{0x180000, "1.5 MiB"},
		{0x6000, "24 KiB"},
		{512, "512 B"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.n); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestBackupNameHelpMatchesDefault(t *testing.T) {
	usage := backupCmd.Flags().Lookup("name").Usage
	name := backup.DefaultName("t_beam_1w", "full", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	if name != "backup_t_beam_1w_full_20250101_120000.bin" {
		t.Fatalf("DefaultName = %q", name)
	}
	if !strings.Contains(usage, "backup_<device>_<type>_<YYYYMMDD_HHMMSS>.bin") {
		t.Errorf("--name usage %q does not describe the default name", usage)
	}
	if !strings.Contains(restoreCmd.Long, name) {
		t.Errorf("restore example should use a default-named backup")
	}
}
