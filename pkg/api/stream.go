// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flashdeck/pkg/monitor"
)

// Stream formats
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// EncodeSnapshot encodes a buffer snapshot as a CBOR frame
func EncodeSnapshot(snap monitor.Snapshot) ([]byte, error) {
	return cbor.Marshal(snap)
}

// DecodeSnapshot decodes a CBOR frame produced by EncodeSnapshot
func DecodeSnapshot(data []byte) (monitor.Snapshot, error) {
	var snap monitor.Snapshot
	err := cbor.Unmarshal(data, &snap)
	return snap, err
}

// handleSerialStream pushes the buffer snapshot whenever it changes.
// ?format=cbor selects binary CBOR frames instead of JSON text frames.
func (s *Server) handleSerialStream(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCBOR {
		http.Error(w, "format must be json or cbor", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithField("error", err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.WithFields(logrus.Fields{"remote": r.RemoteAddr, "format": format})
	logger.Info("serial stream client connected")

	// The client never sends anything we act on; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.StreamInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *monitor.Snapshot
	for {
		snap := s.bench.Buffer()
		if last == nil || last.Differs(snap) {
			if err := writeSnapshot(conn, format, snap); err != nil {
				logger.WithField("error", err).Debug("serial stream write failed")
				return
			}
			last = &snap
		}

		select {
		case <-closed:
			logger.Info("serial stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeSnapshot(conn *websocket.Conn, format string, snap monitor.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if format == FormatCBOR {
		data, err := EncodeSnapshot(snap)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.BinaryMessage, data)
	}
	return conn.WriteJSON(snap)
}
