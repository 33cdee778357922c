// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api serves a bench over HTTP: JSON endpoints for every device
// operation and a WebSocket stream of the serial buffer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flashdeck/pkg/backup"
	"github.com/Thermoquad/flashdeck/pkg/deverr"
	"github.com/Thermoquad/flashdeck/pkg/esptool"
	"github.com/Thermoquad/flashdeck/pkg/flasher"
	"github.com/Thermoquad/flashdeck/pkg/monitor"
	"github.com/Thermoquad/flashdeck/pkg/ports"
	"github.com/Thermoquad/flashdeck/pkg/profile"
	"github.com/Thermoquad/flashdeck/pkg/station"
)

// Bench is the set of operations the server exposes
type Bench interface {
	ListPorts() []ports.SerialPort
	DetectAll(ctx context.Context) []station.Detection
	Probe(ctx context.Context, port string) (esptool.Chip, error)
	Backup(ctx context.Context, req backup.Request) (string, error)
	Progress() backup.Snapshot
	ListBackups() ([]backup.Image, error)
	DeleteBackup(name string) error
	Flash(ctx context.Context, req flasher.Request) error
	Restore(ctx context.Context, port, deviceID, file string) error
	StartMonitor(port string, baud int) error
	StopMonitor()
	Buffer() monitor.Snapshot
	HistoryTail(n int) ([]string, error)
	Devices() []profile.Device
	Doctor(ctx context.Context) station.Report
}

// DefaultHistoryLines is returned by the history endpoint when n is not given
const DefaultHistoryLines = 200

// Server routes HTTP requests to a Bench
type Server struct {
	bench  Bench
	logger logrus.FieldLogger
	mux    *http.ServeMux

	// StreamInterval is how often the WebSocket stream checks for new lines
	StreamInterval time.Duration
}

// NewServer creates the handler tree for bench
func NewServer(bench Bench, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		bench:          bench,
		logger:         logger,
		mux:            http.NewServeMux(),
		StreamInterval: 250 * time.Millisecond,
	}

	s.mux.HandleFunc("GET /api/ports", s.handlePorts)
	s.mux.HandleFunc("POST /api/probe", s.handleProbe)
	s.mux.HandleFunc("GET /api/devices", s.handleDevices)
	s.mux.HandleFunc("POST /api/backup", s.handleBackup)
	s.mux.HandleFunc("GET /api/backup/progress", s.handleProgress)
	s.mux.HandleFunc("GET /api/backups", s.handleBackups)
	s.mux.HandleFunc("DELETE /api/backups/{name}", s.handleDeleteBackup)
	s.mux.HandleFunc("POST /api/flash", s.handleFlash)
	s.mux.HandleFunc("POST /api/restore", s.handleRestore)
	s.mux.HandleFunc("POST /api/serial/start", s.handleSerialStart)
	s.mux.HandleFunc("POST /api/serial/stop", s.handleSerialStop)
	s.mux.HandleFunc("GET /api/serial/buffer", s.handleSerialBuffer)
	s.mux.HandleFunc("GET /api/serial/history", s.handleSerialHistory)
	s.mux.HandleFunc("GET /api/doctor", s.handleDoctor)
	s.mux.HandleFunc("GET /ws/serial", s.handleSerialStream)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("request")
	s.mux.ServeHTTP(w, r)
}

// Request bodies

type probeRequest struct {
	Port string `json:"port"`
}

type backupRequest struct {
	Port   string `json:"port"`
	Device string `json:"device"`
	Type   string `json:"type"`
	Name   string `json:"name"`
}

type flashRequest struct {
	Port    string `json:"port"`
	Device  string `json:"device"`
	File    string `json:"file"`
	Address string `json:"address"`
}

type serialStartRequest struct {
	Port string `json:"port"`
	Baud int    `json:"baud"`
}

// Responses

type probeResponse struct {
	deverr.Result
	Chip             string   `json:"chip,omitempty"`
	SuggestedDevices []string `json:"suggested_devices,omitempty"`
}

type backupResponse struct {
	deverr.Result
	File string `json:"file,omitempty"`
}

type historyResponse struct {
	Lines []string `json:"lines"`
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if detect, _ := strconv.ParseBool(r.URL.Query().Get("detect")); detect {
		writeJSON(w, http.StatusOK, s.bench.DetectAll(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, s.bench.ListPorts())
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	chip, err := s.bench.Probe(r.Context(), req.Port)
	resp := probeResponse{Result: deverr.ResultOf(err, "Detected "+chip.String())}
	if err == nil {
		resp.Chip = string(chip)
		for _, d := range s.bench.Devices() {
			if d.Chip == string(chip) {
				resp.SuggestedDevices = append(resp.SuggestedDevices, d.ID)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bench.Devices())
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	var req backupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	path, err := s.bench.Backup(r.Context(), backup.Request{
		Port:     req.Port,
		DeviceID: req.Device,
		Type:     req.Type,
		Name:     req.Name,
	})
	writeJSON(w, http.StatusOK, backupResponse{
		Result: deverr.ResultOf(err, "Backup saved to "+path),
		File:   path,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bench.Progress())
}

func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	images, err := s.bench.ListBackups()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, deverr.ResultOf(err, ""))
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := s.bench.DeleteBackup(name)
	writeJSON(w, http.StatusOK, deverr.ResultOf(err, "Deleted "+name))
}

func (s *Server) handleFlash(w http.ResponseWriter, r *http.Request) {
	var req flashRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.bench.Flash(r.Context(), flasher.Request{
		Port:     req.Port,
		DeviceID: req.Device,
		File:     req.File,
		Address:  req.Address,
	})
	writeJSON(w, http.StatusOK, deverr.ResultOf(err, "Flash complete"))
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req flashRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.bench.Restore(r.Context(), req.Port, req.Device, req.File)
	writeJSON(w, http.StatusOK, deverr.ResultOf(err, "Restore complete"))
}

func (s *Server) handleSerialStart(w http.ResponseWriter, r *http.Request) {
	var req serialStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	err := s.bench.StartMonitor(req.Port, req.Baud)
	writeJSON(w, http.StatusOK, deverr.ResultOf(err, "Monitoring "+req.Port))
}

func (s *Server) handleSerialStop(w http.ResponseWriter, r *http.Request) {
	s.bench.StopMonitor()
	writeJSON(w, http.StatusOK, deverr.ResultOf(nil, "Stopped"))
}

func (s *Server) handleSerialBuffer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bench.Buffer())
}

func (s *Server) handleSerialHistory(w http.ResponseWriter, r *http.Request) {
	n := DefaultHistoryLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, deverr.Result{Message: "n must be a non-negative integer"})
			return
		}
		n = parsed
	}
	lines, err := s.bench.HistoryTail(n)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, deverr.ResultOf(err, ""))
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Lines: lines})
}

func (s *Server) handleDoctor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bench.Doctor(r.Context()))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, deverr.Result{Message: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
