// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package backup

import (
	"math"
	"sync"
)

// Status is the phase of the current backup job
type Status string

// Job phases
const (
	StatusIdle       Status = "idle"
	StatusReading    Status = "reading"
	StatusAssembling Status = "assembling"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Snapshot is a point-in-time copy of the progress registry
type Snapshot struct {
	Pct         int    `json:"pct" cbor:"0,keyasint"`
	Chunk       int    `json:"chunk" cbor:"1,keyasint"`
	TotalChunks int    `json:"total_chunks" cbor:"2,keyasint"`
	Status      Status `json:"status" cbor:"3,keyasint"`
	Error       string `json:"error,omitempty" cbor:"4,keyasint,omitempty"`
	File        string `json:"file,omitempty" cbor:"5,keyasint,omitempty"`
}

// Progress is the single process-wide record of the running or last job.
// Writers are the engine only; readers take snapshots.
type Progress struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewProgress returns an idle registry
func NewProgress() *Progress {
	return &Progress{snap: Snapshot{Status: StatusIdle}}
}

// Snapshot returns a copy of the current state
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *Progress) reset(total int) {
	p.mu.Lock()
	p.snap = Snapshot{TotalChunks: total, Status: StatusReading}
	p.mu.Unlock()
}

func (p *Progress) advance(done int) {
	p.mu.Lock()
	p.snap.Chunk = done
	if p.snap.TotalChunks > 0 {
		p.snap.Pct = int(math.Round(100 * float64(done) / float64(p.snap.TotalChunks)))
	}
	p.mu.Unlock()
}

func (p *Progress) setStatus(s Status) {
	p.mu.Lock()
	p.snap.Status = s
	p.mu.Unlock()
}

func (p *Progress) finish(file string) {
	p.mu.Lock()
	p.snap.Status = StatusDone
	p.snap.Pct = 100
	p.snap.File = file
	p.mu.Unlock()
}

func (p *Progress) fail(msg string) {
	p.mu.Lock()
	p.snap.Status = StatusError
	p.snap.Error = msg
	p.mu.Unlock()
}
