// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package portlock tracks which operation owns each physical serial port.
package portlock

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
	"github.com/Thermoquad/flashdeck/pkg/ports"
)

// Registry grants exclusive claims on ports. The zero value is ready to use.
type Registry struct {
	mu     sync.Mutex
	owners map[string]claim
	next   uint64
}

type claim struct {
	owner string
	id    uint64
}

// Canonical folds the macOS cu./tty. twins of a device onto the cu. path
func Canonical(path string) string {
	if strings.HasPrefix(filepath.Base(path), "tty.") {
		if alt := ports.Alternate(path); alt != "" {
			return alt
		}
	}
	return path
}

// Claim takes port for owner. The returned release func is idempotent and
// only drops the claim it created. A port held by someone else returns Busy.
func (r *Registry) Claim(port, owner string) (func(), error) {
	key := Canonical(port)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owners == nil {
		r.owners = make(map[string]claim)
	}
	if held, ok := r.owners[key]; ok {
		return nil, deverr.Newf(deverr.Busy, "portlock", "port %s is in use by %s", port, held.owner)
	}

	r.next++
	id := r.next
	r.owners[key] = claim{owner: owner, id: id}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if held, ok := r.owners[key]; ok && held.id == id {
				delete(r.owners, key)
			}
		})
	}, nil
}

// Owner returns who holds port, or "" when it is free
func (r *Registry) Owner(port string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owners[Canonical(port)].owner
}

// Held returns a copy of all current claims keyed by canonical port
func (r *Registry) Held() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.owners))
	for port, c := range r.owners {
		out[port] = c.owner
	}
	return out
}
