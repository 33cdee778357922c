// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

// ring is a fixed-capacity FIFO of lines that drops the oldest when full.
// It is not safe for concurrent use.
type ring struct {
	buf   []string
	head  int
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]string, capacity)}
}

func (r *ring) push(line string) {
	idx := (r.head + r.count) % len(r.buf)
	r.buf[idx] = line
	if r.count < len(r.buf) {
		r.count++
		return
	}
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) reset() {
	for i := range r.buf {
		r.buf[i] = ""
	}
	r.head, r.count = 0, 0
}

func (r *ring) len() int { return r.count }

// lines returns the contents oldest first in a new slice
func (r *ring) lines() []string {
	out := make([]string, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
