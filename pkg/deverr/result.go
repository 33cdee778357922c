// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package deverr

// Result is the boundary form of every device operation
type Result struct {
	OK      bool   `json:"ok" cbor:"0,keyasint"`
	Message string `json:"message" cbor:"1,keyasint"`
	Kind    string `json:"kind,omitempty" cbor:"2,keyasint,omitempty"`
}

// ResultOf converts an operation error into a Result.
// okMessage is used when err is nil.
func ResultOf(err error, okMessage string) Result {
	if err == nil {
		return Result{OK: true, Message: okMessage}
	}
	return Result{
		OK:      false,
		Message: Message(err),
		Kind:    KindOf(err).String(),
	}
}

// Truncate shortens tool output for inclusion in a message
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
