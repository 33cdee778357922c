// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package esptool

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

// MacReader is the part of Tool the prober needs
type MacReader interface {
	ReadMac(ctx context.Context, port, chip string, timeout time.Duration) (string, error)
}

// DefaultGuesses are the families tried explicitly when auto-detect fails,
// most common bench devices first
var DefaultGuesses = []string{"esp32s3", "esp32"}

// Prober identifies the chip attached to a port
type Prober struct {
	Tool MacReader
	// Timeout bounds the whole probe
	Timeout time.Duration
	// AttemptTimeout bounds each tool run; zero splits Timeout evenly
	// between the auto-detect run and the guesses
	AttemptTimeout time.Duration
	Guesses        []string
	Logger         logrus.FieldLogger
}

// Detect runs an auto-detect probe and then each guess in order.
// It returns ChipUnknown and a classified error when nothing matched;
// the error message is "Timeout" once the overall budget is spent.
func (p *Prober) Detect(ctx context.Context, port string) (Chip, error) {
	logger := p.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("port", port)

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	guesses := p.Guesses
	if guesses == nil {
		guesses = DefaultGuesses
	}
	attempt := p.AttemptTimeout
	if attempt <= 0 {
		attempt = timeout / time.Duration(1+len(guesses))
	}
	if attempt > timeout {
		attempt = timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for _, guess := range append([]string{""}, guesses...) {
		if ctx.Err() != nil {
			break
		}

		out, err := p.Tool.ReadMac(ctx, port, guess, attempt)
		if chip := ParseChip(out); chip != ChipUnknown {
			logger.WithField("chip", chip).Debug("chip detected")
			return chip, nil
		}
		if err == nil {
			continue
		}
		if deverr.KindOf(err) == deverr.NotFound {
			return ChipUnknown, err
		}

		logger.WithFields(logrus.Fields{"guess": guess, "error": err}).Debug("probe attempt failed")
		lastErr = err
	}

	if ctx.Err() != nil {
		return ChipUnknown, deverr.New(deverr.Timeout, "probe", "Timeout")
	}
	if lastErr != nil {
		return ChipUnknown, lastErr
	}
	return ChipUnknown, deverr.New(deverr.Failed, "probe", "Could not detect chip")
}
