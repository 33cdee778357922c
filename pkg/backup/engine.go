// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package backup reads device flash into image files. Large regions are read
// in fixed-size chunks, each verified and retried on its own, then assembled.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/flashdeck/pkg/deverr"
)

// FlashReader reads size bytes of flash at addr into the file dst
type FlashReader interface {
	ReadFlash(ctx context.Context, chip, port string, addr, size int64, dst string, timeout time.Duration) error
}

// Options tune the chunked reader
type Options struct {
	ChunkSize         int64
	Retries           int
	RetryBackoff      time.Duration
	ChunkTimeout      time.Duration
	SinglePassMax     int64
	SinglePassTimeout time.Duration
	// TempDir is where chunk directories are created; "" means os.TempDir
	TempDir string
	Logger  logrus.FieldLogger
}

// DefaultOptions match the bench defaults: 1 MiB chunks, 3 attempts 2s apart
func DefaultOptions() Options {
	return Options{
		ChunkSize:         0x100000,
		Retries:           3,
		RetryBackoff:      2 * time.Second,
		ChunkTimeout:      180 * time.Second,
		SinglePassMax:     0x200000,
		SinglePassTimeout: 300 * time.Second,
	}
}

// Engine runs at most one flash read at a time
type Engine struct {
	reader   FlashReader
	opts     Options
	progress *Progress
	logger   logrus.FieldLogger

	// Sleep waits between attempts; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running bool
}

// NewEngine creates an engine reading through r
func NewEngine(r FlashReader, opts Options) *Engine {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.Retries <= 0 {
		opts.Retries = def.Retries
	}
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = def.ChunkTimeout
	}
	if opts.SinglePassTimeout <= 0 {
		opts.SinglePassTimeout = def.SinglePassTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		reader:   r,
		opts:     opts,
		progress: NewProgress(),
		logger:   logger,
		Sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress returns a snapshot of the current or last job
func (e *Engine) Progress() Snapshot {
	return e.progress.Snapshot()
}

// acquire marks a job as running, failing with Busy if one already is
func (e *Engine) acquire() (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, deverr.New(deverr.Busy, "backup", "A backup is already in progress")
	}
	e.running = true
	return func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}, nil
}

// ReadRegion reads [start, start+size) from the device on port into dst.
// On any failure dst is not created and the progress registry holds the error.
func (e *Engine) ReadRegion(ctx context.Context, chip, port string, start, size int64, dst string) error {
	release, err := e.acquire()
	if err != nil {
		return err
	}
	defer release()
	return e.readRegion(ctx, chip, port, start, size, dst)
}

func (e *Engine) readRegion(ctx context.Context, chip, port string, start, size int64, dst string) error {
	if size <= 0 {
		return deverr.Newf(deverr.Failed, "backup", "invalid region size %d", size)
	}

	chunkSize, timeout := e.opts.ChunkSize, e.opts.ChunkTimeout
	if size <= e.opts.SinglePassMax {
		chunkSize, timeout = size, e.opts.SinglePassTimeout
	}
	total := int((size + chunkSize - 1) / chunkSize)
	e.progress.reset(total)

	logger := e.logger.WithFields(logrus.Fields{"port": port, "chip": chip})
	logger.WithFields(logrus.Fields{
		"start":  fmt.Sprintf("0x%X", start),
		"size":   size,
		"chunks": total,
	}).Info("flash read started")

	tmp, err := os.MkdirTemp(e.opts.TempDir, "flash_chunks_")
	if err != nil {
		return e.abort(deverr.Wrap(deverr.Failed, "backup", errors.Wrap(err, "failed to create chunk directory")))
	}
	defer os.RemoveAll(tmp)

	chunks := make([]string, 0, total)
	end := start + size
	for idx, offset := 0, start; offset < end; idx, offset = idx+1, offset+chunkSize {
		length := chunkSize
		if end-offset < length {
			length = end - offset
		}
		path := filepath.Join(tmp, fmt.Sprintf("chunk_%08x.bin", offset))

		if err := e.readChunk(ctx, logger, chip, port, offset, length, path, timeout); err != nil {
			msg := fmt.Sprintf("Failed at 0x%X: %s", offset, deverr.Message(err))
			return e.abort(&deverr.Error{Kind: deverr.KindOf(err), Op: "backup", Msg: msg, Err: err})
		}

		chunks = append(chunks, path)
		e.progress.advance(idx + 1)
		logger.WithField("offset", fmt.Sprintf("0x%X", offset)).Debugf("chunk %d/%d read", idx+1, total)
	}

	e.progress.setStatus(StatusAssembling)
	if err := assemble(chunks, dst); err != nil {
		return e.abort(deverr.Wrap(deverr.Failed, "backup", err))
	}

	e.progress.finish(dst)
	logger.WithField("file", dst).Info("flash read complete")
	return nil
}

// readChunk reads one chunk, retrying until a complete file is produced
func (e *Engine) readChunk(ctx context.Context, logger logrus.FieldLogger, chip, port string, offset, length int64, path string, timeout time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= e.opts.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return deverr.Wrap(deverr.Failed, "backup", err)
		}

		os.Remove(path)
		err := e.reader.ReadFlash(ctx, chip, port, offset, length, path, timeout)
		if err == nil {
			err = verifySize(path, length)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		logger.WithFields(logrus.Fields{
			"offset":  fmt.Sprintf("0x%X", offset),
			"attempt": attempt,
			"error":   err,
		}).Warn("chunk read failed")

		if attempt < e.opts.Retries {
			if err := e.Sleep(ctx, e.opts.RetryBackoff); err != nil {
				return deverr.Wrap(deverr.Failed, "backup", err)
			}
		}
	}
	return lastErr
}

func verifySize(path string, want int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return deverr.Newf(deverr.ChunkIntegrity, "backup", "chunk file missing after read")
	}
	if info.Size() != want {
		return deverr.Newf(deverr.ChunkIntegrity, "backup", "expected %d bytes, got %d", want, info.Size())
	}
	return nil
}

func (e *Engine) abort(err *deverr.Error) error {
	e.progress.fail(deverr.Message(err))
	e.logger.WithField("error", err).Error("flash read aborted")
	return err
}

// assemble concatenates chunks into dst via a .partial file and rename
func assemble(chunks []string, dst string) error {
	partial := dst + ".partial"
	out, err := os.Create(partial)
	if err != nil {
		return errors.Wrap(err, "failed to create output")
	}

	err = func() error {
		for _, path := range chunks {
			in, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(out, in)
			in.Close()
			if err != nil {
				return err
			}
		}
		return out.Sync()
	}()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(partial, dst)
	}
	if err != nil {
		os.Remove(partial)
		return errors.Wrap(err, "failed to assemble backup")
	}
	return nil
}
