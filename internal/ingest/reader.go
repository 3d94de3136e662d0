// SPDX-License-Identifier: MIT

// Package ingest implements the Source Reader: one loop per upstream
// source, pulling packets from an Upstream demuxer handle and enqueuing
// them into that source's Ring, recording liveness stats the Health
// Monitor and status endpoint both read.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/streamswitch/mswitch/internal/packet"
	"github.com/streamswitch/mswitch/internal/ring"
)

// ErrWouldBlock is returned by Upstream.ReadPacket to signal transient
// emptiness: no packet is ready yet, but the source is not done.
var ErrWouldBlock = errors.New("ingest: would block")

// Upstream is the demuxer handle a Source Reader pulls packets from.
// Container/codec demuxing itself is out of scope for this engine; this
// interface is the entire surface the engine needs from it.
type Upstream interface {
	// ReadPacket returns the next compressed packet, (nil, ErrWouldBlock)
	// on transient emptiness, (nil, io.EOF) on a clean end, or any other
	// error on a fatal condition.
	ReadPacket(ctx context.Context) (*packet.Packet, error)
	Close() error
}

// Opener opens (or reopens) the Upstream handle for one source.
type Opener func(ctx context.Context) (Upstream, error)

// emptyRetryDelay is how long the reader sleeps after transient emptiness
// before retrying, without touching the liveness clock.
const emptyRetryDelay = 10 * time.Millisecond

// Liveness holds the per-source counters the Health Monitor and the
// status/metrics endpoints read. Only the owning Reader writes to it.
type Liveness struct {
	lastPacketTimeMs atomic.Int64
	packetsRead      atomic.Uint64
}

// LastPacketTime returns the wall-clock ms of the last successful upstream
// read, or 0 if none has happened yet.
func (l *Liveness) LastPacketTime() int64 {
	return l.lastPacketTimeMs.Load()
}

// PacketsRead returns the monotone count of packets read since start.
func (l *Liveness) PacketsRead() uint64 {
	return l.packetsRead.Load()
}

// RecordPacket marks a successful upstream read at nowMs, advancing both
// counters. Called by the owning Reader on every packet pulled; exposed so
// tests of downstream consumers (the Health Monitor, the status endpoint)
// can fabricate liveness state without a real Reader.
func (l *Liveness) RecordPacket(nowMs int64) {
	l.lastPacketTimeMs.Store(nowMs)
	l.packetsRead.Add(1)
}

// Reader pulls packets from one upstream source into one Ring.
type Reader struct {
	Index    int
	Open     Opener
	Ring     *ring.Ring
	Liveness *Liveness
	Logger   *slog.Logger

	// ReopenInitialDelay/ReopenMaxDelay/ReopenMaxAttempts parameterize the
	// backoff applied when a fatal upstream error or EOF is encountered:
	// the reader gets a bounded number of chances to reopen the upstream
	// handle before it gives up and closes the Ring for good. A
	// ReopenMaxAttempts of 0 disables reopening entirely (the first fatal
	// error closes the Ring immediately, matching the literal spec).
	ReopenInitialDelay time.Duration
	ReopenMaxDelay     time.Duration
	ReopenMaxAttempts  int

	now func() int64
}

// Run pulls packets from the upstream source until ctx is cancelled or the
// source is permanently exhausted, closing the Ring on either exit path.
// Run blocks; the engine registers it as a supervised loop in
// internal/enginesup's suture tree rather than launching it directly.
func (r *Reader) Run(ctx context.Context) error {
	if r.now == nil {
		r.now = func() int64 { return time.Now().UnixMilli() }
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defer r.Ring.Close()

	upstream, err := r.Open(ctx)
	if err != nil {
		return fmt.Errorf("ingest: source %d: open upstream: %w", r.Index, err)
	}
	defer func() { _ = upstream.Close() }()

	bo := newBackoff(r.ReopenInitialDelay, r.ReopenMaxDelay, r.ReopenMaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkt, err := upstream.ReadPacket(ctx)
		switch {
		case err == nil:
			r.Liveness.RecordPacket(r.now())
			if putErr := r.Ring.Put(pkt); putErr != nil {
				// The Ring was closed out from under us, almost certainly
				// by engine shutdown rather than by this loop.
				return nil
			}
			bo.recordSuccess()

		case errors.Is(err, ErrWouldBlock):
			// Critical: do not update the liveness clock here. The Health
			// Monitor relies on last_packet_time staying stale during a
			// real stall; updating it on every empty poll would mask a
			// dead upstream as alive.
			time.Sleep(emptyRetryDelay)

		case errors.Is(err, io.EOF):
			logger.Info("ingest: upstream reached end of stream", "source", r.Index)
			if reopened, ok := r.attemptReopen(ctx, bo, logger); ok {
				_ = upstream.Close()
				upstream = reopened
				continue
			}
			return nil

		default:
			logger.Warn("ingest: fatal upstream read error", "source", r.Index, "error", err)
			if reopened, ok := r.attemptReopen(ctx, bo, logger); ok {
				_ = upstream.Close()
				upstream = reopened
				continue
			}
			return fmt.Errorf("ingest: source %d: %w", r.Index, err)
		}
	}
}

// attemptReopen retries opening the upstream handle with exponential
// backoff, bounded by ReopenMaxAttempts. It returns ok=false once the
// attempt budget is exhausted or ctx is cancelled, meaning the caller
// should give up and close its Ring.
func (r *Reader) attemptReopen(ctx context.Context, bo *backoff, logger *slog.Logger) (Upstream, bool) {
	if r.ReopenMaxAttempts <= 0 {
		return nil, false
	}
	for !bo.shouldStop() {
		if err := bo.waitContext(ctx); err != nil {
			return nil, false
		}
		upstream, err := r.Open(ctx)
		if err == nil {
			logger.Info("ingest: upstream reopened", "source", r.Index)
			return upstream, true
		}
		logger.Warn("ingest: upstream reopen attempt failed", "source", r.Index, "error", err)
		bo.recordFailure()
	}
	return nil, false
}
