// SPDX-License-Identifier: MIT

package switchengine

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/streamswitch/mswitch/internal/keyframe"
	"github.com/streamswitch/mswitch/internal/packet"
	"github.com/streamswitch/mswitch/internal/ring"
	"github.com/streamswitch/mswitch/internal/tsnorm"
)

// ForcedSwitchTimeout is the default time a pending Seamless switch is
// allowed to wait for a keyframe before the Dispatcher forces it through
// on whatever packet arrives next.
const ForcedSwitchTimeout = 3 * time.Second

// ManualSwitchGrace is the default window, following an operator-issued
// switch, during which the Health Monitor treats the newly-chosen source
// as healthy even if it has not produced a packet yet.
const ManualSwitchGrace = 3 * time.Second

// retryDelay is how long the Dispatcher sleeps before returning
// ErrTemporarilyUnavailable when it has nothing else useful to do.
const retryDelay = 100 * time.Millisecond

// Dispatcher is the consumer side of the engine: on each downstream pull it
// decides which Ring to read from, honors pending switches at keyframe
// boundaries (with a forced-switch fallback), and rewrites timestamps via
// the Normalizer before returning a packet. It is driven by a single
// downstream consumer and is not safe for concurrent Pull calls.
type Dispatcher struct {
	sm         *StateMachine
	rings      []*ring.Ring
	normalizer *tsnorm.Normalizer

	autoFailoverEnabled bool
	manualSwitchGraceMs int64
	forcedSwitchTimeout int64

	// Healthy reports whether source i is currently considered healthy by
	// the Health Monitor. Consulted only when synthesizing an auto-failover
	// request on end-of-stream of the active source.
	Healthy func(i int) bool

	logger *slog.Logger

	// now and sleep are overridable for deterministic tests.
	now   func() int64
	sleep func(time.Duration)

	// switchCount and forcedSwitchCount back the metrics endpoint. forced
	// counts commits that bypassed a keyframe wait, either via the
	// ForcedSwitchTimeout or because both rings ran dry simultaneously.
	switchCount       atomic.Uint64
	forcedSwitchCount atomic.Uint64
}

// SwitchCount returns the number of switches committed since construction.
func (d *Dispatcher) SwitchCount() uint64 { return d.switchCount.Load() }

// ForcedSwitchCount returns the subset of committed switches that bypassed
// the keyframe wait.
func (d *Dispatcher) ForcedSwitchCount() uint64 { return d.forcedSwitchCount.Load() }

func (d *Dispatcher) recordCommit(forced bool) {
	d.switchCount.Add(1)
	if forced {
		d.forcedSwitchCount.Add(1)
	}
}

// NewDispatcher constructs a Dispatcher over rings (indexed identically to
// sm's source indices) and normalizer. autoFailoverEnabled, manualGrace and
// forcedTimeout mirror the Switch State Machine's policy knobs.
func NewDispatcher(sm *StateMachine, rings []*ring.Ring, normalizer *tsnorm.Normalizer, autoFailoverEnabled bool, manualGrace, forcedTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sm:                  sm,
		rings:               rings,
		normalizer:          normalizer,
		autoFailoverEnabled: autoFailoverEnabled,
		manualSwitchGraceMs: manualGrace.Milliseconds(),
		forcedSwitchTimeout: forcedTimeout.Milliseconds(),
		Healthy:             func(int) bool { return false },
		logger:              logger,
		now:                 func() int64 { return time.Now().UnixMilli() },
		sleep:               time.Sleep,
	}
}

// Pull returns the next packet the downstream pipeline should consume, or
// ErrTemporarilyUnavailable if the caller should retry shortly, or
// ErrEndOfStream once the Ring it must read from is closed and drained
// with no failover left to try (the active source with auto-failover
// disabled, or the pending source of a forced switch).
func (d *Dispatcher) Pull() (*packet.Packet, error) {
	snap := d.sm.ReadSnapshot()

	if snap.Pending == NoTarget {
		return d.pullSteadyState(snap)
	}
	return d.pullWithPendingSwitch(snap)
}

func (d *Dispatcher) pullSteadyState(snap Snapshot) (*packet.Packet, error) {
	pkt, err := d.rings[snap.Active].Get()
	if err == ring.ErrEndOfStream {
		return nil, d.handleActiveEndOfStream(snap)
	}
	if err != nil {
		return nil, err
	}
	return d.normalizer.Apply(snap.Active, pkt), nil
}

func (d *Dispatcher) handleActiveEndOfStream(snap Snapshot) error {
	if !d.autoFailoverEnabled {
		return ErrEndOfStream
	}
	if d.autoFailoverEnabled &&d.now()-snap.LastManualSwitchTime < d.manualSwitchGraceMs {
		d.sleep(retryDelay)
		return ErrTemporarilyUnavailable
	}

	if d.autoFailoverEnabled {
		if target, ok := ChooseFailoverTarget(snap.Active, d.sm.NumSources(), d.Healthy); ok {
			if err := d.sm.RequestSwitch(target, Seamless, false, d.now()); err != nil {
				d.logger.Error("dispatcher: synthesized failover request rejected", "target", target, "error", err)
			} else {
				d.logger.Info("dispatcher: synthesized auto-failover request on end-of-stream", "from", snap.Active, "to", target)
			}
		}
	}
	return ErrTemporarilyUnavailable
}

func (d *Dispatcher) pullWithPendingSwitch(snap Snapshot) (*packet.Packet, error) {
	pkt, err := d.rings[snap.Pending].TryGet()
	switch err {
	case nil:
		return d.resolvePendingPacket(snap, pkt)
	case ring.ErrWouldBlock:
		return d.pullOnPendingWouldBlock(snap)
	case ring.ErrEndOfStream:
		// The pending source is itself dead; keep emitting from active and
		// let the state machine's request stand until superseded.
		return d.pullActiveBlocking(snap)
	default:
		return nil, err
	}
}

// resolvePendingPacket implements the "pending ring yielded a packet"
// branch: decide whether to commit the switch now or discard the packet
// and keep emitting from the still-active source.
func (d *Dispatcher) resolvePendingPacket(snap Snapshot, pkt *packet.Packet) (*packet.Packet, error) {
	isKeyframe := keyframe.Detect(pkt)
	waitedMs := d.now() - snap.PendingSince
	forced := waitedMs > d.forcedSwitchTimeout

	if isKeyframe || !snap.WaitForIframe || forced {
		d.sm.CommitSwitch()
		d.recordCommit(forced && !isKeyframe)
		return d.normalizer.Apply(snap.Pending, pkt), nil
	}
	// Non-IDR packet from the incoming source: discard it, it cannot decode
	// standalone, and fall through to emitting from the still-active source.
	return d.pullActiveBlocking(snap)
}

// pullActiveBlocking is a blocking get from the active Ring while a switch
// is still pending.
func (d *Dispatcher) pullActiveBlocking(snap Snapshot) (*packet.Packet, error) {
	pkt, err := d.rings[snap.Active].Get()
	if err == nil {
		return d.normalizer.Apply(snap.Active, pkt), nil
	}
	if err != ring.ErrEndOfStream {
		return nil, err
	}
	if !d.autoFailoverEnabled {
		return nil, ErrEndOfStream
	}
	// Auto-failover is enabled and the active source just went dark with a
	// switch already pending: don't block forever on it, retry shortly.
	d.sleep(retryDelay)
	return nil, ErrTemporarilyUnavailable
}

// pullOnPendingWouldBlock handles the pending Ring having nothing ready: try
// the active Ring non-blocking, and if that is empty too, force the
// pending switch through by blocking on the pending Ring directly.
func (d *Dispatcher) pullOnPendingWouldBlock(snap Snapshot) (*packet.Packet, error) {
	pkt, err := d.rings[snap.Active].TryGet()
	switch err {
	case nil:
		return d.normalizer.Apply(snap.Active, pkt), nil
	case ring.ErrEndOfStream:
		if !d.autoFailoverEnabled {
			return nil, ErrEndOfStream
		}
	case ring.ErrWouldBlock:
		// fall through to forcing the pending switch
	default:
		return nil, err
	}

	d.sm.ForceClearWaitForIframe()
	pending, perr := d.rings[snap.Pending].Get()
	if perr == ring.ErrEndOfStream {
		return nil, ErrEndOfStream
	}
	if perr != nil {
		return nil, perr
	}
	if !keyframe.Detect(pending) {
		return nil, ErrTemporarilyUnavailable
	}
	d.sm.CommitSwitch()
	d.recordCommit(true)
	return d.normalizer.Apply(snap.Pending, pending), nil
}
