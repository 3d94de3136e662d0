// SPDX-License-Identifier: MIT

// Package health implements the Health Monitor: a periodic classification
// loop that decides whether the active source is still healthy and, if
// not, posts a switch request to the black interim source or the next
// healthy candidate, following the two-stage failover policy.
package health

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/streamswitch/mswitch/internal/ring"
	"github.com/streamswitch/mswitch/internal/switchengine"
)

// Source is the subset of a source's state the monitor needs to classify
// it: its liveness counters (owned by its Source Reader) and its Ring
// (whose current depth is the liveness signal for a non-active source).
type Source struct {
	Liveness interface {
		LastPacketTime() int64
		PacketsRead() uint64
	}
	Ring *ring.Ring
}

// Config holds the monitor's policy knobs, all constant after
// construction.
type Config struct {
	Interval            time.Duration
	SourceTimeout       time.Duration
	StartupGracePeriod  time.Duration
	ManualSwitchGrace   time.Duration
	AutoFailoverEnabled bool
}

// Monitor runs the periodic two-stage failover classification loop.
type Monitor struct {
	sm      *switchengine.StateMachine
	sources []Source
	cfg     Config
	logger  *slog.Logger

	startupTime int64
	healthy     []atomic.Bool

	now   func() int64
	sleep func(time.Duration)
}

// New constructs a Monitor for the given sources (indexed identically to
// the state machine's source indices; the last source is always the black
// interim). startupTime is the engine's own start time in wall-clock ms.
func New(sm *switchengine.StateMachine, sources []Source, cfg Config, startupTime int64, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		sm:          sm,
		sources:     sources,
		cfg:         cfg,
		logger:      logger,
		startupTime: startupTime,
		healthy:     make([]atomic.Bool, len(sources)),
		now:         func() int64 { return time.Now().UnixMilli() },
		sleep:       time.Sleep,
	}
	for i := range m.healthy {
		m.healthy[i].Store(true)
	}
	return m
}

// IsHealthy reports the most recently computed health of source i. Safe
// for concurrent use; this is what the Dispatcher's Healthy callback wraps.
func (m *Monitor) IsHealthy(i int) bool {
	if i < 0 || i >= len(m.healthy) {
		return false
	}
	return m.healthy[i].Load()
}

// Run ticks every cfg.Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick(m.now())
		}
	}
}

// tick runs one classification pass. Exported as a method (not inlined
// into Run) so tests can drive it with a fabricated clock instead of
// waiting on a real ticker.
func (m *Monitor) tick(nowMs int64) {
	if !m.cfg.AutoFailoverEnabled {
		return
	}
	if nowMs-m.startupTime < m.cfg.StartupGracePeriod.Milliseconds() {
		return
	}

	snap := m.sm.ReadSnapshot()
	interim := len(m.sources) - 1

	for i := range m.sources {
		healthy := m.classify(i, snap, nowMs, interim)
		prev := m.healthy[i].Swap(healthy)
		if prev != healthy {
			m.logger.Info("health: source transition", "source", i, "healthy", healthy)
		}
	}

	// The interim source is always reported healthy (it's the guaranteed
	// fallback, never genuinely "down"), so gating stage 2 on
	// "active is unhealthy" would make it unreachable once already on the
	// interim. Evaluate failover whenever active is unhealthy OR active is
	// the interim itself, so a healthy real source is promoted as soon as
	// one appears.
	if !m.healthy[snap.Active].Load() || snap.Active == interim {
		m.failover(snap, interim, nowMs)
	}
}

func (m *Monitor) classify(i int, snap switchengine.Snapshot, nowMs int64, interim int) bool {
	if i == interim {
		return true
	}
	if i == snap.Active {
		return m.classifyActive(snap, nowMs)
	}
	return m.sources[i].Ring.Len() >= 1
}

func (m *Monitor) classifyActive(snap switchengine.Snapshot, nowMs int64) bool {
	if nowMs-snap.LastManualSwitchTime < m.cfg.ManualSwitchGrace.Milliseconds() {
		return true
	}
	live := m.sources[snap.Active].Liveness
	if live.PacketsRead() == 0 {
		grace := m.cfg.StartupGracePeriod.Milliseconds() + m.cfg.SourceTimeout.Milliseconds()
		return nowMs-m.startupTime < grace
	}
	return nowMs-live.LastPacketTime() <= m.cfg.SourceTimeout.Milliseconds()
}

func (m *Monitor) failover(snap switchengine.Snapshot, interim int, nowMs int64) {
	if snap.Pending != switchengine.NoTarget {
		// A switch is already posted; let it resolve before posting another.
		return
	}
	target, ok := switchengine.ChooseFailoverTarget(snap.Active, len(m.sources), func(i int) bool { return m.healthy[i].Load() })
	if !ok {
		return
	}
	if err := m.sm.RequestSwitch(target, switchengine.Seamless, false, nowMs); err != nil {
		m.logger.Error("health: failover request rejected", "target", target, "error", err)
		return
	}
	m.logger.Info("health: posted failover request", "from", snap.Active, "to", target)
}
