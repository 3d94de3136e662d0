// SPDX-License-Identifier: MIT

// Package engine wires the Packet Ring, Source Reader, Switch State
// Machine, Read-Packet Dispatcher, Health Monitor, and Control Surface
// into one constructible, runnable unit: the thing the embedding media
// pipeline constructs once and pulls packets from.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamswitch/mswitch/internal/config"
	"github.com/streamswitch/mswitch/internal/control"
	"github.com/streamswitch/mswitch/internal/enginesup"
	"github.com/streamswitch/mswitch/internal/health"
	"github.com/streamswitch/mswitch/internal/ingest"
	"github.com/streamswitch/mswitch/internal/obslog"
	"github.com/streamswitch/mswitch/internal/packet"
	"github.com/streamswitch/mswitch/internal/ring"
	"github.com/streamswitch/mswitch/internal/switchengine"
	"github.com/streamswitch/mswitch/internal/tsnorm"
)

// defaultRingCapacity is used when a config doesn't specify one (the zero
// value is legal per config.Validate, meaning "use the engine default").
const defaultRingCapacity = 90

// OpenerFactory resolves a configured source index and URL to an
// ingest.Opener. Engines constructed via New use DefaultOpenerFactory
// unless the caller supplies its own — the hook the embedding pipeline
// uses to plug in its own demuxer for every non-black:// source.
type OpenerFactory func(index int, url string) ingest.Opener

// Engine is the constructed switch engine: every component from the
// Packet Ring through the Control Surface, wired together and ready to
// run. The zero value is not usable; construct with New.
type Engine struct {
	cfg *config.Config

	sm         *switchengine.StateMachine
	dispatcher *switchengine.Dispatcher
	rings      []*ring.Ring
	liveness   []*ingest.Liveness
	readers    []*ingest.Reader
	monitor    *health.Monitor
	control    *control.Handle
	sup        *enginesup.Tree

	logger      *slog.Logger
	eventWriter *obslog.RotatingWriter
}

// New constructs an Engine from cfg, which must already pass Validate.
// openerFactory resolves each configured source to an Opener; passing nil
// uses DefaultOpenerFactory (black:// sources only — every other scheme
// fails at reader startup until the caller supplies a real one).
func New(cfg *config.Config, openerFactory OpenerFactory, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var eventWriter *obslog.RotatingWriter
	if cfg.Control.EventLogPath != "" {
		evLogger, w, err := obslog.NewEventLogger(cfg.Control.EventLogPath,
			obslog.WithMaxSize(cfg.Control.EventLogMaxMB*1024*1024),
			obslog.WithMaxFiles(cfg.Control.EventLogKeep),
			obslog.WithCompression(true),
		)
		if err != nil {
			return nil, fmt.Errorf("engine: event log: %w", err)
		}
		logger = evLogger
		eventWriter = w
	}

	numSources := len(cfg.Sources)
	normalizer := tsnorm.New(tsnorm.DiscontinuityThreshold)

	sm, err := switchengine.New(numSources, normalizer)
	if err != nil {
		return nil, fmt.Errorf("engine: switch state machine: %w", err)
	}

	ringCap := cfg.Switch.RingCapacity
	if ringCap <= 0 {
		ringCap = defaultRingCapacity
	}

	if openerFactory == nil {
		openerFactory = DefaultOpenerFactory
	}

	rings := make([]*ring.Ring, numSources)
	liveness := make([]*ingest.Liveness, numSources)
	readers := make([]*ingest.Reader, numSources)
	for i, src := range cfg.Sources {
		rings[i] = ring.New(ringCap)
		liveness[i] = &ingest.Liveness{}
		readers[i] = &ingest.Reader{
			Index:              i,
			Open:               openerFactory(i, src.URL),
			Ring:               rings[i],
			Liveness:           liveness[i],
			Logger:             logger,
			ReopenInitialDelay: time.Second,
			ReopenMaxDelay:     30 * time.Second,
			ReopenMaxAttempts:  5,
		}
	}

	forcedTimeout := time.Duration(cfg.Switch.ForcedSwitchTimeoutMs) * time.Millisecond
	if forcedTimeout <= 0 {
		forcedTimeout = switchengine.ForcedSwitchTimeout
	}
	manualGrace := time.Duration(cfg.Switch.ManualSwitchGraceMs) * time.Millisecond
	if manualGrace <= 0 {
		manualGrace = switchengine.ManualSwitchGrace
	}

	dispatcher := switchengine.NewDispatcher(sm, rings, normalizer, cfg.Health.AutoFailoverEnabled, manualGrace, forcedTimeout, logger)

	healthSources := make([]health.Source, numSources)
	for i := range healthSources {
		healthSources[i] = health.Source{Liveness: liveness[i], Ring: rings[i]}
	}
	monitorCfg := health.Config{
		Interval:            durationOrDefault(cfg.Health.IntervalMs, 2*time.Second),
		SourceTimeout:       durationOrDefault(cfg.Health.SourceTimeoutMs, 5*time.Second),
		StartupGracePeriod:  durationOrDefault(cfg.Health.StartupGraceMs, 10*time.Second),
		ManualSwitchGrace:   manualGrace,
		AutoFailoverEnabled: cfg.Health.AutoFailoverEnabled,
	}
	startTimeMs := time.Now().UnixMilli()
	monitor := health.New(sm, healthSources, monitorCfg, startTimeMs, logger)
	dispatcher.Healthy = monitor.IsHealthy

	e := &Engine{
		cfg:         cfg,
		sm:          sm,
		dispatcher:  dispatcher,
		rings:       rings,
		liveness:    liveness,
		readers:     readers,
		monitor:     monitor,
		logger:      logger,
		eventWriter: eventWriter,
	}

	e.control = control.New(sm, e, control.Config{
		Addr:   cfg.Control.Addr,
		Policy: parsePolicy(cfg.Control.SwitchPolicy),
	}, logger)

	sup := enginesup.New("mswitch", logger)
	for i, r := range readers {
		idx, rr := i, r
		sup.Add(fmt.Sprintf("source-reader-%d", idx), rr.Run)
	}
	sup.Add("health-monitor", monitor.Run)
	sup.Add("control-surface", e.control.Serve)
	e.sup = sup

	return e, nil
}

func durationOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func parsePolicy(s string) switchengine.Policy {
	switch s {
	case "cutover":
		return switchengine.Cutover
	case "graceful":
		return switchengine.Graceful
	default:
		return switchengine.Seamless
	}
}

// Run binds the control surface (synchronously, so a bind failure is
// fatal before anything else starts, matching the failure-semantics
// table), then runs the Source Readers, Health Monitor, and the control
// surface's own serve loop together under supervision until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.control.Bind(); err != nil {
		return err
	}
	return e.sup.Serve(ctx)
}

// Pull returns the next packet the downstream pipeline should consume. See
// switchengine.Dispatcher.Pull for its error semantics.
func (e *Engine) Pull() (*packet.Packet, error) {
	return e.dispatcher.Pull()
}

// Control returns the opaque control surface handle, for a caller that
// wants to drive the keyboard hook itself (e.g. from its own terminal loop)
// in addition to the HTTP surface Run already starts.
func (e *Engine) Control() *control.Handle {
	return e.control
}

// Status implements control.StatusProvider, backing /status, /metrics, and
// the keyboard hook's report.
func (e *Engine) Status() control.EngineStatus {
	snap := e.sm.ReadSnapshot()
	nowMs := time.Now().UnixMilli()

	sources := make([]control.SourceStatus, len(e.rings))
	for i := range sources {
		var msSince int64
		if last := e.liveness[i].LastPacketTime(); last > 0 {
			msSince = nowMs - last
		}
		sources[i] = control.SourceStatus{
			Index:             i,
			Healthy:           e.monitor.IsHealthy(i),
			PacketsRead:       e.liveness[i].PacketsRead(),
			MsSinceLastPacket: msSince,
			RingDepth:         e.rings[i].Len(),
		}
	}

	return control.EngineStatus{
		ActiveSource:      snap.Active,
		NumSources:        len(e.rings),
		Sources:           sources,
		SwitchTotal:       e.dispatcher.SwitchCount(),
		ForcedSwitchTotal: e.dispatcher.ForcedSwitchCount(),
	}
}

// Close releases resources that outlive ctx cancellation, such as the
// rotating event log's open file handle.
func (e *Engine) Close() error {
	if e.eventWriter != nil {
		return e.eventWriter.Close()
	}
	return nil
}
