// SPDX-License-Identifier: MIT

// Package enginesup wires the engine's long-lived loops — one Source
// Reader per source, the Health Monitor, and the Control Surface — into a
// real suture.Supervisor tree. The teacher's own go.mod lists
// thejerf/suture/v4 but its internal/supervisor package hand-rolls a
// restart-on-failure loop instead of importing it; this package is that
// import made real, generalized from per-device stream managers to the
// switch engine's three service kinds.
package enginesup

import (
	"context"
	"log/slog"

	"github.com/thejerf/suture/v4"
)

// Tree is a named collection of supervised loops.
type Tree struct {
	sup    *suture.Supervisor
	logger *slog.Logger
}

// funcService adapts a plain `func(context.Context) error` loop — a Source
// Reader's Run, a Health Monitor's Run, a Control Surface's Serve — to
// suture.Service.
type funcService struct {
	name string
	run  func(context.Context) error
}

func (f funcService) Serve(ctx context.Context) error { return f.run(ctx) }
func (f funcService) String() string                  { return f.name }

// New constructs a Tree. logger receives suture's restart/failure events;
// it may be nil.
func New(name string, logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tree{logger: logger}
	t.sup = suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("enginesup: supervisor event", "event", e.String())
		},
	})
	return t
}

// Add registers a named long-lived loop, supervised with suture's default
// exponential-backoff restart policy: a panicking or erroring Source
// Reader is restarted rather than taking the whole engine down with it.
func (t *Tree) Add(name string, run func(context.Context) error) suture.ServiceToken {
	return t.sup.Add(funcService{name: name, run: run})
}

// Remove unregisters a previously added service.
func (t *Tree) Remove(token suture.ServiceToken) error {
	return t.sup.Remove(token)
}

// Serve runs every registered service until ctx is cancelled, restarting
// any that exit with an error in the meantime. It blocks.
func (t *Tree) Serve(ctx context.Context) error {
	return t.sup.Serve(ctx)
}
