// SPDX-License-Identifier: MIT

// Package switchengine holds the switch state machine and the dispatcher
// that consumes it: the two halves of the engine's core decision of which
// source is forwarded downstream right now, and which one is about to be.
package switchengine

import (
	"fmt"
	"sync"

	"github.com/streamswitch/mswitch/internal/tsnorm"
)

// Policy selects how a requested switch is allowed to complete.
type Policy int

const (
	// Seamless waits for a keyframe on the target source before committing.
	Seamless Policy = iota
	// Cutover commits immediately on the Dispatcher's next pull, regardless
	// of keyframe status.
	Cutover
	// Graceful is like Cutover; the downstream decoder is expected to
	// resync on its own.
	Graceful
)

func (p Policy) String() string {
	switch p {
	case Seamless:
		return "seamless"
	case Cutover:
		return "cutover"
	case Graceful:
		return "graceful"
	default:
		return "unknown"
	}
}

// NoTarget marks the absence of a pending switch.
const NoTarget = -1

// Snapshot is an atomic, consistent copy of the switch state machine's
// fields, safe to read without holding any lock.
type Snapshot struct {
	Active               int
	Pending              int
	WaitForIframe        bool
	PendingSince         int64
	LastManualSwitchTime int64
}

// StateMachine holds the active source index, a pending switch target,
// switch policy flags, and the last-switch timestamps used to anchor grace
// periods and forced-switch timeouts. All mutations are serialized under a
// single mutex; the mutex is held only for field reads/writes, never
// across I/O.
type StateMachine struct {
	mu sync.Mutex

	numSources int

	active       int
	pending      int
	policy       Policy
	waitForIframe bool
	pendingSince  int64

	lastManualSwitchTime int64

	normalizer *tsnorm.Normalizer
}

// New constructs a StateMachine with numSources sources, starting active on
// source 0. normalizer is reset on every committed switch so the next
// emission rebases the clock onto the newly active source; it may be nil in
// tests that don't exercise timestamp rewriting.
func New(numSources int, normalizer *tsnorm.Normalizer) (*StateMachine, error) {
	if numSources < 2 {
		return nil, fmt.Errorf("%w: need at least 2 sources, got %d", ErrConfig, numSources)
	}
	return &StateMachine{
		numSources: numSources,
		active:     0,
		pending:    NoTarget,
		normalizer: normalizer,
	}, nil
}

// RequestSwitch posts a request to switch to target under policy. manual
// should be true when the request originates from the control surface
// (HTTP or keyboard), which anchors the manual-switch grace period used by
// the Health Monitor. nowMs is the caller's wall clock, in milliseconds,
// threaded through explicitly so callers (and tests) control time rather
// than the state machine reading it itself.
func (s *StateMachine) RequestSwitch(target int, policy Policy, manual bool, nowMs int64) error {
	if target < 0 || target >= s.numSources {
		return fmt.Errorf("%w: source %d out of range [0,%d)", ErrInvalidRequest, target, s.numSources)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if target == s.active {
		// Requesting the already-active source cancels any pending switch
		// rather than setting pending == active, which would violate the
		// invariant that pending is always NoTarget or a distinct source.
		s.pending = NoTarget
		s.waitForIframe = false
		if manual {
			s.lastManualSwitchTime = nowMs
		}
		return nil
	}

	s.pending = target
	s.policy = policy
	s.waitForIframe = policy == Seamless
	s.pendingSince = nowMs
	if manual {
		s.lastManualSwitchTime = nowMs
	}
	return nil
}

// CommitSwitch atomically promotes the pending switch to active, clears the
// pending state, and resets the Timestamp Normalizer so the next emission
// rebases the clock onto the new source. Only the Dispatcher calls this. It
// is a no-op if there is no pending switch.
func (s *StateMachine) CommitSwitch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == NoTarget {
		return
	}
	newActive := s.pending
	s.active = newActive
	s.pending = NoTarget
	s.waitForIframe = false

	if s.normalizer != nil {
		s.normalizer.ResetForSource(newActive)
	}
}

// ForceClearWaitForIframe drops the keyframe-wait requirement on the
// current pending switch without committing it, used by the Dispatcher
// when both the pending and active Rings are simultaneously empty and a
// switch must be forced through on whatever the pending Ring yields next.
func (s *StateMachine) ForceClearWaitForIframe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitForIframe = false
}

// ReadSnapshot returns an atomic copy of the switch state's fields.
func (s *StateMachine) ReadSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Active:               s.active,
		Pending:              s.pending,
		WaitForIframe:        s.waitForIframe,
		PendingSince:         s.pendingSince,
		LastManualSwitchTime: s.lastManualSwitchTime,
	}
}

// NumSources returns the fixed source count the state machine was
// constructed with.
func (s *StateMachine) NumSources() int {
	return s.numSources
}
