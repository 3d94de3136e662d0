// SPDX-License-Identifier: MIT

package switchengine

import (
	"errors"
	"testing"
	"time"

	"github.com/streamswitch/mswitch/internal/packet"
	"github.com/streamswitch/mswitch/internal/ring"
	"github.com/streamswitch/mswitch/internal/tsnorm"
)

func newTestDispatcher(t *testing.T, numSources int) (*Dispatcher, *StateMachine, []*ring.Ring, *int64) {
	t.Helper()
	n := tsnorm.New(0)
	sm, err := New(numSources, n)
	if err != nil {
		t.Fatal(err)
	}
	rings := make([]*ring.Ring, numSources)
	for i := range rings {
		rings[i] = ring.New(8)
	}
	d := NewDispatcher(sm, rings, n, true, ManualSwitchGrace, ForcedSwitchTimeout, nil)

	clock := new(int64)
	d.now = func() int64 { return *clock }
	d.sleep = func(time.Duration) {}
	return d, sm, rings, clock
}

func keyframePkt(pts int64) *packet.Packet {
	return &packet.Packet{PTS: pts, DTS: pts, HasDTS: true, HasKeyframeHint: true, KeyframeHint: true}
}

func nonKeyframePkt(pts int64) *packet.Packet {
	return &packet.Packet{PTS: pts, DTS: pts, HasDTS: true, HasKeyframeHint: true, KeyframeHint: false}
}

func TestDispatcher_SteadyStateEmitsFromActive(t *testing.T) {
	d, _, rings, _ := newTestDispatcher(t, 2)
	_ = rings[0].Put(keyframePkt(10))

	pkt, err := d.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pkt.PTS != 10 {
		t.Fatalf("Pull().PTS = %d, want 10", pkt.PTS)
	}
}

func TestDispatcher_CommitsOnKeyframe(t *testing.T) {
	d, sm, rings, clock := newTestDispatcher(t, 2)
	if err := sm.RequestSwitch(1, Seamless, true, *clock); err != nil {
		t.Fatal(err)
	}
	_ = rings[1].Put(keyframePkt(100))

	pkt, err := d.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pkt.PTS != 100 {
		t.Fatalf("Pull().PTS = %d, want 100", pkt.PTS)
	}
	if sm.ReadSnapshot().Active != 1 {
		t.Fatal("switch was not committed after a keyframe arrived on the pending ring")
	}
}

func TestDispatcher_DiscardsNonKeyframeAndStaysActive(t *testing.T) {
	d, sm, rings, clock := newTestDispatcher(t, 2)
	if err := sm.RequestSwitch(1, Seamless, true, *clock); err != nil {
		t.Fatal(err)
	}
	_ = rings[1].Put(nonKeyframePkt(100))
	_ = rings[0].Put(keyframePkt(5))

	pkt, err := d.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pkt.PTS != 5 {
		t.Fatalf("Pull().PTS = %d, want 5 (still on active source)", pkt.PTS)
	}
	if sm.ReadSnapshot().Active != 0 {
		t.Fatal("a non-keyframe packet from the pending source must never commit the switch")
	}
	if sm.ReadSnapshot().Pending != 1 {
		t.Fatal("switch request must still be pending after a discarded non-keyframe")
	}
}

func TestDispatcher_ForcedSwitchAfterTimeoutCommitsNonKeyframe(t *testing.T) {
	d, sm, rings, clock := newTestDispatcher(t, 2)
	if err := sm.RequestSwitch(1, Seamless, true, *clock); err != nil {
		t.Fatal(err)
	}
	*clock += ForcedSwitchTimeout.Milliseconds() + 1
	_ = rings[1].Put(nonKeyframePkt(100))

	pkt, err := d.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pkt.PTS != 100 {
		t.Fatalf("Pull().PTS = %d, want 100", pkt.PTS)
	}
	if sm.ReadSnapshot().Active != 1 {
		t.Fatal("a forced switch past the timeout must commit even on a non-keyframe packet")
	}
}

func TestDispatcher_CutoverCommitsImmediatelyEvenOnNonKeyframe(t *testing.T) {
	d, sm, rings, clock := newTestDispatcher(t, 2)
	if err := sm.RequestSwitch(1, Cutover, true, *clock); err != nil {
		t.Fatal(err)
	}
	_ = rings[1].Put(nonKeyframePkt(50))

	pkt, err := d.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pkt.PTS != 50 {
		t.Fatalf("Pull().PTS = %d, want 50", pkt.PTS)
	}
	if sm.ReadSnapshot().Active != 1 {
		t.Fatal("Cutover policy must commit on the next pull regardless of keyframe status")
	}
}

func TestDispatcher_PendingWouldBlockFallsBackToActive(t *testing.T) {
	d, sm, rings, clock := newTestDispatcher(t, 2)
	if err := sm.RequestSwitch(1, Seamless, true, *clock); err != nil {
		t.Fatal(err)
	}
	_ = rings[0].Put(keyframePkt(7))

	pkt, err := d.Pull()
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pkt.PTS != 7 {
		t.Fatalf("Pull().PTS = %d, want 7", pkt.PTS)
	}
	if sm.ReadSnapshot().Active != 0 {
		t.Fatal("an empty pending ring must not commit the switch")
	}
}

func TestDispatcher_BothRingsEmptyForcesSwitchOnKeyframe(t *testing.T) {
	d, sm, rings, clock := newTestDispatcher(t, 2)
	if err := sm.RequestSwitch(1, Seamless, true, *clock); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		_ = rings[1].Put(keyframePkt(200))
	}()

	pkt, err := d.Pull()
	<-done
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pkt.PTS != 200 {
		t.Fatalf("Pull().PTS = %d, want 200", pkt.PTS)
	}
	if sm.ReadSnapshot().Active != 1 {
		t.Fatal("forced switch on both-empty rings did not commit once a keyframe appeared")
	}
}

func TestDispatcher_EndOfStreamNoAutoFailoverReturnsEndOfStream(t *testing.T) {
	d, _, rings, _ := newTestDispatcher(t, 2)
	d.autoFailoverEnabled = false
	rings[0].Close()

	_, err := d.Pull()
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("Pull() error = %v, want ErrEndOfStream", err)
	}
}

func TestDispatcher_EndOfStreamWithAutoFailoverSynthesizesRequest(t *testing.T) {
	d, sm, rings, clock := newTestDispatcher(t, 3)
	*clock = 100000
	d.Healthy = func(int) bool { return false }
	rings[0].Close()

	_, err := d.Pull()
	if !errors.Is(err, ErrTemporarilyUnavailable) {
		t.Fatalf("Pull() error = %v, want ErrTemporarilyUnavailable", err)
	}
	if sm.ReadSnapshot().Pending != 2 {
		t.Fatalf("Pending = %d, want 2 (black interim) after active end-of-stream", sm.ReadSnapshot().Pending)
	}
}

func TestDispatcher_EndOfStreamWithinManualGraceJustRetries(t *testing.T) {
	d, sm, rings, clock := newTestDispatcher(t, 2)
	*clock = 1000
	if err := sm.RequestSwitch(0, Cutover, true, *clock); err != nil {
		t.Fatal(err)
	}
	*clock += 500 // well within ManualSwitchGrace
	rings[0].Close()

	_, err := d.Pull()
	if !errors.Is(err, ErrTemporarilyUnavailable) {
		t.Fatalf("Pull() error = %v, want ErrTemporarilyUnavailable", err)
	}
	if sm.ReadSnapshot().Pending != NoTarget {
		t.Fatal("within the manual-switch grace window, end-of-stream must not synthesize a new request")
	}
}
