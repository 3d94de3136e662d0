// SPDX-License-Identifier: MIT

package ingest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/streamswitch/mswitch/internal/packet"
)

// fakeUpstream is a scripted Upstream double: it serves a fixed sequence of
// packets (or ErrWouldBlock/io.EOF/an arbitrary error, inserted at chosen
// positions), letting reader tests exercise every branch of Run without a
// real demuxer.
type fakeUpstream struct {
	mu     sync.Mutex
	script []fakeStep
	pos    int
	closed bool

	onOpen func() error // returned by a reopening Opener, if set
}

type fakeStep struct {
	pkt *packet.Packet
	err error
}

func newFakeUpstream(steps ...fakeStep) *fakeUpstream {
	return &fakeUpstream{script: steps}
}

func stepPacket(pts int64) fakeStep   { return fakeStep{pkt: &packet.Packet{PTS: pts}} }
func stepWouldBlock() fakeStep        { return fakeStep{err: ErrWouldBlock} }
func stepEOF() fakeStep               { return fakeStep{err: io.EOF} }
func stepFatal(err error) fakeStep    { return fakeStep{err: err} }

var errFakeFatal = errors.New("fake: fatal upstream error")

func (f *fakeUpstream) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pos >= len(f.script) {
		// Past the scripted sequence: stall forever (as WouldBlock) so the
		// reader loop keeps running until the test cancels its context.
		return nil, ErrWouldBlock
	}
	step := f.script[f.pos]
	f.pos++
	return step.pkt, step.err
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeUpstream) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
