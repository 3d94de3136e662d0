// SPDX-License-Identifier: MIT

// Package ring implements the bounded packet queue that sits between a
// Source Reader and the Read-Packet Dispatcher: one ring per source,
// holding cloned packets until the dispatcher drains them.
//
// The slot layout (head/tail/count over a fixed backing array) follows the
// single-producer single-consumer ring buffers used for lock-free queues
// elsewhere in this codebase's lineage, generalized here to add the
// blocking put/get semantics a producer and consumer running on
// independent goroutines need: no library in reach implements a *blocking*
// SPSC ring, only non-blocking ones, so the condvar-guarded version below is
// hand-rolled on top of sync.Mutex/sync.Cond rather than adapted from one.
package ring

import (
	"errors"
	"sync"

	"github.com/streamswitch/mswitch/internal/packet"
)

// ErrClosed is returned by Put once the ring has been closed.
var ErrClosed = errors.New("ring: closed")

// ErrEndOfStream is returned by Get/TryGet once the ring is both closed and
// drained: there are no more packets and none will ever arrive.
var ErrEndOfStream = errors.New("ring: end of stream")

// ErrWouldBlock is returned by TryGet when the ring is open but currently
// empty, and by TryPut when the ring is open but currently full.
var ErrWouldBlock = errors.New("ring: would block")

// Ring is a bounded, blocking single-producer single-consumer FIFO of
// cloned packets. Put clones the packet it is given so that a producer's
// reused buffer can never be mutated out from under a packet already
// enqueued. The zero value is not usable; construct with New.
type Ring struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf   []*packet.Packet
	head  int
	tail  int
	count int

	closed bool
}

// New returns a Ring with room for capacity packets. Capacity must be at
// least 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		panic("ring: capacity must be >= 1")
	}
	r := &Ring{buf: make([]*packet.Packet, capacity)}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Len returns the number of packets currently queued.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Put clones pkt into the next free slot, blocking while the ring is full.
// Returns ErrClosed if the ring is closed, either before blocking or after
// waking from a wait (a concurrent Close unblocks a producer waiting on a
// full ring).
func (r *Ring) Put(pkt *packet.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == len(r.buf) && !r.closed {
		r.notFull.Wait()
	}
	if r.closed {
		return ErrClosed
	}

	r.buf[r.tail] = pkt.Clone()
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
	r.notEmpty.Signal()
	return nil
}

// TryPut behaves like Put but never blocks: it returns ErrWouldBlock
// immediately if the ring is currently full, and ErrClosed if the ring is
// closed.
func (r *Ring) TryPut(pkt *packet.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.count == len(r.buf) {
		return ErrWouldBlock
	}

	r.buf[r.tail] = pkt.Clone()
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
	r.notEmpty.Signal()
	return nil
}

// Get removes and returns the oldest queued packet, blocking while the ring
// is empty and open. Once the ring is closed and fully drained, Get returns
// ErrEndOfStream; packets enqueued before Close was called are still
// returned first.
func (r *Ring) Get() (*packet.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed {
		r.notEmpty.Wait()
	}
	if r.count == 0 {
		return nil, ErrEndOfStream
	}

	pkt := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	r.notFull.Signal()
	return pkt, nil
}

// TryGet behaves like Get but never blocks: it returns ErrWouldBlock
// immediately if the ring is currently empty and still open.
func (r *Ring) TryGet() (*packet.Packet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		if r.closed {
			return nil, ErrEndOfStream
		}
		return nil, ErrWouldBlock
	}

	pkt := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	r.notFull.Signal()
	return pkt, nil
}

// Close marks the ring closed: any packets already queued are still
// delivered by Get/TryGet, but Put fails from this point on and Get/TryGet
// report ErrEndOfStream once the queue empties. Close is idempotent and
// wakes any producer or consumer currently blocked in Put or Get.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
}

// Closed reports whether Close has been called, regardless of whether the
// ring has fully drained yet.
func (r *Ring) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
