// SPDX-License-Identifier: MIT

package ring

import (
	"sync"
	"testing"
	"time"

	"github.com/streamswitch/mswitch/internal/packet"
)

func TestPutGet_FIFO(t *testing.T) {
	r := New(4)
	for i := 0; i < 4; i++ {
		if err := r.Put(&packet.Packet{PTS: int64(i)}); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		pkt, err := r.Get()
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if pkt.PTS != int64(i) {
			t.Fatalf("Get(%d) = PTS %d, want %d", i, pkt.PTS, i)
		}
	}
}

func TestPut_ClonesPacket(t *testing.T) {
	r := New(2)
	data := []byte{1, 2, 3}
	src := &packet.Packet{Data: data}
	if err := r.Put(src); err != nil {
		t.Fatalf("Put: %v", err)
	}
	src.Data[0] = 0xFF

	got, err := r.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Data[0] != 1 {
		t.Fatalf("mutating the source buffer after Put leaked into the ring: got.Data[0] = %d, want 1", got.Data[0])
	}
}

func TestTryGet_EmptyOpen(t *testing.T) {
	r := New(2)
	if _, err := r.TryGet(); err != ErrWouldBlock {
		t.Fatalf("TryGet on empty open ring: got %v, want ErrWouldBlock", err)
	}
}

func TestTryPut_FullOpen(t *testing.T) {
	r := New(1)
	if err := r.Put(&packet.Packet{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := r.TryPut(&packet.Packet{}); err != ErrWouldBlock {
		t.Fatalf("TryPut on full ring: got %v, want ErrWouldBlock", err)
	}
}

func TestCount_NeverExceedsCapacity(t *testing.T) {
	r := New(3)
	for i := 0; i < 3; i++ {
		_ = r.Put(&packet.Packet{PTS: int64(i)})
	}
	if got := r.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	if err := r.TryPut(&packet.Packet{}); err != ErrWouldBlock {
		t.Fatalf("TryPut beyond capacity: got %v, want ErrWouldBlock", err)
	}
	if got := r.Len(); got != 3 {
		t.Fatalf("Len() after rejected TryPut = %d, want 3", got)
	}
}

func TestClose_DrainsBeforeEndOfStream(t *testing.T) {
	r := New(4)
	_ = r.Put(&packet.Packet{PTS: 1})
	_ = r.Put(&packet.Packet{PTS: 2})
	r.Close()

	for _, want := range []int64{1, 2} {
		pkt, err := r.Get()
		if err != nil {
			t.Fatalf("Get after Close but before drain: %v", err)
		}
		if pkt.PTS != want {
			t.Fatalf("Get() PTS = %d, want %d", pkt.PTS, want)
		}
	}
	if _, err := r.Get(); err != ErrEndOfStream {
		t.Fatalf("Get after drain: got %v, want ErrEndOfStream", err)
	}
}

func TestClose_RejectsFurtherPut(t *testing.T) {
	r := New(4)
	r.Close()
	if err := r.Put(&packet.Packet{}); err != ErrClosed {
		t.Fatalf("Put after Close: got %v, want ErrClosed", err)
	}
	if err := r.TryPut(&packet.Packet{}); err != ErrClosed {
		t.Fatalf("TryPut after Close: got %v, want ErrClosed", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	r := New(2)
	r.Close()
	r.Close()
	if !r.Closed() {
		t.Fatal("ring should report closed")
	}
}

func TestClose_WakesBlockedProducer(t *testing.T) {
	r := New(1)
	_ = r.Put(&packet.Packet{PTS: 1})

	done := make(chan error, 1)
	go func() {
		done <- r.Put(&packet.Packet{PTS: 2})
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		if err != ErrClosed {
			t.Fatalf("blocked Put after Close: got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put blocked on a full ring was not woken by Close")
	}
}

func TestClose_WakesBlockedConsumer(t *testing.T) {
	r := New(1)

	done := make(chan error, 1)
	go func() {
		_, err := r.Get()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		if err != ErrEndOfStream {
			t.Fatalf("blocked Get after Close: got %v, want ErrEndOfStream", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Get blocked on an empty ring was not woken by Close")
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	r := New(8)
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := r.Put(&packet.Packet{PTS: int64(i)}); err != nil {
				t.Errorf("Put(%d): %v", i, err)
				return
			}
		}
		r.Close()
	}()

	got := make([]int64, 0, n)
	for {
		pkt, err := r.Get()
		if err == ErrEndOfStream {
			break
		}
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		got = append(got, pkt.PTS)
	}
	wg.Wait()

	if len(got) != n {
		t.Fatalf("received %d packets, want %d", len(got), n)
	}
	for i, pts := range got {
		if pts != int64(i) {
			t.Fatalf("out-of-order delivery at index %d: got PTS %d, want %d", i, pts, i)
		}
	}
}
