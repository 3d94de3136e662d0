// SPDX-License-Identifier: MIT

// Package tsnorm rewrites PTS/DTS on outgoing packets so the downstream
// pipeline sees a single monotone timeline across source switches, rather
// than the independent clock each upstream source runs on.
package tsnorm

import (
	"github.com/streamswitch/mswitch/internal/packet"
)

// DiscontinuityThreshold is the default gap, in timebase units, beyond
// which a jump in a source's raw timestamps is treated as evidence of a
// source switch or clock restart rather than ordinary jitter. The
// original threshold this is descended from was a hardcoded tick count
// with an undocumented timebase; here it is a caller-supplied parameter
// instead (see New).
const DiscontinuityThreshold = 90000

// Normalizer tracks per-source timestamp offsets and the last timestamps
// emitted downstream, rewriting each outgoing packet so the emitted DTS
// sequence is non-decreasing across switches. It is not safe for
// concurrent use; the Dispatcher is its only caller, always from the same
// goroutine that pulls packets downstream.
type Normalizer struct {
	threshold int64

	haveBaseline  bool
	lastOutputPTS int64
	lastOutputDTS int64
	offsets       map[int]int64
}

// New returns a Normalizer using the given discontinuity threshold
// (timebase units). A threshold of 0 uses DiscontinuityThreshold.
func New(threshold int64) *Normalizer {
	if threshold == 0 {
		threshold = DiscontinuityThreshold
	}
	return &Normalizer{
		threshold: threshold,
		offsets:   make(map[int]int64),
	}
}

// ResetForSource forgets the recorded offset for source, so the next packet
// emitted from it is not rebased against a stale accumulated offset from
// the last time this source was active. Called by the Switch State
// Machine on every committed switch.
//
// This does not treat the next packet as a fresh Normalizer-wide
// baseline: Apply rebases a source with no recorded offset onto
// lastOutputDTS, so a switch onto a source whose raw clock sits anywhere
// else than the existing output timeline continues that timeline instead
// of being emitted at its own raw offset, which could make the emitted
// DTS run backwards.
func (n *Normalizer) ResetForSource(source int) {
	delete(n.offsets, source)
}

// Apply rewrites pkt's PTS/DTS in place for emission from source, and
// returns pkt for chaining convenience.
func (n *Normalizer) Apply(source int, pkt *packet.Packet) *packet.Packet {
	actualDTS := pkt.ActualDTS()

	if !n.haveBaseline {
		n.haveBaseline = true
		n.offsets[source] = 0
		n.lastOutputPTS = pkt.PTS
		n.lastOutputDTS = actualDTS
		return pkt
	}

	requiredOffset := n.lastOutputDTS - actualDTS
	offset, known := n.offsets[source]
	if !known || abs64(requiredOffset-offset) > n.threshold {
		offset = requiredOffset
		n.offsets[source] = offset
	}

	pkt.PTS += offset
	if pkt.HasDTS {
		pkt.DTS += offset
	}

	n.lastOutputPTS = pkt.PTS
	n.lastOutputDTS = pkt.ActualDTS()
	return pkt
}

// Offset returns the currently recorded offset for source, for
// diagnostics and tests.
func (n *Normalizer) Offset(source int) int64 {
	return n.offsets[source]
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
