// SPDX-License-Identifier: MIT

// Package keyframe classifies whether a compressed packet begins an
// independently-decodable unit (an IDR/I-frame), with no state and no
// allocation beyond what the caller already owns.
//
// The NAL-scan fallback is grounded on the Annex-B start-code scanning used
// by real-time H.264 re-packetizers in the wild (three- and four-byte start
// codes, NAL type in the low 5 bits of the byte following the start code).
package keyframe

import "github.com/streamswitch/mswitch/internal/packet"

// H.264 NAL unit types relevant to keyframe detection.
const (
	nalTypeIDRSlice = 5
	nalTypeSPS      = 7
	nalTypePPS      = 8
)

// Detect returns whether pkt begins an independently-decodable unit.
//
// NAL types 7 (SPS) and 8 (PPS) are treated as keyframe indicators equally
// with type 5 (IDR): SPS/PPS almost always arrive fused to their IDR in a
// single demuxed access unit, and treating them as keyframe-adjacent avoids
// ever switching into a source mid-parameter-set. See DESIGN.md for the
// rationale.
func Detect(pkt *packet.Packet) bool {
	if pkt == nil {
		return false
	}

	if pkt.HasKeyframeHint {
		return pkt.KeyframeHint
	}

	switch pkt.Codec {
	case packet.CodecH264:
		return scanH264(pkt.Data)
	default:
		return false
	}
}

// scanH264 walks Data looking for Annex-B start codes and inspects the NAL
// unit type of each NAL found. Returns true if any NAL is an IDR slice, SPS,
// or PPS.
func scanH264(data []byte) bool {
	for nal, rest, ok := nextNAL(data); ok; nal, rest, ok = nextNAL(rest) {
		if len(nal) == 0 {
			continue
		}
		switch nal[0] & 0x1f {
		case nalTypeIDRSlice, nalTypeSPS, nalTypePPS:
			return true
		}
	}
	return false
}

// nextNAL finds the next start-code-delimited NAL unit in buf.
//
// Returns the NAL unit's type-plus-payload byte slice (i.e. data strictly
// after the start code, up to but not including the next start code or end
// of buffer), the remainder of buf to continue scanning from, and whether a
// NAL was found at all.
func nextNAL(buf []byte) (nal, rest []byte, ok bool) {
	start, codeLen := findStartCode(buf)
	if start < 0 {
		return nil, nil, false
	}
	body := buf[start+codeLen:]

	nextStart, _ := findStartCode(body)
	if nextStart < 0 {
		return body, nil, true
	}
	return body[:nextStart], body[nextStart:], true
}

// findStartCode locates the first Annex-B start code in buf, returning its
// offset and length (3 for "00 00 01", 4 for "00 00 00 01"), or (-1, 0) if
// none is present.
func findStartCode(buf []byte) (offset, length int) {
	for i := 0; i+2 < len(buf); i++ {
		if buf[i] != 0 || buf[i+1] != 0 {
			continue
		}
		if buf[i+2] == 1 {
			return i, 3
		}
		if i+3 < len(buf) && buf[i+2] == 0 && buf[i+3] == 1 {
			return i, 4
		}
	}
	return -1, 0
}
