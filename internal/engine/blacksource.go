// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/streamswitch/mswitch/internal/ingest"
	"github.com/streamswitch/mswitch/internal/packet"
)

// blackSchemePrefix marks the one source URL scheme this engine resolves
// on its own: the never-failing black interim (spec invariant 6). Every
// other scheme is the embedding pipeline's to resolve, since
// container/codec demuxing is out of scope here (see the Upstream
// Demuxer Collaborator Interface).
const blackSchemePrefix = "black://"

// blackUpstream synthesizes an endless stream of minimal keyframe packets.
// It never returns ErrWouldBlock or a fatal error on its own, which is what
// makes the black interim always-healthy: its Ring never runs dry except
// by the pace of its interval, and nothing it does can fail.
type blackUpstream struct {
	interval time.Duration
	ptsMs    int64
}

func newBlackUpstream() *blackUpstream {
	return &blackUpstream{interval: 40 * time.Millisecond}
}

func (b *blackUpstream) ReadPacket(ctx context.Context) (*packet.Packet, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(b.interval):
	}
	b.ptsMs += b.interval.Milliseconds()
	return &packet.Packet{
		PTS:             b.ptsMs,
		DTS:             b.ptsMs,
		HasDTS:          true,
		HasKeyframeHint: true,
		KeyframeHint:    true,
		Codec:           packet.CodecOther,
		Data:            []byte{0x00},
	}, nil
}

func (b *blackUpstream) Close() error { return nil }

// DefaultOpenerFactory resolves a source's configured URL to an
// ingest.Opener. The "black://" scheme is synthesized locally; any other
// scheme yields an Opener that fails immediately, since resolving it to a
// real demuxer handle is the embedding pipeline's responsibility, not this
// engine's.
func DefaultOpenerFactory(index int, url string) ingest.Opener {
	if strings.HasPrefix(url, blackSchemePrefix) {
		return func(ctx context.Context) (ingest.Upstream, error) {
			return newBlackUpstream(), nil
		}
	}
	return func(ctx context.Context) (ingest.Upstream, error) {
		return nil, fmt.Errorf("engine: source %d (%q): no demuxer registered for this scheme; the embedding pipeline must supply one", index, url)
	}
}
