package signaling

import (
	"context"

	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/transport/p2p"
)

// RelayAdapter adapts a signaling Client to p2p.RelayFallback, so the P2P
// Transport can fall back to relaying input bundles through the signaling
// server one player_action message at a time when the data channel isn't
// open (spec.md §4.7).
type RelayAdapter struct {
	Client    *Client
	SessionID string
}

// SendInputBundle implements p2p.RelayFallback.
func (a RelayAdapter) SendInputBundle(ctx context.Context, entries []p2p.InputBundleEntry) error {
	for _, e := range entries {
		if err := a.Client.SendPlayerAction(ctx, a.SessionID, e.Index, e.Action, e.Frame); err != nil {
			return err
		}
	}
	return nil
}

// SendFrameDigest relays one frame digest over signaling as a frame_digest
// message for this adapter's session.
func (a RelayAdapter) SendFrameDigest(ctx context.Context, index frame.ParticipantIndex, f frame.Number, digest []byte) error {
	return a.Client.SendFrameDigest(ctx, a.SessionID, index, f, digest)
}
