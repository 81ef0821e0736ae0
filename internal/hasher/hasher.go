// Package hasher computes a normalized, deterministic digest of environment
// state at each confirmed frame, exchanges digests with the peer, and flags
// desyncs when the two disagree.
package hasher

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/gymsync/syncd/internal/frame"
)

// Digest is the first 8 bytes of a SHA-256 over a canonicalized state
// serialization.
type Digest [8]byte

// CanonicalInput is what gets hashed: the environment's own deterministic
// byte state plus the primary RNG stream (spec.md §9 fixes this open
// question: the hash includes the primary RNG stream).
type CanonicalInput struct {
	EnvState []byte
	RNGState uint32
}

// Compute hashes the canonicalized input. The environment collaborator is
// responsible for rounding floats to 10 decimal places and sorting keys
// before returning GetState bytes — the hasher only appends the RNG state
// and truncates the result, it does not re-canonicalize the env bytes
// itself (that would require interpreting the opaque blob).
func Compute(in CanonicalInput) Digest {
	h := sha256.New()
	h.Write(in.EnvState)
	var rngBuf [4]byte
	binary.BigEndian.PutUint32(rngBuf[:], in.RNGState)
	h.Write(rngBuf[:])
	sum := h.Sum(nil)
	var d Digest
	copy(d[:], sum[:8])
	return d
}

// DesyncEvent is recorded once per divergence point.
type DesyncEvent struct {
	Frame          frame.Number
	LocalDigest    Digest
	PeerDigest     Digest
	Timestamp      time.Time
	LocalStateDump []byte // optional, populated under a debug policy
}

// Policy selects the response to a confirmed desync.
type Policy int

const (
	// LogOnly records the DesyncEvent and continues — the default, for
	// research fidelity.
	LogOnly Policy = iota
	// RequestStateTransfer is reported by Policy; the Hasher records the
	// DesyncEvent exactly as under LogOnly and sends no state-transfer
	// request itself.
	RequestStateTransfer
)

// Hasher tracks local hashes for confirmed frames, buffers peer hashes that
// arrive before the corresponding local hash exists, and records
// DesyncEvents on mismatch.
type Hasher struct {
	mu sync.Mutex

	policy Policy

	localHashes map[frame.Number]Digest
	pendingPeer map[frame.Number][]peerEntry

	verifiedFrame frame.Number
	hasVerified   bool

	desyncs []DesyncEvent
	outbound []OutboundDigest

	onDesync func(DesyncEvent)
}

// SetDesyncObserver installs a callback invoked with every recorded
// DesyncEvent. Wired to the desync counter in production.
func (h *Hasher) SetDesyncObserver(fn func(DesyncEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDesync = fn
}

type peerEntry struct {
	index  frame.ParticipantIndex
	digest Digest
}

// OutboundDigest is a (frame, digest) pair queued for transmission to the
// peer over the frame-digest wire message.
type OutboundDigest struct {
	Frame  frame.Number
	Digest Digest
}

// New creates a Hasher using the given desync policy.
func New(policy Policy) *Hasher {
	return &Hasher{
		policy:      policy,
		localHashes: make(map[frame.Number]Digest),
		pendingPeer: make(map[frame.Number][]peerEntry),
	}
}

// RecordLocal computes and stores the local digest for a confirmed frame,
// enqueues it for outbound transmission, and retries any pending peer
// digests buffered for that frame. It must never be called for a frame
// that is still predicted — the caller (Rollback Engine) enforces that by
// only calling this once a frame is confirmed.
func (h *Hasher) RecordLocal(f frame.Number, in CanonicalInput) Digest {
	d := Compute(in)

	h.mu.Lock()
	h.localHashes[f] = d
	h.outbound = append(h.outbound, OutboundDigest{Frame: f, Digest: d})
	pending := h.pendingPeer[f]
	delete(h.pendingPeer, f)
	h.mu.Unlock()

	for _, pe := range pending {
		h.compareOrBuffer(f, pe.index, pe.digest, d)
	}
	return d
}

// DrainOutbound returns and clears the queued outbound digests.
func (h *Hasher) DrainOutbound() []OutboundDigest {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.outbound
	h.outbound = nil
	return out
}

// ReceivePeerHash processes an incoming PeerHashEntry. If the local hash
// for that frame exists, it compares immediately; otherwise it buffers and
// retries when RecordLocal produces the local hash.
func (h *Hasher) ReceivePeerHash(f frame.Number, index frame.ParticipantIndex, peerDigest Digest) {
	h.mu.Lock()
	local, ok := h.localHashes[f]
	if !ok {
		h.pendingPeer[f] = append(h.pendingPeer[f], peerEntry{index: index, digest: peerDigest})
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.compareOrBuffer(f, index, peerDigest, local)
}

func (h *Hasher) compareOrBuffer(f frame.Number, _ frame.ParticipantIndex, peerDigest, local Digest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if peerDigest != local {
		ev := DesyncEvent{
			Frame:       f,
			LocalDigest: local,
			PeerDigest:  peerDigest,
			Timestamp:   time.Now(),
		}
		h.desyncs = append(h.desyncs, ev)
		if h.onDesync != nil {
			h.onDesync(ev)
		}
		return
	}
	if !h.hasVerified || f > h.verifiedFrame {
		h.verifiedFrame = f
		h.hasVerified = true
	}
}

// VerifiedFrame returns the largest frame at which peer hashes agreed.
func (h *Hasher) VerifiedFrame() (frame.Number, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifiedFrame, h.hasVerified
}

// Desyncs returns all recorded DesyncEvents, oldest first. For tests,
// diagnostics, and export.
func (h *Hasher) Desyncs() []DesyncEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DesyncEvent, len(h.desyncs))
	copy(out, h.desyncs)
	return out
}

// Policy returns the configured desync response policy.
func (h *Hasher) Policy() Policy {
	return h.policy
}

// InvalidateFrom drops local hashes and pending peer hashes with frame >= f.
// Called on entry to a rollback whose target is f, per spec.md §4.6.
func (h *Hasher) InvalidateFrom(f frame.Number) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.localHashes {
		if k >= f {
			delete(h.localHashes, k)
		}
	}
	for k := range h.pendingPeer {
		if k >= f {
			delete(h.pendingPeer, k)
		}
	}
	if h.hasVerified && h.verifiedFrame >= f {
		if f == 0 {
			h.hasVerified = false
			h.verifiedFrame = 0
		} else {
			h.verifiedFrame = f - 1
		}
	}
}

// PendingFrames returns the frames currently buffered awaiting a local
// hash, sorted ascending. For diagnostics and tests.
func (h *Hasher) PendingFrames() []frame.Number {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]frame.Number, 0, len(h.pendingPeer))
	for f := range h.pendingPeer {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
