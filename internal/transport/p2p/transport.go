package p2p

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/hasher"
	"github.com/gymsync/syncd/internal/rollback"
)

// DataChannel is the narrow slice of *webrtc.DataChannel the Transport
// needs, so tests can substitute a fake without standing up real ICE.
type DataChannel interface {
	Send(data []byte) error
}

// RelayFallback is the signaling-relay escape hatch used when the data
// channel isn't open (spec.md §4.7: "if the channel is not open, inputs
// are sent over the signaling server relay at reduced rate").
type RelayFallback interface {
	SendInputBundle(ctx context.Context, entries []InputBundleEntry) error
}

const (
	pingInterval    = time.Second // 1 Hz per spec.md §4.7
	graceWindow     = 3 * time.Second
	keepaliveIdleAt = 5 * time.Second
)

// RTTStats is the min/median/mean/max RTT exported at episode end.
type RTTStats struct {
	Min, Median, Mean, Max time.Duration
	Samples                int
}

// Transport implements rollback.Transport over a WebRTC data channel, with
// ping/pong health tracking, a bilateral-pause grace window on ICE loss,
// and relay fallback while the channel isn't open.
type Transport struct {
	mu sync.Mutex

	dc    DataChannel
	open  bool
	relay RelayFallback
	log   *slog.Logger

	localIndex frame.ParticipantIndex

	inbound []rollback.RemoteInput

	pendingPings map[int64]time.Time
	rtts         []time.Duration

	pausedSince   time.Time
	paused        bool
	socketFallbackCount int

	// onRTT, if set, is called with every pong-measured RTT sample. Wired
	// to the P2P round-trip histogram in production.
	onRTT func(time.Duration)
}

// SetRTTObserver installs a callback invoked with each RTT sample recorded
// from a ping/pong round trip.
func (t *Transport) SetRTTObserver(fn func(time.Duration)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRTT = fn
}

// New creates a Transport. dc may be nil initially and attached later via
// Attach once the data channel opens.
func New(localIndex frame.ParticipantIndex, relay RelayFallback, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		relay:        relay,
		log:          log,
		localIndex:   localIndex,
		pendingPings: make(map[int64]time.Time),
	}
}

// Attach wires up the now-open data channel. Engines gate "start episode"
// on this having been called (spec.md §4.7: "Ready: channel open; engines
// gate start episode on ready").
func (t *Transport) Attach(dc DataChannel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dc = dc
	t.open = true
}

// Detach marks the channel as no longer open — called on ICE `failed` and
// when the data channel closes (ICE `disconnected` only pauses). The
// caller is responsible for driving the grace-window
// and pause/resume state transitions via Pause/Resume.
func (t *Transport) Detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dc = nil
	t.open = false
}

// Open reports whether the data channel is currently usable.
func (t *Transport) Open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// Pause enters the pause state on first lost-report, keeping the time of
// the first call. It only records local state; it sends nothing to the
// peer or the signaling server.
func (t *Transport) Pause(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paused {
		return
	}
	t.paused = true
	t.pausedSince = now
}

// Resume clears the pause state, e.g. once ICE-restart negotiation
// completes and a new Attach has occurred.
func (t *Transport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

// Paused reports the pause state and whether the grace window
// (graceWindow from pausedSince) has elapsed — past that point the
// disconnect is treated as requiring full session teardown upstream.
func (t *Transport) Paused(now time.Time) (paused bool, graceExpired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return false, false
	}
	return true, now.Sub(t.pausedSince) > graceWindow
}

// DrainInbound implements rollback.Transport.
func (t *Transport) DrainInbound() []rollback.RemoteInput {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.inbound
	t.inbound = nil
	return out
}

// SendBundle implements rollback.Transport: sends over the data channel if
// open, otherwise falls back to the signaling relay and counts it.
func (t *Transport) SendBundle(ctx context.Context, bundle []rollback.InputEntry) error {
	entries := make([]InputBundleEntry, len(bundle))
	for i, e := range bundle {
		entries[i] = InputBundleEntry{Frame: e.Frame, Index: e.Index, Action: e.Action}
	}

	t.mu.Lock()
	open := t.open
	dc := t.dc
	t.mu.Unlock()

	if open && dc != nil {
		return dc.Send(EncodeInputBundle(entries))
	}

	t.mu.Lock()
	t.socketFallbackCount++
	t.mu.Unlock()
	if t.relay == nil {
		return fmt.Errorf("p2p: channel closed and no relay fallback configured")
	}
	return t.relay.SendInputBundle(ctx, entries)
}

// SocketFallbackCount returns how many times SendBundle fell back to the
// signaling relay, for the `socketFallback` telemetry counter.
func (t *Transport) SocketFallbackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socketFallbackCount
}

// SendPing sends a 0x02 ping carrying the current time and records it
// pending for RTT measurement when the matching pong arrives.
func (t *Transport) SendPing(now time.Time) error {
	ts := now.UnixMilli()
	t.mu.Lock()
	t.pendingPings[ts] = now
	dc := t.dc
	open := t.open
	t.mu.Unlock()
	if !open || dc == nil {
		return nil // no health channel to ping over; not an error
	}
	return dc.Send(EncodePing(ts))
}

// SendKeepalive sends a 0x04 keepalive, used when no other traffic has
// flowed for keepaliveIdleAt.
func (t *Transport) SendKeepalive() error {
	t.mu.Lock()
	dc := t.dc
	open := t.open
	t.mu.Unlock()
	if !open || dc == nil {
		return nil
	}
	return dc.Send(EncodeKeepalive())
}

// HandleMessage dispatches one inbound wire message by tag. digestSink
// receives parsed peer frame-digest messages for the Hasher to consume.
func (t *Transport) HandleMessage(msg []byte, now time.Time, digestSink func(f frame.Number, d hasher.Digest)) error {
	tag, payload, err := DecodeTag(msg)
	if err != nil {
		return err
	}
	switch tag {
	case TagInputBundle:
		entries, err := DecodeInputBundle(payload)
		if err != nil {
			return err
		}
		t.mu.Lock()
		for _, e := range entries {
			t.inbound = append(t.inbound, rollback.RemoteInput{Frame: e.Frame, Index: e.Index, Action: e.Action})
		}
		t.mu.Unlock()
	case TagPing:
		ts, err := DecodePing(payload)
		if err != nil {
			return err
		}
		t.mu.Lock()
		dc := t.dc
		open := t.open
		t.mu.Unlock()
		if open && dc != nil {
			if err := dc.Send(EncodePong(ts)); err != nil {
				return err
			}
		}
	case TagPong:
		ts, err := DecodePong(payload)
		if err != nil {
			return err
		}
		t.recordRTT(ts, now)
	case TagKeepalive:
		// no-op, presence alone resets idle tracking at the caller
	case TagEpisodeEnd:
		if _, err := DecodeEpisodeEnd(payload); err != nil {
			return err
		}
	case TagEpisodeReady:
		if _, _, err := DecodeEpisodeReady(payload); err != nil {
			return err
		}
	case TagFrameDigest:
		f, d, err := DecodeFrameDigest(payload)
		if err != nil {
			return err
		}
		if digestSink != nil {
			digestSink(f, d)
		}
	default:
		return &UnknownTagError{Tag: byte(tag)}
	}
	return nil
}

func (t *Transport) recordRTT(originalTimestampMillis int64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sentAt, ok := t.pendingPings[originalTimestampMillis]
	if !ok {
		return
	}
	delete(t.pendingPings, originalTimestampMillis)
	rtt := now.Sub(sentAt)
	t.rtts = append(t.rtts, rtt)
	if t.onRTT != nil {
		t.onRTT(rtt)
	}
}

// RTT computes the current min/median/mean/max RTT stats for export.
func (t *Transport) RTT() RTTStats {
	t.mu.Lock()
	samples := append([]time.Duration(nil), t.rtts...)
	t.mu.Unlock()

	if len(samples) == 0 {
		return RTTStats{}
	}
	sortDurations(samples)
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return RTTStats{
		Min:     samples[0],
		Max:     samples[len(samples)-1],
		Median:  samples[len(samples)/2],
		Mean:    sum / time.Duration(len(samples)),
		Samples: len(samples),
	}
}

func sortDurations(d []time.Duration) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j-1] > d[j]; j-- {
			d[j-1], d[j] = d[j], d[j-1]
		}
	}
}
