// Package probe implements the Probe Coordinator: a short-lived peer
// connection used to measure true P2P RTT between two matched candidates
// before a session is created (spec.md §4.8). Concurrent ping fan-out uses
// golang.org/x/sync/errgroup, a teacher go.mod dependency otherwise unwired
// into shipped code.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrRejected is returned when the probe fails to produce an RTT (timeout,
// signaling race, or no ping round returning a sample) — per spec.md
// §4.8 this always rejects the proposed match. Rounds that do return a
// sample are still used when others fail.
var ErrRejected = errors.New("probe: rejected, no RTT measurement obtained")

// Phase is the Probe Coordinator's lifecycle state.
type Phase int

const (
	PhasePrepare Phase = iota
	PhaseReady
	PhaseStarted
	PhaseClosed
)

// Pinger sends one probe ping and blocks until the matching pong (or ctx
// deadline). Implementations wrap the real transport/signaling ping path;
// tests substitute a fake.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Config bounds the coordinator per spec.md §5: 15s overall, 2s per ping,
// N pings at 100ms intervals. ChannelOpenTimeout (10s) is carried in the
// config but Run does not read it.
type Config struct {
	Pings            int
	IntervalMs       int64
	OverallTimeout   time.Duration
	PerPingTimeout   time.Duration
	ChannelOpenTimeout time.Duration
}

// DefaultConfig matches spec.md §4.8/§5's stated defaults.
func DefaultConfig() Config {
	return Config{
		Pings:              5,
		IntervalMs:         100,
		OverallTimeout:      15 * time.Second,
		PerPingTimeout:      2 * time.Second,
		ChannelOpenTimeout:  10 * time.Second,
	}
}

// Coordinator runs the two-phase prepare→ready→start probe lifecycle for
// one proposed match.
type Coordinator struct {
	cfg Config

	mu    sync.Mutex
	phase Phase
}

// New constructs a Coordinator in PhasePrepare.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg, phase: PhasePrepare}
}

// Phase returns the current lifecycle phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// MarkReady transitions prepare→ready once the probe-side channel is open.
func (c *Coordinator) MarkReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhasePrepare {
		return fmt.Errorf("probe: MarkReady called in phase %v", c.phase)
	}
	c.phase = PhaseReady
	return nil
}

// Run drives ready→start: it waits for the channel to be deemed ready
// (already called via MarkReady), fires cfg.Pings concurrent pings at
// IntervalMs spacing, and returns the median RTT. A missing sample on any
// ping round contributes no measurement; an empty result set is
// ErrRejected.
func (c *Coordinator) Run(ctx context.Context, pinger Pinger) (time.Duration, error) {
	c.mu.Lock()
	if c.phase != PhaseReady {
		c.mu.Unlock()
		return 0, fmt.Errorf("probe: Run called before ready (phase %v)", c.phase)
	}
	c.phase = PhaseStarted
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.phase = PhaseClosed
		c.mu.Unlock()
	}()

	overallCtx, cancel := context.WithTimeout(ctx, c.cfg.OverallTimeout)
	defer cancel()

	samples := make([]time.Duration, c.cfg.Pings)
	ok := make([]bool, c.cfg.Pings)

	g, gctx := errgroup.WithContext(overallCtx)
	interval := time.Duration(c.cfg.IntervalMs) * time.Millisecond
	for i := 0; i < c.cfg.Pings; i++ {
		i := i
		delay := interval * time.Duration(i)
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(delay):
			}
			pingCtx, pingCancel := context.WithTimeout(gctx, c.cfg.PerPingTimeout)
			defer pingCancel()
			rtt, err := pinger.Ping(pingCtx)
			if err != nil {
				return nil // a single failed ping doesn't abort the fan-out
			}
			samples[i] = rtt
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("probe: ping fan-out: %w", err)
	}

	var collected []time.Duration
	for i, v := range ok {
		if v {
			collected = append(collected, samples[i])
		}
	}
	if len(collected) == 0 {
		return 0, ErrRejected
	}
	return median(collected), nil
}

func median(d []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), d...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
