// Package tick implements the Worker-Driven Tick timer source: a goroutine
// with its own ticker, decoupled from any host UI thread, posting tick
// signals to a bounded channel that the Rollback Engine drains one at a
// time. Shape grounded on the teacher's ws.Client.heartbeatLoop
// (goroutine + time.Ticker + select on ctx.Done()/ticker.C).
package tick

import (
	"context"
	"time"
)

// Source emits a tick signal on C() every interval until the context
// passed to Run is cancelled or Stop is called. The channel is buffered so
// a slow consumer doesn't stall the ticker goroutine; if the buffer is
// full a tick is dropped rather than blocking, since the engine only cares
// that "enough time has passed", not about a precise tick count.
type Source struct {
	interval time.Duration
	ch       chan struct{}
	stop     chan struct{}
}

// NewSource creates a Source. bufSize should be small (1-4); ticks are
// cheap to catch up on and dropping one just means the consumer's next
// drain covers slightly more elapsed time.
func NewSource(interval time.Duration, bufSize int) *Source {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Source{
		interval: interval,
		ch:       make(chan struct{}, bufSize),
		stop:     make(chan struct{}),
	}
}

// C returns the channel tick signals are posted to.
func (s *Source) C() <-chan struct{} { return s.ch }

// Run blocks, posting a tick every interval, until ctx is cancelled or
// Stop is called. Intended to be run in its own goroutine.
func (s *Source) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			select {
			case s.ch <- struct{}{}:
			default:
			}
		}
	}
}

// Stop ends a running Source's Run loop without needing to cancel its
// parent context.
func (s *Source) Stop() {
	close(s.stop)
}
