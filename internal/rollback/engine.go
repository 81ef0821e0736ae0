// Package rollback implements the GGPO-style rollback/prediction engine
// that drives the deterministic step loop: it predicts missing remote
// inputs, steps the environment forward, and replays from the nearest
// snapshot whenever a late-arriving input contradicts a prediction.
//
// Scheduling model: single-threaded cooperative. Tick is meant to be called
// once per tick message from the Worker-Driven Tick source, with no two
// calls ever running concurrently for the same Engine — the same
// discipline the teacher's ws.Client.Run applies to its own read loop.
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/gymsync/syncd/internal/env"
	"github.com/gymsync/syncd/internal/frame"
	"github.com/gymsync/syncd/internal/hasher"
	"github.com/gymsync/syncd/internal/inputbuf"
	"github.com/gymsync/syncd/internal/recorder"
	"github.com/gymsync/syncd/internal/rng"
	"github.com/gymsync/syncd/internal/snapshot"
)

// RemoteInput is one input delivered by the transport since the last tick,
// whether over P2P or the signaling-relay fallback.
type RemoteInput struct {
	Frame  frame.Number
	Index  frame.ParticipantIndex
	Action frame.Action
}

// InputEntry is one input in an outbound redundancy bundle.
type InputEntry struct {
	Frame  frame.Number
	Index  frame.ParticipantIndex
	Action frame.Action
}

// Transport is the narrow interface the Rollback Engine needs from the P2P
// Transport layer: drain whatever arrived since the last tick, and send the
// current redundancy bundle of local inputs.
type Transport interface {
	DrainInbound() []RemoteInput
	SendBundle(ctx context.Context, bundle []InputEntry) error
}

// LocalInputSource supplies the locally generated action for a frame (the
// input-delay policy in spec.md §4.4 step 3 applies this at frame+D at the
// call site, not here).
type LocalInputSource interface {
	LocalAction(f frame.Number) frame.Action
}

// DeepDriftEvent is recorded when a remote input arrives for a frame beyond
// the snapshot ring's reach — rollback cannot recover that deep, so the
// engine proceeds without rolling back and relies on the Hasher to flag the
// resulting divergence downstream.
type DeepDriftEvent struct {
	Frame           frame.Number
	OldestSnapshot  frame.Number
}

// Config bundles the tunables the engine needs, all sourced from
// SyncConfig in production.
type Config struct {
	Indices          []frame.ParticipantIndex
	LocalIndex       frame.ParticipantIndex
	InputDelay       frame.Number // D, typically 2-3
	SnapshotInterval frame.Number
	RedundancyCount  int
	DefaultAction    frame.Action // substituted while backgrounded
}

// Engine is a single core instance: it exclusively owns its InputBuffer,
// Snapshot Ring, Speculative/Canonical buffers, Hasher, and frame counter.
type Engine struct {
	cfg Config
	log *slog.Logger

	env   env.Env
	rng   *rng.RNG
	input *inputbuf.Buffer
	snaps *snapshot.Ring
	rec   *recorder.Recorder
	hash  *hasher.Hasher

	transport Transport
	localSrc  LocalInputSource

	localFrame frame.Number

	// predictionLedger[frame][index] = predicted action used for that
	// (frame, index) the last time it was stepped. Cleared per-index as
	// real inputs confirm, and entirely for a frame once it's confirmed.
	predictionLedger map[frame.Number]map[frame.ParticipantIndex]frame.Action

	flagged map[frame.Number]struct{} // frames needing rollback

	backgrounded bool

	deepDrifts []DeepDriftEvent

	// lastConfirmedAction is used as the "last-known prediction" per
	// spec.md §4.4 step 4, both in Tick and in FastForward (see
	// fastforward.go), for human and bot participants alike.
	lastConfirmedAction map[frame.ParticipantIndex]frame.Action

	// onRollback, if set, is called with the replay depth (frames
	// re-simulated) every time rollbackTo performs a real rollback. Wired
	// to the rollback-depth gauge in production, nil in tests.
	onRollback func(depth int)
}

// SetRollbackObserver installs a callback invoked with the replay depth
// each time the engine rolls back and replays. Used to feed the
// rollback-depth metric without coupling the engine to a metrics package.
func (e *Engine) SetRollbackObserver(fn func(depth int)) { e.onRollback = fn }

// New constructs an Engine. The seed is not taken here: Start receives it
// (delivered by the server at session start, spec.md §4.1) and uses it
// both for the RNG and to seed the environment collaborator via Reset.
func New(cfg Config, e env.Env, snaps *snapshot.Ring, h *hasher.Hasher, transport Transport, localSrc LocalInputSource, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:                 cfg,
		log:                 log,
		env:                 e,
		input:               inputbuf.New(),
		snaps:               snaps,
		rec:                 recorder.New(),
		hash:                h,
		transport:           transport,
		localSrc:            localSrc,
		predictionLedger:    make(map[frame.Number]map[frame.ParticipantIndex]frame.Action),
		flagged:             make(map[frame.Number]struct{}),
		lastConfirmedAction: make(map[frame.ParticipantIndex]frame.Action),
	}
}

// Start resets the environment and RNG with seed, takes the frame-0
// snapshot, and positions the engine to begin ticking.
func (e *Engine) Start(ctx context.Context, seed uint32) error {
	e.rng = rng.New(seed)
	if _, _, err := e.env.Reset(ctx, seed); err != nil {
		return fmt.Errorf("rollback: env reset: %w", err)
	}
	e.localFrame = 0
	return e.saveSnapshot(ctx, 0)
}

// Recorder exposes the Dual-Buffer Recorder so the export layer and tests
// can read canonical records.
func (e *Engine) Recorder() *recorder.Recorder { return e.rec }

// InputBuffer exposes the Input Buffer for tests and diagnostics.
func (e *Engine) InputBuffer() *inputbuf.Buffer { return e.input }

// ConfirmedFrame returns the current confirmedFrame watermark.
func (e *Engine) ConfirmedFrame() (frame.Number, bool) {
	return e.input.LatestConfirmed()
}

// LocalFrame returns the engine's current local frame counter.
func (e *Engine) LocalFrame() frame.Number { return e.localFrame }

// SetBackgrounded toggles the Focus Manager's backgrounded state; while
// true, local input is substituted with cfg.DefaultAction (spec.md §4.10).
func (e *Engine) SetBackgrounded(b bool) { e.backgrounded = b }

// DeepDrifts returns recorded DeepDriftEvents. For diagnostics and export.
func (e *Engine) DeepDrifts() []DeepDriftEvent {
	out := make([]DeepDriftEvent, len(e.deepDrifts))
	copy(out, e.deepDrifts)
	return out
}

// Tick runs one iteration of the per-tick algorithm (spec.md §4.4, steps
// 1-10).
func (e *Engine) Tick(ctx context.Context) error {
	// 1. Drain inbound.
	if err := e.drainInbound(); err != nil {
		return err
	}

	// 2. Rollback, if flagged.
	if target, ok := e.smallestFlagged(); ok {
		if err := e.rollbackTo(ctx, target); err != nil {
			return fmt.Errorf("rollback: replay from frame %d: %w", target, err)
		}
	}

	// 3. Collect local input.
	localAction := e.localSrc.LocalAction(e.localFrame)
	if e.backgrounded {
		localAction = e.cfg.DefaultAction
	}
	if err := e.putInput(e.localFrame, e.cfg.LocalIndex, localAction); err != nil {
		return err
	}

	// 4. Predict missing remotes.
	actions := e.predictFrame(e.localFrame)

	// 5. Step.
	res, err := e.env.Step(ctx, toInt64Actions(actions))
	if err != nil {
		return fmt.Errorf("rollback: env step at frame %d: %w", e.localFrame, err)
	}
	wasSpeculative := e.frameHasPrediction(e.localFrame)
	e.rec.Write(recorder.Record{
		Frame:          e.localFrame,
		Actions:        actions,
		Rewards:        toFloatRewards(res.Rewards),
		Terminateds:    toBoolFlags(res.Terminateds),
		TerminatedAll:  allTrue(res.Terminateds),
		Truncateds:     toBoolFlags(res.Truncateds),
		Info:           res.Info,
		WasSpeculative: wasSpeculative,
	})

	// 6. Send outbound.
	if err := e.sendOutbound(ctx); err != nil {
		e.log.Warn("rollback: send outbound failed", "frame", e.localFrame, "err", err)
	}

	// 7. Snapshot, maybe.
	if e.snaps.ShouldSave(e.localFrame) {
		if err := e.saveSnapshot(ctx, e.localFrame); err != nil {
			return fmt.Errorf("rollback: save snapshot at frame %d: %w", e.localFrame, err)
		}
	}

	// 8. Advance confirmed frame.
	if err := e.advanceConfirmed(ctx); err != nil {
		return err
	}

	// 9. Hash exchange: advanceConfirmed's RecordLocal calls queue the
	// local digests on the Hasher. The engine does not send them; they stay
	// queued until something calls Hasher.DrainOutbound.

	// 10. Advance frame counter.
	e.localFrame++
	return nil
}

func (e *Engine) putInput(f frame.Number, index frame.ParticipantIndex, action frame.Action) error {
	if err := e.input.Put(f, index, action); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (e *Engine) drainInbound() error {
	for _, ri := range e.transport.DrainInbound() {
		prediction, wasPredicted := e.predictedAction(ri.Frame, ri.Index)
		if err := e.putInput(ri.Frame, ri.Index, ri.Action); err != nil {
			return err
		}
		if wasPredicted && prediction != ri.Action {
			e.flagRollback(ri.Frame)
		}
		// If no prediction was in use for this frame/index, no rollback is
		// needed (spec.md §4.4: "If the prediction ledger for frame N is
		// empty and a remote input for frame N arrives, no rollback is
		// required").
		if ri.Frame < e.oldestRecoverableFrame() {
			e.deepDrifts = append(e.deepDrifts, DeepDriftEvent{
				Frame:          ri.Frame,
				OldestSnapshot: e.oldestRecoverableFrame(),
			})
		}
	}
	return nil
}

func (e *Engine) oldestRecoverableFrame() frame.Number {
	frames := e.snaps.Frames()
	if len(frames) == 0 {
		return 0
	}
	return frames[0]
}

func (e *Engine) predictedAction(f frame.Number, index frame.ParticipantIndex) (frame.Action, bool) {
	row, ok := e.predictionLedger[f]
	if !ok {
		return 0, false
	}
	a, ok := row[index]
	return a, ok
}

func (e *Engine) flagRollback(f frame.Number) {
	e.flagged[f] = struct{}{}
}

func (e *Engine) smallestFlagged() (frame.Number, bool) {
	if len(e.flagged) == 0 {
		return 0, false
	}
	frames := make([]frame.Number, 0, len(e.flagged))
	for f := range e.flagged {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	return frames[0], true
}

func (e *Engine) frameHasPrediction(f frame.Number) bool {
	row, ok := e.predictionLedger[f]
	return ok && len(row) > 0
}

func toInt64Actions(actions map[frame.ParticipantIndex]frame.Action) map[uint16]int64 {
	out := make(map[uint16]int64, len(actions))
	for idx, a := range actions {
		out[uint16(idx)] = int64(a)
	}
	return out
}

func toFloatRewards(in map[uint16]float64) map[frame.ParticipantIndex]float64 {
	out := make(map[frame.ParticipantIndex]float64, len(in))
	for idx, v := range in {
		out[frame.ParticipantIndex(idx)] = v
	}
	return out
}

func toBoolFlags(in map[uint16]bool) map[frame.ParticipantIndex]bool {
	out := make(map[frame.ParticipantIndex]bool, len(in))
	for idx, v := range in {
		out[frame.ParticipantIndex(idx)] = v
	}
	return out
}

func allTrue(in map[uint16]bool) bool {
	if len(in) == 0 {
		return false
	}
	for _, v := range in {
		if !v {
			return false
		}
	}
	return true
}
