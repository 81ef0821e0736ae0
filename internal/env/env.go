// Package env defines the narrow capability interface the Rollback Engine
// steps against. It replaces the duck-typed scripting-runtime collaborator
// named in spec.md §6 with a single Go interface — the engine is
// polymorphic only over this contract, never over the concrete environment.
package env

import "context"

// StepResult is the outcome of advancing the environment by one frame for
// every participant's action.
type StepResult struct {
	Obs          map[uint16][]byte
	Rewards      map[uint16]float64
	Terminateds  map[uint16]bool
	Truncateds   map[uint16]bool
	Info         map[string]any
}

// Env is the capability contract an embedded gym environment must satisfy
// to participate in rollback netcode: deterministic given seed + input
// sequence, and able to serialize/restore its full state for rollback and
// fast-forward replay.
type Env interface {
	// Reset reinitializes the environment for a new episode with the given
	// seed. The environment must seed any numeric libraries it owns with
	// the same value so peers started from the same seed stay in lockstep.
	Reset(ctx context.Context, seed uint32) (obs map[uint16][]byte, info map[string]any, err error)

	// Step advances the environment by one frame using the given action
	// per participant index.
	Step(ctx context.Context, actions map[uint16]int64) (StepResult, error)

	// GetState returns a deterministic byte serialization of the full
	// environment state, suitable for Snapshot storage and for the Frame
	// Hasher's canonicalized digest input.
	GetState(ctx context.Context) ([]byte, error)

	// SetState restores a previously captured state, used by rollback
	// replay and fast-forward.
	SetState(ctx context.Context, state []byte) error

	// Render returns an opaque representation for the rendering
	// collaborator; the sync core never interprets it.
	Render(ctx context.Context, mode string) (any, error)
}

// ErrMissingCapability is returned at session start when an environment
// collaborator doesn't implement GetState/SetState, which desyncs rollback
// before a single frame is played.
type ErrMissingCapability struct {
	Capability string
}

func (e *ErrMissingCapability) Error() string {
	return "env: environment collaborator is missing required capability: " + e.Capability
}
