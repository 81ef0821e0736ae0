// Package envtest provides a minimal deterministic environment satisfying
// env.Env, used by the rollback/hasher/recorder test suites in place of the
// real embedded scripting runtime (out of scope per spec.md §1).
package envtest

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/gymsync/syncd/internal/env"
	"github.com/gymsync/syncd/internal/rng"
)

// Accumulator is a toy environment: each participant has a running integer
// position that advances by its action value each step, a global counter
// summing every action, and one draw from the shared RNG per step that
// scales each reward — so a replay producing a different action sequence
// also produces a different state, which is what determinism tests need
// to catch.
type Accumulator struct {
	seed      uint32
	rng       *rng.RNG
	positions map[uint16]int64
	global    int64
	frame     uint32
}

// New creates an Accumulator. Call Reset before stepping.
func New() *Accumulator {
	return &Accumulator{positions: make(map[uint16]int64)}
}

func (a *Accumulator) Reset(_ context.Context, seed uint32) (map[uint16][]byte, map[string]any, error) {
	a.seed = seed
	a.rng = rng.New(seed)
	a.positions = make(map[uint16]int64)
	a.global = 0
	a.frame = 0
	return map[uint16][]byte{}, map[string]any{"seed": seed}, nil
}

func (a *Accumulator) Step(_ context.Context, actions map[uint16]int64) (env.StepResult, error) {
	indices := make([]uint16, 0, len(actions))
	for idx := range actions {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	res := env.StepResult{
		Obs:         make(map[uint16][]byte, len(actions)),
		Rewards:     make(map[uint16]float64, len(actions)),
		Terminateds: make(map[uint16]bool, len(actions)),
		Truncateds:  make(map[uint16]bool, len(actions)),
		Info:        map[string]any{},
	}

	draw := a.rng.Next()
	for _, idx := range indices {
		a.positions[idx] += actions[idx]
		a.global += actions[idx]
		res.Rewards[idx] = float64(actions[idx]) * draw
		res.Terminateds[idx] = false
		res.Truncateds[idx] = false
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(a.positions[idx]))
		res.Obs[idx] = buf
	}
	a.frame++
	return res, nil
}

func (a *Accumulator) GetState(_ context.Context) ([]byte, error) {
	indices := make([]uint16, 0, len(a.positions))
	for idx := range a.positions {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	buf := make([]byte, 0, 16+12*len(indices))
	tmp := make([]byte, 4)
	binary.BigEndian.PutUint32(tmp, a.frame)
	buf = append(buf, tmp...)
	binary.BigEndian.PutUint32(tmp, a.seed)
	buf = append(buf, tmp...)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], uint64(a.global))
	buf = append(buf, tmp8[:]...)
	binary.BigEndian.PutUint32(tmp, a.rng.State())
	buf = append(buf, tmp...)

	binary.BigEndian.PutUint32(tmp, uint32(len(indices)))
	buf = append(buf, tmp...)
	for _, idx := range indices {
		var b2 [2]byte
		binary.BigEndian.PutUint16(b2[:], idx)
		buf = append(buf, b2[:]...)
		binary.BigEndian.PutUint64(tmp8[:], uint64(a.positions[idx]))
		buf = append(buf, tmp8[:]...)
	}
	return buf, nil
}

func (a *Accumulator) SetState(_ context.Context, state []byte) error {
	a.frame = binary.BigEndian.Uint32(state[0:4])
	a.seed = binary.BigEndian.Uint32(state[4:8])
	a.global = int64(binary.BigEndian.Uint64(state[8:16]))
	rngState := binary.BigEndian.Uint32(state[16:20])
	if a.rng == nil {
		a.rng = rng.New(a.seed)
	}
	a.rng.Restore(rngState)

	n := binary.BigEndian.Uint32(state[20:24])
	a.positions = make(map[uint16]int64, n)
	off := 24
	for i := uint32(0); i < n; i++ {
		idx := binary.BigEndian.Uint16(state[off : off+2])
		off += 2
		pos := int64(binary.BigEndian.Uint64(state[off : off+8]))
		off += 8
		a.positions[idx] = pos
	}
	return nil
}

func (a *Accumulator) Render(_ context.Context, _ string) (any, error) {
	return nil, nil
}
