// Package repr turns reservoir state histories into regression-ready feature
// rows.
package repr

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	"rcflight/internal/linalg"
)

// LagBuffer concatenates the current state with the previous Lag states. Both
// the batch and the streaming path saturate at the start of a trajectory: a
// missing history slot repeats the earliest available state.
//
// The streaming buffer belongs to a single controller; Step and Reset are
// serialized by an internal mutex.
type LagBuffer struct {
	lag int

	mu     sync.Mutex
	recent [][]float64 // most recent first, at most lag+1 rows
}

func NewLagBuffer(lag int) *LagBuffer {
	if lag < 0 {
		lag = 0
	}
	return &LagBuffer{lag: lag}
}

func (b *LagBuffer) Lag() int {
	return b.lag
}

// Width returns the feature width for a given state width.
func (b *LagBuffer) Width(units int) int {
	return units * (b.lag + 1)
}

// Batch builds the T×units·(lag+1) representation of one trajectory. Block k
// of row t holds the state at max(t-k, 0).
func (b *LagBuffer) Batch(traj *mat.Dense) *mat.Dense {
	steps, units := linalg.Dims(traj)
	if steps == 0 || units == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(steps, b.Width(units), nil)
	for t := 0; t < steps; t++ {
		row := out.RawRowView(t)
		for k := 0; k <= b.lag; k++ {
			src := max(t-k, 0)
			copy(row[k*units:(k+1)*units], traj.RawRowView(src))
		}
	}
	return out
}

// BatchEpisodes stacks the batch representation of every trajectory.
func (b *LagBuffer) BatchEpisodes(trajs []*mat.Dense) *mat.Dense {
	blocks := make([]*mat.Dense, 0, len(trajs))
	for _, traj := range trajs {
		blocks = append(blocks, b.Batch(traj))
	}
	return linalg.VStack(blocks)
}

// Step pushes the newest state and returns the streaming feature row, equal
// to the Batch row of the same timestep. A state of a different width than
// the buffered rows starts a new history.
func (b *LagBuffer) Step(state []float64) []float64 {
	units := len(state)
	if units == 0 {
		panic("repr: empty reservoir state")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.recent) > 0 && len(b.recent[0]) != units {
		b.recent = b.recent[:0]
	}
	b.recent = append(b.recent, nil)
	copy(b.recent[1:], b.recent)
	b.recent[0] = append([]float64(nil), state...)
	if len(b.recent) > b.lag+1 {
		b.recent = b.recent[:b.lag+1]
	}

	oldest := b.recent[len(b.recent)-1]
	out := make([]float64, b.Width(units))
	for k := 0; k <= b.lag; k++ {
		slot := oldest
		if k < len(b.recent) {
			slot = b.recent[k]
		}
		copy(out[k*units:(k+1)*units], slot)
	}
	return out
}

// Reset drops the streaming history.
func (b *LagBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recent = nil
}

// Len reports how many states the streaming buffer currently holds.
func (b *LagBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.recent)
}
