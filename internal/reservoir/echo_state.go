// Package reservoir implements the two fixed random recurrent networks used as
// feature extractors: a continuous echo-state network and a spiking
// Izhikevich network.
package reservoir

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"rcflight/internal/linalg"
	"rcflight/internal/model"
)

var (
	ErrInvalidConfig     = errors.New("invalid reservoir config")
	ErrDegenerateWeights = errors.New("reservoir weights have zero spectral radius")
)

// maxWeightDraws bounds how often a nilpotent internal matrix is redrawn.
const maxWeightDraws = 16

type EchoStateConfig struct {
	Units          int     `json:"units"`
	Connectivity   float64 `json:"connectivity"`
	SpectralRadius float64 `json:"spectral_radius"`
	InputScaling   float64 `json:"input_scaling"`
	InputDim       int     `json:"input_dim"`
}

func (c EchoStateConfig) Validate() error {
	if c.Units <= 0 {
		return fmt.Errorf("%w: units must be positive, got %d", ErrInvalidConfig, c.Units)
	}
	if c.InputDim <= 0 {
		return fmt.Errorf("%w: input dim must be positive, got %d", ErrInvalidConfig, c.InputDim)
	}
	if !(c.Connectivity > 0 && c.Connectivity <= 1) {
		return fmt.Errorf("%w: connectivity must be in (0, 1], got %g", ErrInvalidConfig, c.Connectivity)
	}
	if !(c.SpectralRadius > 0) {
		return fmt.Errorf("%w: spectral radius must be positive, got %g", ErrInvalidConfig, c.SpectralRadius)
	}
	return nil
}

// EchoState is a classical tanh echo-state network. Weights are immutable
// after construction, so one instance may be shared across goroutines.
type EchoState struct {
	units        int
	inputScaling float64
	internal     *mat.Dense
	input        *mat.Dense
}

func NewEchoState(cfg EchoStateConfig, rng *rand.Rand) (*EchoState, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	internal, err := internalWeights(cfg.Units, cfg.Connectivity, cfg.SpectralRadius, rng)
	if err != nil {
		return nil, err
	}
	return &EchoState{
		units:        cfg.Units,
		inputScaling: cfg.InputScaling,
		internal:     internal,
		input:        inputWeights(cfg.Units, cfg.InputDim, cfg.InputScaling, rng),
	}, nil
}

func internalWeights(units int, connectivity, radius float64, rng *rand.Rand) (*mat.Dense, error) {
	mask := distuv.Bernoulli{P: connectivity, Src: rng}
	uniform := distuv.Uniform{Min: -0.5, Max: 0.5, Src: rng}

	for draw := 0; draw < maxWeightDraws; draw++ {
		w := mat.NewDense(units, units, nil)
		for i := 0; i < units; i++ {
			for j := 0; j < units; j++ {
				if mask.Rand() == 1 {
					w.Set(i, j, uniform.Rand())
				}
			}
		}

		maxEig, err := SpectralRadius(w)
		if err != nil {
			return nil, err
		}
		if maxEig == 0 {
			continue
		}
		w.Scale(radius/maxEig, w)
		return w, nil
	}
	return nil, fmt.Errorf("%w after %d draws (units=%d connectivity=%g)", ErrDegenerateWeights, maxWeightDraws, units, connectivity)
}

func inputWeights(units, dim int, scaling float64, rng *rand.Rand) *mat.Dense {
	coin := distuv.Bernoulli{P: 0.5, Src: rng}
	w := mat.NewDense(units, dim, nil)
	for i := 0; i < units; i++ {
		for j := 0; j < dim; j++ {
			if coin.Rand() == 1 {
				w.Set(i, j, scaling)
			} else {
				w.Set(i, j, -scaling)
			}
		}
	}
	return w
}

// SpectralRadius returns the largest eigenvalue magnitude of a square matrix.
func SpectralRadius(m mat.Matrix) (float64, error) {
	var eig mat.Eigen
	if ok := eig.Factorize(m, mat.EigenNone); !ok {
		return 0, errors.New("eigen decomposition did not converge")
	}
	radius := 0.0
	for _, v := range eig.Values(nil) {
		radius = math.Max(radius, cmplx.Abs(v))
	}
	return radius, nil
}

func (e *EchoState) Units() int {
	return e.units
}

func (e *EchoState) InputDim() int {
	_, c := e.input.Dims()
	return c
}

// InternalWeights returns a copy of the recurrent weight matrix.
func (e *EchoState) InternalWeights() *mat.Dense {
	return mat.DenseCopyOf(e.internal)
}

// InputWeights returns a copy of the input projection.
func (e *EchoState) InputWeights() *mat.Dense {
	return mat.DenseCopyOf(e.input)
}

// Integrate computes tanh(W·prevᵀ + Win·inputᵀ)ᵀ for a batch of rows. It
// panics when the batch sizes or widths do not match.
func (e *EchoState) Integrate(input, prev *mat.Dense) *mat.Dense {
	ir, ic := linalg.Dims(input)
	pr, pc := linalg.Dims(prev)
	if ir != pr {
		panic(fmt.Sprintf("reservoir: batch size mismatch: input=%d state=%d", ir, pr))
	}
	if pc != e.units {
		panic(fmt.Sprintf("reservoir: state width mismatch: got=%d want=%d", pc, e.units))
	}
	if ic != e.InputDim() {
		panic(fmt.Sprintf("reservoir: input width mismatch: got=%d want=%d", ic, e.InputDim()))
	}

	var recurrent, driven mat.Dense
	recurrent.Mul(prev, e.internal.T())
	driven.Mul(input, e.input.T())
	recurrent.Add(&recurrent, &driven)
	recurrent.Apply(func(_, _ int, v float64) float64 { return math.Tanh(v) }, &recurrent)
	return &recurrent
}

// Advance replaces state with the next state in place.
func (e *EchoState) Advance(input, state *mat.Dense) {
	next := e.Integrate(input, state)
	state.Copy(next)
}

// Trajectories drives the reservoir from a zero state with one batch input
// matrix per timestep (rows are episodes) and returns one T×units state
// matrix per episode.
func (e *EchoState) Trajectories(inputs []*mat.Dense) []*mat.Dense {
	if len(inputs) == 0 {
		return nil
	}
	episodes, _ := linalg.Dims(inputs[0])
	if episodes == 0 {
		return nil
	}
	steps := len(inputs)

	states := make([]*mat.Dense, episodes)
	for ep := range states {
		states[ep] = mat.NewDense(steps, e.units, nil)
	}
	state := mat.NewDense(episodes, e.units, nil)
	for t, batch := range inputs {
		state = e.Integrate(batch, state)
		for ep := range states {
			states[ep].SetRow(t, state.RawRowView(ep))
		}
	}
	return states
}

func (e *EchoState) Record() model.EchoStateRecord {
	return model.EchoStateRecord{
		Units:        e.units,
		InputScaling: e.inputScaling,
		Internal:     linalg.ToRecord(e.internal),
		Input:        linalg.ToRecord(e.input),
	}
}

func EchoStateFromRecord(rec model.EchoStateRecord) (*EchoState, error) {
	internal, err := linalg.FromRecord(rec.Internal)
	if err != nil {
		return nil, fmt.Errorf("internal weights: %w", err)
	}
	input, err := linalg.FromRecord(rec.Input)
	if err != nil {
		return nil, fmt.Errorf("input weights: %w", err)
	}
	if r, c := linalg.Dims(internal); r != rec.Units || c != rec.Units {
		return nil, fmt.Errorf("%w: internal weights %dx%d for %d units", ErrInvalidConfig, r, c, rec.Units)
	}
	if r, _ := linalg.Dims(input); r != rec.Units {
		return nil, fmt.Errorf("%w: input weights have %d rows for %d units", ErrInvalidConfig, r, rec.Units)
	}
	return &EchoState{
		units:        rec.Units,
		inputScaling: rec.InputScaling,
		internal:     internal,
		input:        input,
	}, nil
}
