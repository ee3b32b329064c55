package reservoir

import (
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"rcflight/internal/linalg"
	"rcflight/internal/model"
)

const (
	// DefaultDt is the fixed integration step of the spiking reservoir.
	DefaultDt = time.Millisecond

	spikeThreshold = 30.0
	minCurrent     = -100.0
	maxCurrent     = 50.0

	excitatoryMaxWeight = 0.5
	inhibitoryMaxWeight = 1.0
)

// NeuronParams are the four Izhikevich parameters of one neuron.
type NeuronParams struct {
	A, B, C, D float64
}

var (
	RegularSpiking = NeuronParams{A: 0.02, B: 0.2, C: -65, D: 8}
	FastSpiking    = NeuronParams{A: 0.1, B: 0.2, C: -65, D: 2}
)

// Izhikevich is a network of two-variable spiking neurons. connections holds
// postsynaptic rows and presynaptic columns.
type Izhikevich struct {
	a, b, c, d  []float64
	v, u        []float64
	connections *mat.Dense
	dt          time.Duration
}

func NewIzhikevich(a, b, c, d, v, u []float64, connections *mat.Dense) (*Izhikevich, error) {
	n := len(a)
	for name, s := range map[string][]float64{"b": b, "c": c, "d": d, "v": v, "u": u} {
		if len(s) != n {
			return nil, fmt.Errorf("%w: %s has %d neurons, a has %d", ErrInvalidConfig, name, len(s), n)
		}
	}
	if n > 0 {
		r, cols := linalg.Dims(connections)
		if r != n || cols != n {
			return nil, fmt.Errorf("%w: connections %dx%d for %d neurons", ErrInvalidConfig, r, cols, n)
		}
	}
	return &Izhikevich{
		a:           append([]float64(nil), a...),
		b:           append([]float64(nil), b...),
		c:           append([]float64(nil), c...),
		d:           append([]float64(nil), d...),
		v:           append([]float64(nil), v...),
		u:           append([]float64(nil), u...),
		connections: connections,
		dt:          DefaultDt,
	}, nil
}

// SingleNeuron builds an unconnected one-neuron reservoir at rest.
func SingleNeuron(p NeuronParams) *Izhikevich {
	r, _ := NewIzhikevich(
		[]float64{p.A}, []float64{p.B}, []float64{p.C}, []float64{p.D},
		[]float64{-65}, []float64{p.B * -65},
		mat.NewDense(1, 1, nil),
	)
	return r
}

// RandomIzhikevich builds n neurons where the first round(n*excitFrac) are
// regular-spiking excitatory and the rest fast-spiking inhibitory. Each
// directed pair is connected with probability p, excluding self connections.
func RandomIzhikevich(n int, p, excitFrac float64, rng *rand.Rand) (*Izhikevich, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: neuron count must not be negative, got %d", ErrInvalidConfig, n)
	}
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("%w: connection probability must be in [0, 1], got %g", ErrInvalidConfig, p)
	}
	if excitFrac < 0 || excitFrac > 1 {
		return nil, fmt.Errorf("%w: excitatory fraction must be in [0, 1], got %g", ErrInvalidConfig, excitFrac)
	}
	excitatory := int(float64(n)*excitFrac + 0.5)

	a := make([]float64, n)
	b := make([]float64, n)
	c := make([]float64, n)
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		params := FastSpiking
		if i < excitatory {
			params = RegularSpiking
		}
		a[i], b[i], c[i], d[i] = params.A, params.B, params.C, params.D
	}

	noise := distuv.Uniform{Min: -5, Max: 5, Src: rng}
	v := make([]float64, n)
	u := make([]float64, n)
	for i := 0; i < n; i++ {
		v[i] = -65 + noise.Rand()
		u[i] = b[i] * v[i]
	}

	connections := linalg.Zeros(n, n)
	excite := distuv.Uniform{Min: 0, Max: excitatoryMaxWeight, Src: rng}
	inhibit := distuv.Uniform{Min: 0, Max: inhibitoryMaxWeight, Src: rng}
	for pre := 0; pre < n; pre++ {
		for post := 0; post < n; post++ {
			if post == pre {
				continue
			}
			if rng.Float64() >= p {
				continue
			}
			if pre < excitatory {
				connections.Set(post, pre, excite.Rand())
			} else {
				connections.Set(post, pre, -inhibit.Rand())
			}
		}
	}
	return NewIzhikevich(a, b, c, d, v, u, connections)
}

func (r *Izhikevich) Neurons() int {
	return len(r.a)
}

func (r *Izhikevich) Dt() time.Duration {
	return r.dt
}

// Potentials returns a copy of the membrane potentials.
func (r *Izhikevich) Potentials() []float64 {
	return append([]float64(nil), r.v...)
}

// Clone returns an independent copy sharing only the immutable connections.
func (r *Izhikevich) Clone() *Izhikevich {
	out := *r
	out.v = append([]float64(nil), r.v...)
	out.u = append([]float64(nil), r.u...)
	return &out
}

// Diffuse resets every neuron above threshold and adds its outgoing weights
// to input. It returns the augmented input and the firing neuron ids.
func (r *Izhikevich) Diffuse(input []float64) ([]float64, []int) {
	r.checkWidth(input)
	var firings []int
	for i, v := range r.v {
		if v > spikeThreshold {
			firings = append(firings, i)
		}
	}
	for _, j := range firings {
		r.v[j] = r.c[j]
		r.u[j] += r.d[j]
		for i := range input {
			input[i] += r.connections.At(i, j)
		}
	}
	return input, firings
}

// Excite integrates one step: the potential in two half steps, then the
// recovery variable in one full step using the updated potential.
func (r *Izhikevich) Excite(input []float64) {
	r.checkWidth(input)
	dt := float64(r.dt) / float64(time.Millisecond)
	half := 0.5 * dt
	for i := range r.v {
		current := linalg.Clamp(input[i], minCurrent, maxCurrent)
		r.v[i] += half * potentialRate(r.v[i], r.u[i], current)
		r.v[i] += half * potentialRate(r.v[i], r.u[i], current)
		r.u[i] += dt * r.a[i] * (r.b[i]*r.v[i] - r.u[i])
	}
}

func (r *Izhikevich) checkWidth(input []float64) {
	if len(input) != len(r.v) {
		panic(fmt.Sprintf("reservoir: input current width mismatch: got=%d want=%d", len(input), len(r.v)))
	}
}

func potentialRate(v, u, i float64) float64 {
	return 0.04*v*v + 5*v + 140 - u + i
}

// Step runs one micro step with a copy of input and returns the firings.
func (r *Izhikevich) Step(input []float64) []int {
	current, firings := r.Diffuse(append([]float64(nil), input...))
	r.Excite(current)
	return firings
}

func (r *Izhikevich) Record() model.IzhikevichRecord {
	return model.IzhikevichRecord{
		A:           append([]float64(nil), r.a...),
		B:           append([]float64(nil), r.b...),
		C:           append([]float64(nil), r.c...),
		D:           append([]float64(nil), r.d...),
		V:           append([]float64(nil), r.v...),
		U:           append([]float64(nil), r.u...),
		Connections: linalg.ToRecord(r.connections),
		Dt:          r.dt,
	}
}

func IzhikevichFromRecord(rec model.IzhikevichRecord) (*Izhikevich, error) {
	connections, err := linalg.FromRecord(rec.Connections)
	if err != nil {
		return nil, fmt.Errorf("connections: %w", err)
	}
	r, err := NewIzhikevich(rec.A, rec.B, rec.C, rec.D, rec.V, rec.U, connections)
	if err != nil {
		return nil, err
	}
	if rec.Dt > 0 {
		r.dt = rec.Dt
	}
	return r, nil
}
