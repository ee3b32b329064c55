package controller

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"rcflight/internal/input"
	"rcflight/internal/linalg"
	"rcflight/internal/model"
	"rcflight/internal/repr"
	"rcflight/internal/reservoir"
	"rcflight/internal/ridge"
)

// DefaultTraceTau is the spike trace time constant.
const DefaultTraceTau = 20 * time.Millisecond

// Spiking drives an Izhikevich reservoir for one control period per update
// and regresses motor commands from its spike trace.
//
// Init restores the reservoir to the state every training episode started
// from and zeros the trace, so replaying an episode after Init reproduces the
// training features.
type Spiking struct {
	initial      *reservoir.Izhikevich
	inputWeights *mat.Dense // neurons×input.Dim
	gain         float64
	decay        float64
	readout      *ridge.Regression
	period       time.Duration

	mu    sync.Mutex
	net   *reservoir.Izhikevich
	trace []float64
}

type SpikingConfig struct {
	// Reservoir is copied; the controller never mutates it.
	Reservoir     *reservoir.Izhikevich
	InputWeights  *mat.Dense
	Gain          float64
	TraceDecay    float64
	Readout       *ridge.Regression
	ControlPeriod time.Duration
}

func NewSpiking(cfg SpikingConfig) (*Spiking, error) {
	if cfg.Reservoir == nil {
		return nil, fmt.Errorf("spiking controller requires a reservoir")
	}
	if r, c := linalg.Dims(cfg.InputWeights); r != cfg.Reservoir.Neurons() || c != input.Dim {
		return nil, fmt.Errorf("spiking input weights %dx%d, want %dx%d", r, c, cfg.Reservoir.Neurons(), input.Dim)
	}
	if cfg.Readout == nil {
		cfg.Readout = &ridge.Regression{}
	}
	if cfg.ControlPeriod <= 0 {
		cfg.ControlPeriod = DefaultControlPeriod
	}
	if cfg.TraceDecay <= 0 {
		cfg.TraceDecay = reservoir.TraceDecay(cfg.Reservoir.Dt(), DefaultTraceTau)
	}
	c := &Spiking{
		initial:      cfg.Reservoir.Clone(),
		inputWeights: mat.DenseCopyOf(cfg.InputWeights),
		gain:         cfg.Gain,
		decay:        cfg.TraceDecay,
		readout:      cfg.Readout,
		period:       cfg.ControlPeriod,
	}
	c.Init()
	return c, nil
}

func (c *Spiking) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.net = c.initial.Clone()
	c.trace = make([]float64, c.initial.Neurons())
}

func (c *Spiking) Update(_ float64, s model.FlightSnapshot) (model.MotorCommand, error) {
	current := ProjectInput(c.inputWeights, c.gain, input.FromSnapshot(s).Slice())

	c.mu.Lock()
	h := reservoir.NewHarness(c.net)
	h.Process(reservoir.Input{Current: current, Duration: c.period})
	h.Replay(c.trace, c.decay)
	features := SpikingFeatures(c.trace, s)
	c.mu.Unlock()

	out, err := c.readout.PredictRow(features)
	if err != nil {
		return model.MotorCommand{}, err
	}
	return clampCommand(out)
}

func (c *Spiking) ControlPeriod() time.Duration {
	return c.period
}

// Trace returns a copy of the current spike trace.
func (c *Spiking) Trace() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.trace...)
}

// ProjectInput returns gain·W·x, one current per neuron.
func ProjectInput(w *mat.Dense, gain float64, x []float64) []float64 {
	var out mat.VecDense
	out.MulVec(w, mat.NewVecDense(len(x), x))
	out.ScaleVec(gain, &out)
	return out.RawVector().Data
}

// SpikingFeatures builds the readout row [1, trace..., throttle, yaw, pitch,
// roll].
func SpikingFeatures(trace []float64, s model.FlightSnapshot) []float64 {
	row := make([]float64, 0, 1+len(trace)+repr.SetpointWidth)
	row = append(row, 1)
	row = append(row, trace...)
	return append(row, repr.SetpointRow(s)...)
}

func (c *Spiking) Record() model.SpikingControllerRecord {
	return model.SpikingControllerRecord{
		Reservoir:     c.initial.Record(),
		TraceDecay:    c.decay,
		InputWeights:  linalg.ToRecord(c.inputWeights),
		Gain:          c.gain,
		Readout:       c.readout.Record(),
		ControlPeriod: c.period,
	}
}

func SpikingFromRecord(rec model.SpikingControllerRecord) (*Spiking, error) {
	net, err := reservoir.IzhikevichFromRecord(rec.Reservoir)
	if err != nil {
		return nil, fmt.Errorf("spiking reservoir: %w", err)
	}
	w, err := linalg.FromRecord(rec.InputWeights)
	if err != nil {
		return nil, fmt.Errorf("spiking input weights: %w", err)
	}
	readout, err := ridge.FromRecord(rec.Readout)
	if err != nil {
		return nil, fmt.Errorf("spiking readout: %w", err)
	}
	return NewSpiking(SpikingConfig{
		Reservoir:     net,
		InputWeights:  w,
		Gain:          rec.Gain,
		TraceDecay:    rec.TraceDecay,
		Readout:       readout,
		ControlPeriod: rec.ControlPeriod,
	})
}
