package controller

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"rcflight/internal/input"
	"rcflight/internal/model"
	"rcflight/internal/reducer"
	"rcflight/internal/repr"
	"rcflight/internal/reservoir"
	"rcflight/internal/ridge"
)

// ESN is the non-adapting echo-state controller.
type ESN struct {
	reservoir    *reservoir.EchoState
	reducer      reducer.Reducer
	readout      *ridge.Regression
	useSetpoints bool
	period       time.Duration

	mu    sync.Mutex
	lag   *repr.LagBuffer
	state *mat.Dense // 1×units
}

type ESNConfig struct {
	Reservoir     *reservoir.EchoState
	Lag           int
	Reducer       reducer.Reducer
	Readout       *ridge.Regression
	UseSetpoints  bool
	ControlPeriod time.Duration
}

func NewESN(cfg ESNConfig) (*ESN, error) {
	if cfg.Reservoir == nil {
		return nil, fmt.Errorf("esn controller requires a reservoir")
	}
	if cfg.Reservoir.InputDim() != input.Dim {
		return nil, fmt.Errorf("esn reservoir input dim %d, want %d", cfg.Reservoir.InputDim(), input.Dim)
	}
	if cfg.Readout == nil {
		cfg.Readout = &ridge.Regression{}
	}
	if cfg.Reducer.Kind == "" {
		cfg.Reducer = reducer.Null()
	}
	if cfg.ControlPeriod <= 0 {
		cfg.ControlPeriod = DefaultControlPeriod
	}
	c := &ESN{
		reservoir:    cfg.Reservoir,
		reducer:      cfg.Reducer,
		readout:      cfg.Readout,
		useSetpoints: cfg.UseSetpoints,
		period:       cfg.ControlPeriod,
		lag:          repr.NewLagBuffer(cfg.Lag),
	}
	c.Init()
	return c, nil
}

// Init clears the lag buffer and zeros the reservoir state.
func (c *ESN) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lag.Reset()
	c.state = mat.NewDense(1, c.reservoir.Units(), nil)
}

func (c *ESN) Update(_ float64, s model.FlightSnapshot) (model.MotorCommand, error) {
	x := input.FromSnapshot(s).Row()

	c.mu.Lock()
	c.reservoir.Advance(x, c.state)
	row := c.lag.Step(c.state.RawRowView(0))
	c.mu.Unlock()

	features := c.reducer.TransformRow(row)
	if c.useSetpoints {
		features = append(features, repr.SetpointRow(s)...)
	}
	out, err := c.readout.PredictRow(features)
	if err != nil {
		return model.MotorCommand{}, err
	}
	return clampCommand(out)
}

func (c *ESN) ControlPeriod() time.Duration {
	return c.period
}

// State returns a copy of the current reservoir state row.
func (c *ESN) State() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return mat.Row(nil, 0, c.state)
}

func (c *ESN) Record() model.ESNControllerRecord {
	return model.ESNControllerRecord{
		Reservoir:     c.reservoir.Record(),
		Lag:           c.lag.Lag(),
		Reducer:       c.reducer.Record(),
		Readout:       c.readout.Record(),
		UseSetpoints:  c.useSetpoints,
		ControlPeriod: c.period,
	}
}

func ESNFromRecord(rec model.ESNControllerRecord) (*ESN, error) {
	res, err := reservoir.EchoStateFromRecord(rec.Reservoir)
	if err != nil {
		return nil, fmt.Errorf("esn reservoir: %w", err)
	}
	red, err := reducer.FromRecord(rec.Reducer)
	if err != nil {
		return nil, fmt.Errorf("esn reducer: %w", err)
	}
	readout, err := ridge.FromRecord(rec.Readout)
	if err != nil {
		return nil, fmt.Errorf("esn readout: %w", err)
	}
	return NewESN(ESNConfig{
		Reservoir:     res,
		Lag:           rec.Lag,
		Reducer:       red,
		Readout:       readout,
		UseSetpoints:  rec.UseSetpoints,
		ControlPeriod: rec.ControlPeriod,
	})
}
