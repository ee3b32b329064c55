package training

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"rcflight/internal/controller"
	"rcflight/internal/input"
	"rcflight/internal/linalg"
	"rcflight/internal/model"
	"rcflight/internal/reducer"
	"rcflight/internal/repr"
	"rcflight/internal/reservoir"
	"rcflight/internal/ridge"
)

// Trainer fits controllers and logs each phase.
type Trainer struct {
	logger logrus.FieldLogger
}

func NewTrainer(logger logrus.FieldLogger) *Trainer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Trainer{logger: logger}
}

// TrainESN fits an echo-state controller with the standard logger.
func TrainESN(ctx context.Context, logs []model.FlightLog, p ESNParameters) (*controller.ESN, error) {
	return NewTrainer(nil).TrainESN(ctx, logs, p)
}

// TrainSpiking fits a spiking controller with the standard logger.
func TrainSpiking(ctx context.Context, logs []model.FlightLog, p SpikingParameters) (*controller.Spiking, error) {
	return NewTrainer(nil).TrainSpiking(ctx, logs, p)
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// MotorTargets stacks the logged motor commands of every step of every log.
func MotorTargets(logs []model.FlightLog) *mat.Dense {
	rows := 0
	for _, l := range logs {
		rows += len(l.Steps)
	}
	if rows == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(rows, controller.Motors, nil)
	row := 0
	for _, l := range logs {
		for _, s := range l.Steps {
			out.SetRow(row, s.Motors[:])
			row++
		}
	}
	return out
}

// StandardInputs returns one batch input matrix per timestep, rows being
// episodes, ready for EchoState.Trajectories. Episodes must share a length.
func StandardInputs(logs []model.FlightLog) ([]*mat.Dense, error) {
	if len(logs) == 0 {
		return nil, ErrNoEpisodes
	}
	steps := len(logs[0].Steps)
	for _, l := range logs {
		if len(l.Steps) != steps {
			return nil, fmt.Errorf("%w: %s has %d steps, %s has %d", ErrRaggedEpisodes, logs[0].ID, steps, l.ID, len(l.Steps))
		}
	}
	if steps == 0 {
		return nil, ErrNoEpisodes
	}
	batches := make([]*mat.Dense, steps)
	for t := range batches {
		batch := mat.NewDense(len(logs), input.Dim, nil)
		for e, l := range logs {
			batch.SetRow(e, input.FromSnapshot(l.Steps[t]).Slice())
		}
		batches[t] = batch
	}
	return batches, nil
}

// TrainESN drives a fresh reservoir over every episode, lag-buffers the
// trajectories, fits the reducer and regresses the logged motor commands.
func (t *Trainer) TrainESN(ctx context.Context, logs []model.FlightLog, p ESNParameters) (*controller.ESN, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	inputs, err := StandardInputs(logs)
	if err != nil {
		return nil, err
	}
	log := t.logger.WithFields(logrus.Fields{
		"controller": controller.KindESN,
		"episodes":   len(logs),
		"steps":      len(inputs),
		"units":      p.Units,
	})
	started := time.Now()

	res, err := reservoir.NewEchoState(reservoir.EchoStateConfig{
		Units:          p.Units,
		Connectivity:   p.Connectivity,
		SpectralRadius: p.SpectralRadius,
		InputScaling:   p.InputScaling,
		InputDim:       input.Dim,
	}, newRand(p.Seed))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trajectories := res.Trajectories(inputs)
	lag := repr.NewLagBuffer(p.Lag)
	features := lag.BatchEpisodes(trajectories)
	log.WithField("features", lag.Width(p.Units)).Debug("reservoir trajectories computed")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	red, err := reducer.New(p.Reducer, features)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	x := red.Transform(features)
	if p.UseSetpoints {
		x = linalg.HStack(x, repr.Setpoints(logs))
	}
	readout, err := ridge.Fit(p.Alpha, x, MotorTargets(logs))
	if err != nil {
		return nil, fmt.Errorf("fit esn readout: %w", err)
	}

	c, err := controller.NewESN(controller.ESNConfig{
		Reservoir:     res,
		Lag:           p.Lag,
		Reducer:       red,
		Readout:       readout,
		UseSetpoints:  p.UseSetpoints,
		ControlPeriod: p.ControlPeriod,
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"reducer":  p.Reducer.String(),
		"readout":  readout.Features(),
		"duration": time.Since(started).String(),
	}).Info("esn controller trained")
	return c, nil
}

// TrainSpiking builds a random network and input projection, runs one
// harness per episode from the initial network state and regresses the
// logged motor commands from the trace features of each logged step.
func (t *Trainer) TrainSpiking(ctx context.Context, logs []model.FlightLog, p SpikingParameters) (*controller.Spiking, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	targets := MotorTargets(logs)
	if targets.IsEmpty() {
		return nil, ErrNoEpisodes
	}
	log := t.logger.WithFields(logrus.Fields{
		"controller": controller.KindSpiking,
		"episodes":   len(logs),
		"neurons":    p.Neurons,
	})
	started := time.Now()

	net, err := reservoir.RandomIzhikevich(p.Neurons, p.Connectivity, p.ExcitatoryFraction, newRand(p.Seed))
	if err != nil {
		return nil, err
	}
	w := InputProjection(p.Neurons, newRand(p.InputSeed))
	decay := reservoir.TraceDecay(net.Dt(), p.TraceTau)

	blocks := make([]*mat.Dense, 0, len(logs))
	var spikes int
	for _, l := range logs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(l.Steps) == 0 {
			continue
		}
		h := reservoir.NewHarness(net.Clone())
		for _, s := range l.Steps {
			current := controller.ProjectInput(w, p.Gain, input.FromSnapshot(s).Slice())
			h.Process(reservoir.Input{Current: current, Duration: p.ControlPeriod})
		}
		traces := h.SpikeTraces(decay)
		block := mat.NewDense(len(l.Steps), 1+p.Neurons+repr.SetpointWidth, nil)
		for i, s := range l.Steps {
			block.SetRow(i, controller.SpikingFeatures(traces.RawRowView(i), s))
		}
		blocks = append(blocks, block)
		spikes += h.Activity().TotalSpikes
	}

	readout, err := ridge.Fit(p.Alpha, linalg.VStack(blocks), targets)
	if err != nil {
		return nil, fmt.Errorf("fit spiking readout: %w", err)
	}
	c, err := controller.NewSpiking(controller.SpikingConfig{
		Reservoir:     net,
		InputWeights:  w,
		Gain:          p.Gain,
		TraceDecay:    decay,
		Readout:       readout,
		ControlPeriod: p.ControlPeriod,
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"spikes":   spikes,
		"duration": time.Since(started).String(),
	}).Info("spiking controller trained")
	return c, nil
}

// InputProjection draws a neurons×input.Dim matrix uniform in [-1, 1].
func InputProjection(neurons int, rng *rand.Rand) *mat.Dense {
	uniform := distuv.Uniform{Min: -1, Max: 1, Src: rng}
	w := mat.NewDense(neurons, input.Dim, nil)
	for i := 0; i < neurons; i++ {
		for j := 0; j < input.Dim; j++ {
			w.Set(i, j, uniform.Rand())
		}
	}
	return w
}
