// Package training fits reservoir controllers to logged flights and runs
// hyperparameter sweeps over them.
package training

import (
	"errors"
	"fmt"
	"time"

	"rcflight/internal/controller"
	"rcflight/internal/reducer"
)

var (
	ErrInvalidParameters = errors.New("invalid training parameters")
	ErrNoEpisodes        = errors.New("no training episodes")
	ErrRaggedEpisodes    = errors.New("training episodes differ in length")
)

// ESNParameters configures TrainESN. Lag is the number of past states
// concatenated to the current one (a buffer of Lag+1 rows).
type ESNParameters struct {
	Units          int           `json:"units"`
	Connectivity   float64       `json:"connectivity"`
	SpectralRadius float64       `json:"spectral_radius"`
	InputScaling   float64       `json:"input_scaling"`
	Lag            int           `json:"lag"`
	Reducer        reducer.Type  `json:"reducer"`
	UseSetpoints   bool          `json:"use_setpoints"`
	Alpha          float64       `json:"alpha"`
	Seed           uint64        `json:"seed"`
	ControlPeriod  time.Duration `json:"control_period"`
}

func DefaultESNParameters() ESNParameters {
	return ESNParameters{
		Units:          200,
		Connectivity:   0.15,
		SpectralRadius: 0.9,
		InputScaling:   0.15,
		Lag:            0,
		Reducer:        reducer.NullType(),
		UseSetpoints:   true,
		Alpha:          1,
		Seed:           1,
		ControlPeriod:  controller.DefaultControlPeriod,
	}
}

func (p ESNParameters) Validate() error {
	switch {
	case p.Units <= 0:
		return fmt.Errorf("%w: units must be positive, got %d", ErrInvalidParameters, p.Units)
	case !(p.Connectivity > 0 && p.Connectivity <= 1):
		return fmt.Errorf("%w: connectivity must be in (0, 1], got %g", ErrInvalidParameters, p.Connectivity)
	case !(p.SpectralRadius > 0):
		return fmt.Errorf("%w: spectral radius must be positive, got %g", ErrInvalidParameters, p.SpectralRadius)
	case p.Lag < 0:
		return fmt.Errorf("%w: lag must be non-negative, got %d", ErrInvalidParameters, p.Lag)
	case p.Alpha < 0:
		return fmt.Errorf("%w: alpha must be non-negative, got %g", ErrInvalidParameters, p.Alpha)
	case p.Reducer.Kind == reducer.KindPCA && p.Reducer.MaxComponents <= 0:
		return fmt.Errorf("%w: pca needs a positive component count, got %d", ErrInvalidParameters, p.Reducer.MaxComponents)
	case p.Reducer.Kind != "" && p.Reducer.Kind != reducer.KindNull && p.Reducer.Kind != reducer.KindPCA:
		return fmt.Errorf("%w: unsupported reducer %q", ErrInvalidParameters, p.Reducer.Kind)
	}
	return nil
}

func (p ESNParameters) String() string {
	return fmt.Sprintf("esn(units=%d conn=%g radius=%g scale=%g lag=%d reducer=%s alpha=%g)",
		p.Units, p.Connectivity, p.SpectralRadius, p.InputScaling, p.Lag, p.Reducer, p.Alpha)
}

// SpikingParameters configures TrainSpiking.
type SpikingParameters struct {
	Neurons            int           `json:"neurons"`
	Connectivity       float64       `json:"connectivity"`
	ExcitatoryFraction float64       `json:"excitatory_fraction"`
	Gain               float64       `json:"gain"`
	Alpha              float64       `json:"alpha"`
	TraceTau           time.Duration `json:"trace_tau"`
	ControlPeriod      time.Duration `json:"control_period"`
	Seed               uint64        `json:"seed"`
	// InputSeed seeds the input projection separately from the network.
	InputSeed uint64 `json:"input_seed"`
}

func DefaultSpikingParameters() SpikingParameters {
	return SpikingParameters{
		Neurons:            512,
		Connectivity:       0.05,
		ExcitatoryFraction: 0.8,
		Gain:               5,
		Alpha:              1,
		TraceTau:           controller.DefaultTraceTau,
		ControlPeriod:      controller.DefaultControlPeriod,
		Seed:               1,
		InputSeed:          1337,
	}
}

func (p SpikingParameters) Validate() error {
	switch {
	case p.Neurons <= 0:
		return fmt.Errorf("%w: neurons must be positive, got %d", ErrInvalidParameters, p.Neurons)
	case !(p.Connectivity > 0 && p.Connectivity <= 1):
		return fmt.Errorf("%w: connectivity must be in (0, 1], got %g", ErrInvalidParameters, p.Connectivity)
	case p.ExcitatoryFraction < 0 || p.ExcitatoryFraction > 1:
		return fmt.Errorf("%w: excitatory fraction must be in [0, 1], got %g", ErrInvalidParameters, p.ExcitatoryFraction)
	case p.Alpha < 0:
		return fmt.Errorf("%w: alpha must be non-negative, got %g", ErrInvalidParameters, p.Alpha)
	case p.TraceTau <= 0:
		return fmt.Errorf("%w: trace tau must be positive, got %s", ErrInvalidParameters, p.TraceTau)
	case p.ControlPeriod <= 0:
		return fmt.Errorf("%w: control period must be positive, got %s", ErrInvalidParameters, p.ControlPeriod)
	}
	return nil
}

func (p SpikingParameters) String() string {
	return fmt.Sprintf("izhikevich(neurons=%d conn=%g excit=%g gain=%g alpha=%g)",
		p.Neurons, p.Connectivity, p.ExcitatoryFraction, p.Gain, p.Alpha)
}
