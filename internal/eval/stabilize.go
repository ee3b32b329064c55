package eval

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"rcflight/internal/controller"
	"rcflight/internal/input"
	"rcflight/internal/linalg"
	"rcflight/internal/model"
)

// Simulator advances a vehicle flown by a controller. Each Step runs the
// controller and physics for period with the given sticks held.
type Simulator interface {
	Step(ctx context.Context, period time.Duration, sticks model.Channels) (model.FlightSnapshot, error)
}

// SimulatorFactory builds a fresh simulator around a controller.
type SimulatorFactory func(c controller.FlightController) (Simulator, error)

// Case is one stabilization trial: sticks held for the whole trial and the
// angular rates they ask for.
type Case struct {
	Sticks model.Channels `json:"sticks"`
	Target input.Rates    `json:"target"`
}

func NewCase(sticks model.Channels) Case {
	return Case{Sticks: sticks, Target: input.DefaultRateCurve().Targets(sticks)}
}

type StabilizationConfig struct {
	// Window is how many consecutive gyro samples must be on target.
	Window    int
	Tolerance float64
	MaxTime   time.Duration
}

func DefaultStabilizationConfig() StabilizationConfig {
	return StabilizationConfig{Window: 100, Tolerance: 2.0, MaxTime: 2 * time.Second}
}

type CaseResult struct {
	Case       Case          `json:"case"`
	Stabilized bool          `json:"stabilized"`
	Elapsed    time.Duration `json:"elapsed"`
}

type StabilizationResult struct {
	Rate  float64      `json:"rate"`
	Cases []CaseResult `json:"cases"`
}

// Stabilize flies every case on a fresh simulator and reports the fraction
// that settled on the target rates before MaxTime.
func Stabilize(ctx context.Context, c controller.FlightController, newSim SimulatorFactory, cases []Case, cfg StabilizationConfig) (StabilizationResult, error) {
	if cfg.Window <= 0 || cfg.MaxTime <= 0 {
		return StabilizationResult{}, fmt.Errorf("invalid stabilization config: window=%d max_time=%s", cfg.Window, cfg.MaxTime)
	}
	if len(cases) == 0 {
		return StabilizationResult{}, fmt.Errorf("no stabilization cases")
	}
	var result StabilizationResult
	stabilized := 0
	for i, tc := range cases {
		sim, err := newSim(c)
		if err != nil {
			return StabilizationResult{}, fmt.Errorf("case %d simulator: %w", i, err)
		}
		res, err := flyCase(ctx, c, sim, tc, cfg)
		if err != nil {
			return StabilizationResult{}, fmt.Errorf("case %d: %w", i, err)
		}
		if res.Stabilized {
			stabilized++
		}
		result.Cases = append(result.Cases, res)
	}
	result.Rate = float64(stabilized) / float64(len(cases))
	return result, nil
}

func flyCase(ctx context.Context, c controller.FlightController, sim Simulator, tc Case, cfg StabilizationConfig) (CaseResult, error) {
	c.Init()
	period := c.ControlPeriod()
	if period <= 0 {
		period = controller.DefaultControlPeriod
	}
	target := [3]float64{tc.Target.Roll, tc.Target.Pitch, tc.Target.Yaw}

	// onTarget counts the trailing run of samples within tolerance, which is
	// the same as checking the last Window samples.
	onTarget := 0
	var elapsed time.Duration
	for elapsed < cfg.MaxTime {
		if err := ctx.Err(); err != nil {
			return CaseResult{}, err
		}
		snap, err := sim.Step(ctx, period, tc.Sticks)
		if err != nil {
			return CaseResult{}, err
		}
		elapsed += period
		if withinTolerance(snap.Gyro, target, cfg.Tolerance) {
			onTarget++
		} else {
			onTarget = 0
		}
		if onTarget >= cfg.Window {
			return CaseResult{Case: tc, Stabilized: true, Elapsed: elapsed}, nil
		}
	}
	return CaseResult{Case: tc, Elapsed: elapsed}, nil
}

func withinTolerance(gyro, target [3]float64, tol float64) bool {
	for i := range gyro {
		if math.Abs(gyro[i]-target[i]) > tol {
			return false
		}
	}
	return true
}

// SampleStabilizationCases draws n cases with zero throttle. Each axis is a
// small deflection in [-0.3, 0.3] with probability 0.7 and a full-range one
// otherwise.
func SampleStabilizationCases(n int, seed uint64) []Case {
	rng := rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d))
	small := distuv.Uniform{Min: -0.3, Max: 0.3, Src: rng}
	full := distuv.Uniform{Min: -1, Max: 1, Src: rng}
	coin := distuv.Bernoulli{P: 0.7, Src: rng}
	axis := func() float64 {
		if coin.Rand() == 1 {
			return small.Rand()
		}
		return full.Rand()
	}

	cases := make([]Case, 0, n)
	for i := 0; i < n; i++ {
		sticks := model.Channels{Throttle: 0}
		sticks.Yaw = axis()
		sticks.Pitch = axis()
		sticks.Roll = axis()
		cases = append(cases, NewCase(sticks))
	}
	return cases
}

// ChannelGrid returns every combination of five evenly spaced deflections on
// yaw, pitch and roll with the throttle at idle.
func ChannelGrid() []model.Channels {
	levels, _ := linalg.Linspace(-1, 1, 5)
	grid := make([]model.Channels, 0, len(levels)*len(levels)*len(levels))
	for _, yaw := range levels {
		for _, pitch := range levels {
			for _, roll := range levels {
				grid = append(grid, model.Channels{Throttle: -1, Yaw: yaw, Pitch: pitch, Roll: roll})
			}
		}
	}
	return grid
}

// GridCases wraps ChannelGrid as stabilization cases.
func GridCases() []Case {
	grid := ChannelGrid()
	cases := make([]Case, len(grid))
	for i, ch := range grid {
		cases[i] = NewCase(ch)
	}
	return cases
}
