package eval

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"rcflight/internal/controller"
	"rcflight/internal/model"
)

type constController struct {
	cmd   model.MotorCommand
	inits int
}

func (c *constController) Init() { c.inits++ }

func (c *constController) Update(float64, model.FlightSnapshot) (model.MotorCommand, error) {
	return c.cmd, nil
}

func (c *constController) ControlPeriod() time.Duration { return 10 * time.Millisecond }

// rateSim moves the gyro towards the requested rate by a fixed fraction per
// step, or not at all when frozen.
type rateSim struct {
	gyro   [3]float64
	frozen bool
	c      controller.FlightController
}

func (s *rateSim) Step(_ context.Context, period time.Duration, sticks model.Channels) (model.FlightSnapshot, error) {
	if _, err := s.c.Update(period.Seconds(), model.FlightSnapshot{Gyro: s.gyro, Channels: sticks}); err != nil {
		return model.FlightSnapshot{}, err
	}
	if !s.frozen {
		target := NewCase(sticks).Target
		want := [3]float64{target.Roll, target.Pitch, target.Yaw}
		for i := range s.gyro {
			s.gyro[i] += 0.2 * (want[i] - s.gyro[i])
		}
	}
	return model.FlightSnapshot{Gyro: s.gyro, Channels: sticks}, nil
}

func TestOpenLoopMSE(t *testing.T) {
	c := &constController{cmd: model.MotorCommand{0.5, 0.5, 0.5, 0.5}}
	logs := []model.FlightLog{
		{ID: "a", Steps: []model.FlightSnapshot{
			{Motors: model.MotorCommand{0.5, 0.5, 0.5, 0.5}},
			{Motors: model.MotorCommand{1.5, 0.5, 0.5, 0.5}},
		}},
		{ID: "empty"},
		{ID: "b", Steps: []model.FlightSnapshot{
			{Motors: model.MotorCommand{0, 0, 0, 0}},
		}},
	}
	res, err := OpenLoop(context.Background(), c, logs)
	if err != nil {
		t.Fatalf("open loop: %v", err)
	}
	if len(res.Episodes) != 2 {
		t.Fatalf("expected empty episode to be skipped, got %d scores", len(res.Episodes))
	}
	// a: one unit error over 8 samples; b: 0.25 on every sample.
	if got, want := res.Episodes[0].MSE, 1.0/8; math.Abs(got-want) > 1e-12 {
		t.Fatalf("episode a: got=%f want=%f", got, want)
	}
	if got, want := res.Episodes[1].MSE, 0.25; math.Abs(got-want) > 1e-12 {
		t.Fatalf("episode b: got=%f want=%f", got, want)
	}
	if got, want := res.MeanMSE, (1.0/8+0.25)/2; math.Abs(got-want) > 1e-12 {
		t.Fatalf("mean: got=%f want=%f", got, want)
	}
	if c.inits != 2 {
		t.Fatalf("expected init per scored episode, got %d", c.inits)
	}
}

func TestOpenLoopNoEpisodes(t *testing.T) {
	_, err := OpenLoop(context.Background(), &constController{}, []model.FlightLog{{ID: "empty"}})
	if !errors.Is(err, ErrNoEpisodes) {
		t.Fatalf("expected no episodes error, got %v", err)
	}
}

func TestOpenLoopHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := OpenLoop(ctx, &constController{}, []model.FlightLog{{Steps: make([]model.FlightSnapshot, 1)}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestStabilizeConvergingAndFrozen(t *testing.T) {
	c := &constController{}
	cases := []Case{NewCase(model.Channels{Roll: 0.2}), NewCase(model.Channels{Yaw: -0.1})}

	converging := func(fc controller.FlightController) (Simulator, error) {
		return &rateSim{c: fc}, nil
	}
	res, err := Stabilize(context.Background(), c, converging, cases, DefaultStabilizationConfig())
	if err != nil {
		t.Fatalf("stabilize: %v", err)
	}
	if res.Rate != 1 {
		t.Fatalf("expected every case to stabilize, got rate=%f", res.Rate)
	}
	for _, cr := range res.Cases {
		if cr.Elapsed < time.Second || cr.Elapsed > 2*time.Second {
			t.Fatalf("unexpected elapsed time: %s", cr.Elapsed)
		}
	}

	// A frozen vehicle far from a full-stick target never settles.
	frozen := func(fc controller.FlightController) (Simulator, error) {
		return &rateSim{c: fc, frozen: true}, nil
	}
	res, err = Stabilize(context.Background(), c, frozen, []Case{NewCase(model.Channels{Roll: 1})}, DefaultStabilizationConfig())
	if err != nil {
		t.Fatalf("stabilize: %v", err)
	}
	if res.Rate != 0 || res.Cases[0].Elapsed != 2*time.Second {
		t.Fatalf("expected timeout, got %+v", res.Cases[0])
	}
}

func TestSampleStabilizationCases(t *testing.T) {
	a := SampleStabilizationCases(200, 9)
	b := SampleStabilizationCases(200, 9)
	small := 0
	for i, tc := range a {
		if tc != b[i] {
			t.Fatalf("case %d not reproducible: %+v vs %+v", i, tc, b[i])
		}
		if tc.Sticks.Throttle != 0 {
			t.Fatalf("expected zero throttle, got %f", tc.Sticks.Throttle)
		}
		for _, v := range []float64{tc.Sticks.Roll, tc.Sticks.Pitch, tc.Sticks.Yaw} {
			if v < -1 || v > 1 {
				t.Fatalf("stick out of range: %f", v)
			}
			if math.Abs(v) <= 0.3 {
				small++
			}
		}
	}
	// At least the 70% small draws land in [-0.3, 0.3].
	if frac := float64(small) / 600; frac < 0.65 {
		t.Fatalf("unexpected small deflection fraction: %f", frac)
	}
}

func TestChannelGrid(t *testing.T) {
	grid := ChannelGrid()
	if len(grid) != 125 {
		t.Fatalf("unexpected grid size: got=%d want=125", len(grid))
	}
	seen := map[model.Channels]bool{}
	for _, ch := range grid {
		if ch.Throttle != -1 {
			t.Fatalf("expected idle throttle, got %f", ch.Throttle)
		}
		seen[ch] = true
	}
	if len(seen) != 125 {
		t.Fatalf("expected distinct combinations, got %d", len(seen))
	}
	if len(GridCases()) != 125 {
		t.Fatal("expected one case per grid point")
	}
}
