package controller

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"rcflight/internal/input"
	"rcflight/internal/model"
	"rcflight/internal/reservoir"
	"rcflight/internal/ridge"
)

func testRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// hugeReadout returns a fitted readout whose raw outputs are far outside
// [0, 1] in both directions.
func hugeReadout(t *testing.T, features int) *ridge.Regression {
	t.Helper()
	data := make([]float64, Motors*features)
	for i := range data {
		if i%2 == 0 {
			data[i] = 1e6
		} else {
			data[i] = -1e6
		}
	}
	reg, err := ridge.FromRecord(model.RidgeRecord{
		Fitted:    true,
		Coeff:     model.Matrix{Rows: Motors, Cols: features, Data: data},
		Intercept: []float64{5e5, -5e5, 1e7, -1e7},
	})
	if err != nil {
		t.Fatalf("readout from record: %v", err)
	}
	return reg
}

func testESN(t *testing.T, readout *ridge.Regression) *ESN {
	t.Helper()
	res, err := reservoir.NewEchoState(reservoir.EchoStateConfig{
		Units: 4, Connectivity: 1, SpectralRadius: 0.5, InputScaling: 0.5, InputDim: input.Dim,
	}, testRand(3))
	if err != nil {
		t.Fatalf("new echo state: %v", err)
	}
	c, err := NewESN(ESNConfig{Reservoir: res, Lag: 1, Readout: readout, UseSetpoints: true})
	if err != nil {
		t.Fatalf("new esn controller: %v", err)
	}
	return c
}

func testSpiking(t *testing.T, readout *ridge.Regression) *Spiking {
	t.Helper()
	net, err := reservoir.RandomIzhikevich(8, 0.3, 0.75, testRand(5))
	if err != nil {
		t.Fatalf("random izhikevich: %v", err)
	}
	w := mat.NewDense(8, input.Dim, nil)
	rng := testRand(1337)
	for i := 0; i < 8; i++ {
		for j := 0; j < input.Dim; j++ {
			w.Set(i, j, rng.Float64()*2-1)
		}
	}
	c, err := NewSpiking(SpikingConfig{Reservoir: net, InputWeights: w, Gain: 5, Readout: readout})
	if err != nil {
		t.Fatalf("new spiking controller: %v", err)
	}
	return c
}

func snapshots(n int) []model.FlightSnapshot {
	out := make([]model.FlightSnapshot, n)
	for i := range out {
		f := float64(i)
		out[i] = model.FlightSnapshot{
			Time:     time.Duration(i) * DefaultControlPeriod,
			Gyro:     [3]float64{0.3 * f, -0.2 * f, 0.1},
			Channels: model.Channels{Throttle: 0.5, Roll: 0.1 * f, Pitch: -0.4, Yaw: 0.9},
		}
	}
	return out
}

func assertInUnitRange(t *testing.T, cmd model.MotorCommand) {
	t.Helper()
	for i, v := range cmd {
		if v < 0 || v > 1 {
			t.Fatalf("motor %d out of [0,1]: %f", i, v)
		}
	}
}

func TestESNOutputClamped(t *testing.T) {
	c := FromESN(testESN(t, hugeReadout(t, 4*2+4)))
	c.Init()
	for _, s := range snapshots(20) {
		cmd, err := c.Update(0, s)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		assertInUnitRange(t, cmd)
	}
}

func TestSpikingOutputClamped(t *testing.T) {
	c := FromSpiking(testSpiking(t, hugeReadout(t, 1+8+4)))
	c.Init()
	for _, s := range snapshots(20) {
		cmd, err := c.Update(0, s)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		assertInUnitRange(t, cmd)
	}
}

func TestUnfittedReadoutSurfacesError(t *testing.T) {
	c := FromESN(testESN(t, nil))
	if _, err := c.Update(0, snapshots(1)[0]); !errors.Is(err, ridge.ErrUnfittedModel) {
		t.Fatalf("expected unfitted model error, got %v", err)
	}
}

func TestESNInitResetsState(t *testing.T) {
	c := testESN(t, hugeReadout(t, 12))
	steps := snapshots(5)
	var first []model.MotorCommand
	for _, s := range steps {
		cmd, err := c.Update(0, s)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		first = append(first, cmd)
	}
	c.Init()
	for _, v := range c.State() {
		if v != 0 {
			t.Fatalf("expected zero state after init, got %v", c.State())
		}
	}
	for i, s := range steps {
		cmd, err := c.Update(0, s)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if cmd != first[i] {
			t.Fatalf("step %d after init: got=%v want=%v", i, cmd, first[i])
		}
	}
}

func TestSpikingInitReplaysEpisode(t *testing.T) {
	c := testSpiking(t, hugeReadout(t, 13))
	steps := snapshots(10)
	var traces [][]float64
	for _, s := range steps {
		if _, err := c.Update(0, s); err != nil {
			t.Fatalf("update: %v", err)
		}
		traces = append(traces, c.Trace())
	}
	c.Init()
	for _, v := range c.Trace() {
		if v != 0 {
			t.Fatalf("expected zero trace after init, got %v", c.Trace())
		}
	}
	for i, s := range steps {
		if _, err := c.Update(0, s); err != nil {
			t.Fatalf("update: %v", err)
		}
		got := c.Trace()
		for j := range got {
			if got[j] != traces[i][j] {
				t.Fatalf("step %d trace after init: got=%v want=%v", i, got, traces[i])
			}
		}
	}
}

func TestSpikingFeaturesLayout(t *testing.T) {
	s := model.FlightSnapshot{Channels: model.Channels{Throttle: 0.1, Roll: 0.2, Pitch: 0.3, Yaw: 0.4}}
	got := SpikingFeatures([]float64{7, 8}, s)
	want := []float64{1, 7, 8, 0.1, 0.4, 0.3, 0.2}
	if len(got) != len(want) {
		t.Fatalf("unexpected feature width: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got=%v want=%v", got, want)
		}
	}
}

func TestControllerRecordRoundTrip(t *testing.T) {
	for _, c := range []Controller{
		FromESN(testESN(t, hugeReadout(t, 12))),
		FromSpiking(testSpiking(t, hugeReadout(t, 13))),
	} {
		rec, err := c.Record("ctrl-1")
		if err != nil {
			t.Fatalf("record %s: %v", c.Kind, err)
		}
		if rec.ID != "ctrl-1" || rec.Kind != c.Kind {
			t.Fatalf("unexpected record header: %+v", rec)
		}
		restored, err := FromRecord(rec)
		if err != nil {
			t.Fatalf("from record %s: %v", c.Kind, err)
		}
		if restored.ControlPeriod() != c.ControlPeriod() {
			t.Fatalf("control period: got=%s want=%s", restored.ControlPeriod(), c.ControlPeriod())
		}
		c.Init()
		restored.Init()
		for _, s := range snapshots(5) {
			a, err := c.Update(0, s)
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			b, err := restored.Update(0, s)
			if err != nil {
				t.Fatalf("restored update: %v", err)
			}
			if a != b {
				t.Fatalf("%s: restored output got=%v want=%v", c.Kind, b, a)
			}
		}
	}
	if _, err := FromRecord(model.ControllerRecord{Kind: "pid"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestSeparateInstancesRunConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		c := testESN(t, hugeReadout(t, 12))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, s := range snapshots(50) {
				if _, err := c.Update(0, s); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent update: %v", err)
	}
}
