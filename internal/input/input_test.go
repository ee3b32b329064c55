package input

import (
	"math"
	"testing"

	"rcflight/internal/model"
)

func TestRateCurveEndpoints(t *testing.T) {
	curve := DefaultRateCurve()
	if got := curve.Rate(0); got != 0 {
		t.Fatalf("expected zero rate at center, got=%f", got)
	}
	if got := curve.Rate(1); math.Abs(got-curve.MaxRate) > 1e-12 {
		t.Fatalf("expected max rate at full stick, got=%f want=%f", got, curve.MaxRate)
	}
	if got := curve.Rate(-1); math.Abs(got+curve.MaxRate) > 1e-12 {
		t.Fatalf("expected negative max rate, got=%f", got)
	}
	if got := curve.Rate(3); math.Abs(got-curve.MaxRate) > 1e-12 {
		t.Fatalf("expected clamped stick, got=%f", got)
	}
}

func TestRateCurveHalfStick(t *testing.T) {
	curve := RateCurve{MaxRate: 10, CenterRate: 2, Expo: 0}
	// 0.5*2 + 8*0.5^2
	want := 1.0 + 2.0
	if got := curve.Rate(0.5); math.Abs(got-want) > 1e-12 {
		t.Fatalf("unexpected half stick rate: got=%f want=%f", got, want)
	}
}

func TestTargetsInvertRollAndPitch(t *testing.T) {
	curve := DefaultRateCurve()
	targets := curve.Targets(model.Channels{Roll: 0.5, Pitch: 0.5, Yaw: 0.5})
	r := curve.Rate(0.5)
	if targets.Roll != -r || targets.Pitch != -r || targets.Yaw != r {
		t.Fatalf("unexpected targets: %+v (rate=%f)", targets, r)
	}
}

func TestVectorOrderAndErrors(t *testing.T) {
	s := model.FlightSnapshot{
		Gyro:     [3]float64{1, 2, 3},
		Channels: model.Channels{Throttle: 0.4, Roll: 0.1, Pitch: -0.2, Yaw: 0.3},
	}
	v := FromSnapshot(s).Slice()
	if len(v) != Dim {
		t.Fatalf("unexpected width: got=%d want=%d", len(v), Dim)
	}
	if v[0] != 0.4 {
		t.Fatalf("expected throttle first, got=%f", v[0])
	}
	scale := DefaultRateCurve().MaxRate
	if math.Abs(v[1]-1/scale) > 1e-12 || math.Abs(v[3]-3/scale) > 1e-12 {
		t.Fatalf("unexpected normalized rates: %v", v[1:4])
	}
	for axis := 0; axis < 3; axis++ {
		if math.Abs(v[7+axis]-(v[4+axis]-v[1+axis])) > 1e-12 {
			t.Fatalf("error term %d is not target-rate: %v", axis, v)
		}
	}
}

func TestBatchRows(t *testing.T) {
	snaps := []model.FlightSnapshot{
		{Channels: model.Channels{Throttle: 0.1}},
		{Channels: model.Channels{Throttle: 0.2}},
	}
	b := Batch(snaps)
	r, c := b.Dims()
	if r != 2 || c != Dim {
		t.Fatalf("unexpected batch shape: %dx%d", r, c)
	}
	if b.At(1, 0) != 0.2 {
		t.Fatalf("unexpected throttle in row 1: %f", b.At(1, 0))
	}
	if !Batch(nil).IsEmpty() {
		t.Fatal("expected empty batch for no snapshots")
	}
}
