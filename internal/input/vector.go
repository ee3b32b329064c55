package input

import (
	"gonum.org/v1/gonum/mat"

	"rcflight/internal/linalg"
	"rcflight/internal/model"
)

// Dim is the width of the standardized input vector.
const Dim = 10

// Vector is the standardized reservoir input:
// throttle, then rate, target and error for roll, pitch and yaw.
type Vector struct {
	Throttle    float64
	RollRate    float64
	PitchRate   float64
	YawRate     float64
	RollTarget  float64
	PitchTarget float64
	YawTarget   float64
	RollErr     float64
	PitchErr    float64
	YawErr      float64
}

// FromSnapshot builds the input vector using the default rate curve.
func FromSnapshot(s model.FlightSnapshot) Vector {
	return DefaultRateCurve().Vector(s)
}

func (c RateCurve) Vector(s model.FlightSnapshot) Vector {
	scale := c.MaxRate
	targets := c.Targets(s.Channels)

	v := Vector{
		Throttle:    s.Channels.Throttle,
		RollRate:    s.Gyro[0] / scale,
		PitchRate:   s.Gyro[1] / scale,
		YawRate:     s.Gyro[2] / scale,
		RollTarget:  targets.Roll / scale,
		PitchTarget: targets.Pitch / scale,
		YawTarget:   targets.Yaw / scale,
	}
	v.RollErr = v.RollTarget - v.RollRate
	v.PitchErr = v.PitchTarget - v.PitchRate
	v.YawErr = v.YawTarget - v.YawRate
	return v
}

func (v Vector) Slice() []float64 {
	return []float64{
		v.Throttle,
		v.RollRate,
		v.PitchRate,
		v.YawRate,
		v.RollTarget,
		v.PitchTarget,
		v.YawTarget,
		v.RollErr,
		v.PitchErr,
		v.YawErr,
	}
}

// Row returns the vector as a 1×Dim matrix.
func (v Vector) Row() *mat.Dense {
	return linalg.RowMatrix(v.Slice())
}

// Batch stacks one input row per snapshot.
func Batch(snapshots []model.FlightSnapshot) *mat.Dense {
	if len(snapshots) == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(len(snapshots), Dim, nil)
	for i, s := range snapshots {
		out.SetRow(i, FromSnapshot(s).Slice())
	}
	return out
}
