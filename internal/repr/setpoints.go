package repr

import (
	"gonum.org/v1/gonum/mat"

	"rcflight/internal/model"
)

// SetpointWidth is the number of raw stick features.
const SetpointWidth = 4

// SetpointRow returns the raw stick features of one snapshot in the order
// throttle, yaw, pitch, roll.
func SetpointRow(s model.FlightSnapshot) []float64 {
	return []float64{s.Channels.Throttle, s.Channels.Yaw, s.Channels.Pitch, s.Channels.Roll}
}

// Setpoints stacks the setpoint rows of every step of every log.
func Setpoints(logs []model.FlightLog) *mat.Dense {
	rows := 0
	for _, l := range logs {
		rows += len(l.Steps)
	}
	if rows == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(rows, SetpointWidth, nil)
	row := 0
	for _, l := range logs {
		for _, s := range l.Steps {
			out.SetRow(row, SetpointRow(s))
			row++
		}
	}
	return out
}
