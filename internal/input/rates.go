// Package input maps flight snapshots onto the standardized reservoir input
// vector.
package input

import (
	"math"

	"rcflight/internal/model"
)

// Rates is an angular rate target per axis.
type Rates struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// RateCurve is the "actual rates" stick-to-rate mapping.
type RateCurve struct {
	MaxRate    float64 `json:"max_rate"`
	CenterRate float64 `json:"center_rate"`
	Expo       float64 `json:"expo"`
}

// DefaultRateCurve is fit to the logged flights (rad/s).
func DefaultRateCurve() RateCurve {
	return RateCurve{MaxRate: 11.682, CenterRate: 1.19, Expo: 0}
}

// Rate maps a stick deflection to an angular rate. The magnitude is clamped
// to full deflection.
func (c RateCurve) Rate(stick float64) float64 {
	x := math.Min(math.Abs(stick), 1)
	power := 1 + c.Expo
	rate := x*c.CenterRate + (c.MaxRate-c.CenterRate)*math.Pow(x, 1+power)
	if stick < 0 {
		return -rate
	}
	return rate
}

// Targets returns the rates the pilot is asking for. Roll and pitch stick
// axes are inverted relative to the gyro frame.
func (c RateCurve) Targets(ch model.Channels) Rates {
	return Rates{
		Roll:  -c.Rate(ch.Roll),
		Pitch: -c.Rate(ch.Pitch),
		Yaw:   c.Rate(ch.Yaw),
	}
}
