// Package eval scores trained controllers, either open loop against logged
// flights or closed loop against a simulator.
package eval

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"rcflight/internal/controller"
	"rcflight/internal/model"
)

var ErrNoEpisodes = errors.New("no non-empty episodes to evaluate")

// Result is an open-loop imitation score.
type Result struct {
	MeanMSE  float64              `json:"mean_mse"`
	Episodes []model.EpisodeScore `json:"episodes"`
}

// OpenLoop replays every episode through c after Init and scores the motor
// commands against the logged ones. Each episode's MSE averages over all
// motors and steps; MeanMSE averages over episodes.
func OpenLoop(ctx context.Context, c controller.FlightController, logs []model.FlightLog) (Result, error) {
	var result Result
	for _, l := range logs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if len(l.Steps) == 0 {
			continue
		}
		mse, err := episodeMSE(c, l)
		if err != nil {
			return Result{}, fmt.Errorf("episode %s: %w", l.ID, err)
		}
		result.Episodes = append(result.Episodes, model.EpisodeScore{FlightLogID: l.ID, MSE: mse})
	}
	if len(result.Episodes) == 0 {
		return Result{}, ErrNoEpisodes
	}
	scores := make([]float64, len(result.Episodes))
	for i, e := range result.Episodes {
		scores[i] = e.MSE
	}
	result.MeanMSE = stat.Mean(scores, nil)
	return result, nil
}

func episodeMSE(c controller.FlightController, l model.FlightLog) (float64, error) {
	c.Init()
	var sum float64
	for _, s := range l.Steps {
		cmd, err := c.Update(0, s)
		if err != nil {
			return 0, err
		}
		d := floats.Distance(cmd[:], s.Motors[:], 2)
		sum += d * d
	}
	return sum / float64(len(l.Steps)*len(model.MotorCommand{})), nil
}
