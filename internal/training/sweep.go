package training

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rcflight/internal/eval"
	"rcflight/internal/model"
	"rcflight/internal/reducer"
)

// DefaultBufferSizes and DefaultPCADims span the standard sweep grid.
var (
	DefaultBufferSizes = []int{1, 2, 4, 8}
	DefaultPCADims     = []int{16, 32, 64, 128}
)

// TrialResult is the outcome of one sweep trial. Err is set instead of the
// score when the trial failed to train or evaluate.
type TrialResult struct {
	Index      int           `json:"index"`
	Parameters ESNParameters `json:"parameters"`
	MeanMSE    float64       `json:"mean_mse"`
	Episodes   int           `json:"episodes"`
	Duration   time.Duration `json:"duration"`
	Err        string        `json:"error,omitempty"`
}

// SweepGrid crosses buffer sizes with PCA widths on top of base. A buffer of
// size b holds the current state and b-1 past states.
func SweepGrid(base ESNParameters, bufferSizes, pcaDims []int) []ESNParameters {
	trials := make([]ESNParameters, 0, len(bufferSizes)*len(pcaDims))
	for _, size := range bufferSizes {
		for _, dims := range pcaDims {
			p := base
			p.Lag = max(size-1, 0)
			p.Reducer = reducer.PCAType(dims)
			trials = append(trials, p)
		}
	}
	return trials
}

// Sweep trains and scores every trial on a bounded worker pool. Training uses
// dataset.Train and scoring dataset.Test. Results come back ranked by mean
// MSE with failed trials last. Cancellation stops the sweep with ctx.Err().
func (t *Trainer) Sweep(ctx context.Context, dataset model.Dataset, trials []ESNParameters, workers int) ([]TrialResult, error) {
	if len(trials) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(trials) {
		workers = len(trials)
	}

	type job struct {
		idx    int
		params ESNParameters
	}
	type result struct {
		idx   int
		trial TrialResult
		err   error
	}

	jobs := make(chan job)
	results := make(chan result, len(trials))

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				trial, err := t.runTrial(ctx, dataset, j.idx, j.params)
				results <- result{idx: j.idx, trial: trial, err: err}
			}
		}()
	}

	for i := range trials {
		jobs <- job{idx: i, params: trials[i]}
	}
	close(jobs)

	wg.Wait()
	close(results)

	ranked := make([]TrialResult, len(trials))
	for res := range results {
		if res.err != nil {
			return nil, res.err
		}
		ranked[res.idx] = res.trial
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if (a.Err == "") != (b.Err == "") {
			return a.Err == ""
		}
		return a.MeanMSE < b.MeanMSE
	})
	return ranked, nil
}

// Sweep runs Trainer.Sweep with the standard logger.
func Sweep(ctx context.Context, dataset model.Dataset, trials []ESNParameters, workers int) ([]TrialResult, error) {
	return NewTrainer(nil).Sweep(ctx, dataset, trials, workers)
}

// runTrial only returns an error when ctx is done; any other failure is
// recorded on the trial.
func (t *Trainer) runTrial(ctx context.Context, dataset model.Dataset, idx int, p ESNParameters) (TrialResult, error) {
	started := time.Now()
	out := TrialResult{Index: idx, Parameters: p}
	log := t.logger.WithFields(logrus.Fields{"trial": idx, "parameters": p.String()})

	c, err := t.TrainESN(ctx, dataset.Train, p)
	if err == nil {
		var res eval.Result
		res, err = eval.OpenLoop(ctx, c, dataset.Test)
		out.MeanMSE = res.MeanMSE
		out.Episodes = len(res.Episodes)
	}
	out.Duration = time.Since(started)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return TrialResult{}, err
		}
		log.WithError(err).Warn("sweep trial failed")
		out.Err = err.Error()
		return out, nil
	}
	log.WithField("mean_mse", out.MeanMSE).Info("sweep trial scored")
	return out, nil
}
