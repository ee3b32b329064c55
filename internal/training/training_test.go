package training

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"rcflight/internal/controller"
	"rcflight/internal/eval"
	"rcflight/internal/model"
	"rcflight/internal/reducer"
)

func quietTrainer() *Trainer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewTrainer(logger)
}

// syntheticLog flies a smooth stick pattern where every motor responds
// linearly to throttle and roll.
func syntheticLog(id string, steps int, phase float64) model.FlightLog {
	l := model.FlightLog{ID: id}
	for i := 0; i < steps; i++ {
		x := phase + 0.1*float64(i)
		ch := model.Channels{
			Throttle: 0.5 + 0.3*math.Sin(x),
			Roll:     0.2 * math.Cos(x),
			Pitch:    0.1 * math.Sin(2*x),
			Yaw:      0.05,
		}
		m := 0.5 + 0.05*ch.Throttle
		l.Steps = append(l.Steps, model.FlightSnapshot{
			Time:     time.Duration(i) * controller.DefaultControlPeriod,
			Gyro:     [3]float64{0.5 * ch.Roll, 0.2 * ch.Pitch, 0},
			Channels: ch,
			Motors:   model.MotorCommand{m + 0.01*ch.Roll, m - 0.01*ch.Roll, m, m},
		})
	}
	return l
}

// meanPredictorMSE is the open-loop MSE of always predicting the column means
// of the logged motor commands.
func meanPredictorMSE(logs []model.FlightLog) float64 {
	var mean [4]float64
	n := 0
	for _, l := range logs {
		for _, s := range l.Steps {
			for i, v := range s.Motors {
				mean[i] += v
			}
			n++
		}
	}
	for i := range mean {
		mean[i] /= float64(n)
	}
	var sum float64
	for _, l := range logs {
		for _, s := range l.Steps {
			for i, v := range s.Motors {
				sum += (v - mean[i]) * (v - mean[i])
			}
		}
	}
	return sum / float64(4*n)
}

func smallESNParameters() ESNParameters {
	p := DefaultESNParameters()
	p.Units = 4
	p.Connectivity = 1
	p.SpectralRadius = 0.5
	p.Lag = 1
	p.Reducer = reducer.NullType()
	p.Alpha = 1e-3
	return p
}

func TestTrainESNEndToEnd(t *testing.T) {
	train := []model.FlightLog{syntheticLog("train-a", 5, 0), syntheticLog("train-b", 5, 0.7)}
	test := []model.FlightLog{syntheticLog("test-a", 5, 0.35)}

	c, err := quietTrainer().TrainESN(context.Background(), train, smallESNParameters())
	if err != nil {
		t.Fatalf("train esn: %v", err)
	}
	res, err := eval.OpenLoop(context.Background(), c, test)
	if err != nil {
		t.Fatalf("open loop: %v", err)
	}
	if res.MeanMSE > 1e-3 {
		t.Fatalf("held-out mse too high: got=%g want<=%g", res.MeanMSE, 1e-3)
	}
}

func TestTrainESNStreamingMatchesTrainingFit(t *testing.T) {
	train := []model.FlightLog{syntheticLog("a", 12, 0), syntheticLog("b", 12, 1.3)}
	p := smallESNParameters()
	p.Units = 10
	p.Connectivity = 0.5
	p.Lag = 2
	p.Reducer = reducer.PCAType(6)

	c, err := quietTrainer().TrainESN(context.Background(), train, p)
	if err != nil {
		t.Fatalf("train esn: %v", err)
	}
	res, err := eval.OpenLoop(context.Background(), c, train)
	if err != nil {
		t.Fatalf("open loop: %v", err)
	}
	// The in-sample ridge fit can never be worse than the mean predictor if
	// the streaming features reproduce the batch features.
	if baseline := meanPredictorMSE(train); res.MeanMSE > baseline+1e-12 {
		t.Fatalf("in-sample mse above mean predictor: got=%g baseline=%g", res.MeanMSE, baseline)
	}
}

func TestTrainESNSeedReproducible(t *testing.T) {
	train := []model.FlightLog{syntheticLog("a", 6, 0), syntheticLog("b", 6, 1)}
	p := smallESNParameters()
	p.Seed = 42
	a, err := quietTrainer().TrainESN(context.Background(), train, p)
	if err != nil {
		t.Fatalf("train a: %v", err)
	}
	b, err := quietTrainer().TrainESN(context.Background(), train, p)
	if err != nil {
		t.Fatalf("train b: %v", err)
	}
	for _, s := range train[0].Steps {
		ca, _ := a.Update(0, s)
		cb, _ := b.Update(0, s)
		if ca != cb {
			t.Fatalf("same seed produced different commands: %v vs %v", ca, cb)
		}
	}
}

func TestTrainESNRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	tr := quietTrainer()

	p := smallESNParameters()
	p.Connectivity = 1.5
	if _, err := tr.TrainESN(ctx, []model.FlightLog{syntheticLog("a", 3, 0)}, p); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
	ragged := []model.FlightLog{syntheticLog("a", 3, 0), syntheticLog("b", 4, 0)}
	if _, err := tr.TrainESN(ctx, ragged, smallESNParameters()); !errors.Is(err, ErrRaggedEpisodes) {
		t.Fatalf("expected ragged episodes error, got %v", err)
	}
	if _, err := tr.TrainESN(ctx, nil, smallESNParameters()); !errors.Is(err, ErrNoEpisodes) {
		t.Fatalf("expected no episodes error, got %v", err)
	}
}

func TestTrainSpikingFitsTrainingData(t *testing.T) {
	train := []model.FlightLog{syntheticLog("a", 8, 0), syntheticLog("b", 8, 0.5)}
	p := DefaultSpikingParameters()
	p.Neurons = 24
	p.Connectivity = 0.2

	c, err := quietTrainer().TrainSpiking(context.Background(), train, p)
	if err != nil {
		t.Fatalf("train spiking: %v", err)
	}
	if c.ControlPeriod() != controller.DefaultControlPeriod {
		t.Fatalf("unexpected control period: %s", c.ControlPeriod())
	}
	res, err := eval.OpenLoop(context.Background(), c, train)
	if err != nil {
		t.Fatalf("open loop: %v", err)
	}
	if baseline := meanPredictorMSE(train); res.MeanMSE > baseline+1e-12 {
		t.Fatalf("in-sample mse above mean predictor: got=%g baseline=%g", res.MeanMSE, baseline)
	}
}

func TestTrainSpikingRejectsInvalidParameters(t *testing.T) {
	p := DefaultSpikingParameters()
	p.TraceTau = 0
	if _, err := quietTrainer().TrainSpiking(context.Background(), []model.FlightLog{syntheticLog("a", 2, 0)}, p); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected invalid parameters, got %v", err)
	}
}

func TestMotorTargetsStacksEpisodes(t *testing.T) {
	logs := []model.FlightLog{syntheticLog("a", 3, 0), syntheticLog("b", 2, 0)}
	y := MotorTargets(logs)
	if r, c := y.Dims(); r != 5 || c != 4 {
		t.Fatalf("unexpected target shape: %dx%d", r, c)
	}
	if y.At(3, 2) != logs[1].Steps[0].Motors[2] {
		t.Fatal("expected second episode to follow the first")
	}
}

func TestSweepGrid(t *testing.T) {
	trials := SweepGrid(DefaultESNParameters(), DefaultBufferSizes, DefaultPCADims)
	if len(trials) != 16 {
		t.Fatalf("unexpected trial count: got=%d want=16", len(trials))
	}
	if trials[0].Lag != 0 || trials[len(trials)-1].Lag != 7 {
		t.Fatalf("unexpected lags: first=%d last=%d", trials[0].Lag, trials[len(trials)-1].Lag)
	}
	if trials[1].Reducer != reducer.PCAType(32) {
		t.Fatalf("unexpected reducer: %+v", trials[1].Reducer)
	}
}

func TestSweepRanksTrials(t *testing.T) {
	dataset := model.Dataset{
		Train: []model.FlightLog{syntheticLog("a", 10, 0), syntheticLog("b", 10, 0.9)},
		Test:  []model.FlightLog{syntheticLog("c", 10, 0.4)},
	}
	base := smallESNParameters()
	base.Units = 8
	trials := SweepGrid(base, []int{1, 2}, []int{2, 4})
	bad := base
	bad.Connectivity = 0
	trials = append(trials, bad)

	results, err := quietTrainer().Sweep(context.Background(), dataset, trials, 3)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(results) != len(trials) {
		t.Fatalf("unexpected result count: got=%d want=%d", len(results), len(trials))
	}
	last := results[len(results)-1]
	if last.Err == "" || last.Index != len(trials)-1 {
		t.Fatalf("expected invalid trial ranked last with an error, got %+v", last)
	}
	for i := 1; i < len(results)-1; i++ {
		if results[i].MeanMSE < results[i-1].MeanMSE {
			t.Fatalf("results not ranked at %d: %g < %g", i, results[i].MeanMSE, results[i-1].MeanMSE)
		}
		if results[i].Episodes != 1 {
			t.Fatalf("expected one scored test episode, got %d", results[i].Episodes)
		}
	}
}

func TestSweepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dataset := model.Dataset{Train: []model.FlightLog{syntheticLog("a", 4, 0)}, Test: []model.FlightLog{syntheticLog("b", 4, 0)}}
	_, err := quietTrainer().Sweep(ctx, dataset, SweepGrid(smallESNParameters(), []int{1}, []int{2, 3}), 2)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
