package rcflight

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rcflight/internal/controller"
	"rcflight/internal/eval"
	"rcflight/internal/model"
	"rcflight/internal/stats"
	"rcflight/internal/storage"
	"rcflight/internal/training"
)

const (
	defaultBenchmarksDir = "benchmarks"
	defaultExportsDir    = "exports"
	defaultDBPath        = "rcflight.db"
	defaultSweepWorkers  = 4
	defaultRunsLimit     = 20
)

// Simulator and SimulatorFactory drive closed-loop evaluation.
type (
	Simulator        = eval.Simulator
	SimulatorFactory = eval.SimulatorFactory
)

type Options struct {
	StoreKind     string
	DBPath        string
	BenchmarksDir string
	ExportsDir    string
	Logger        logrus.FieldLogger
}

type Client struct {
	store   storage.Store
	trainer *training.Trainer
	logger  logrus.FieldLogger

	benchmarksDir string
	exportsDir    string
}

type ImportSummary struct {
	DatasetID     string
	TrainEpisodes int
	TestEpisodes  int
	Snapshots     int
}

type ESNRequest struct {
	DatasetID    string
	ControllerID string
	Parameters   training.ESNParameters
	// Downsample thins every flight log to one snapshot per period before
	// training. Zero keeps the logs as recorded.
	Downsample time.Duration
}

type SpikingRequest struct {
	DatasetID    string
	ControllerID string
	Parameters   training.SpikingParameters
	Downsample   time.Duration
}

type TrainSummary struct {
	RunID          string
	ControllerID   string
	Kind           string
	ArtifactsDir   string
	TrainEpisodes  int
	TrainSnapshots int
	TestMeanMSE    *float64
	Duration       time.Duration
}

type EvaluateRequest struct {
	ControllerID string
	DatasetID    string
	// UseTrainSplit scores the training split instead of the test split.
	UseTrainSplit bool
	Downsample    time.Duration
	// Simulator enables closed-loop stabilization scoring. Cases come from
	// SampleStabilizationCases when StabilizationCases is positive and from
	// the stick grid otherwise.
	Simulator          SimulatorFactory
	StabilizationCases int
	Seed               uint64
}

type EvaluateSummary struct {
	RunID         string
	ArtifactsDir  string
	Result        eval.Result
	Stabilization *eval.StabilizationResult
}

type SweepRequest struct {
	DatasetID   string
	Base        training.ESNParameters
	BufferSizes []int
	PCADims     []int
	Workers     int
	Downsample  time.Duration
}

type SweepSummary struct {
	RunID        string
	ArtifactsDir string
	Trials       []training.TrialResult
}

type RunsRequest struct {
	Limit int
	Kind  string
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	benchmarksDir := opts.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	return &Client{
		store:         store,
		trainer:       training.NewTrainer(logger),
		logger:        logger,
		benchmarksDir: benchmarksDir,
		exportsDir:    exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// ImportDataset reads a directory of training_*/testing_* flight logs and
// stores the dataset and each of its logs.
func (c *Client) ImportDataset(ctx context.Context, dir, id string) (ImportSummary, error) {
	dataset, err := storage.LoadDatasetDir(dir, id)
	if err != nil {
		return ImportSummary{}, err
	}
	summary := ImportSummary{
		DatasetID:     dataset.ID,
		TrainEpisodes: len(dataset.Train),
		TestEpisodes:  len(dataset.Test),
	}
	for _, split := range [][]model.FlightLog{dataset.Train, dataset.Test} {
		for _, log := range split {
			if err := c.store.SaveFlightLog(ctx, log); err != nil {
				return ImportSummary{}, fmt.Errorf("save flight log %s: %w", log.ID, err)
			}
			summary.Snapshots += len(log.Steps)
		}
	}
	if err := c.store.SaveDataset(ctx, dataset); err != nil {
		return ImportSummary{}, err
	}
	c.logger.WithFields(logrus.Fields{
		"dataset": dataset.ID,
		"train":   summary.TrainEpisodes,
		"test":    summary.TestEpisodes,
	}).Info("dataset imported")
	return summary, nil
}

func (c *Client) Datasets(ctx context.Context) ([]string, error) {
	return c.store.ListDatasets(ctx)
}

// TrainESN fits an echo state controller on the dataset's training split,
// scores it on the test split when there is one, and stores it.
func (c *Client) TrainESN(ctx context.Context, req ESNRequest) (TrainSummary, error) {
	dataset, err := c.loadDataset(ctx, req.DatasetID, req.Downsample)
	if err != nil {
		return TrainSummary{}, err
	}
	started := time.Now()
	esn, err := c.trainer.TrainESN(ctx, dataset.Train, req.Parameters)
	if err != nil {
		return TrainSummary{}, err
	}
	return c.finishTraining(ctx, stats.RunKindTrainESN, controller.FromESN(esn), dataset, req.ControllerID,
		req.Parameters.String(), req.Parameters.Seed, req.Downsample, started)
}

// TrainSpiking is TrainESN for the Izhikevich reservoir controller.
func (c *Client) TrainSpiking(ctx context.Context, req SpikingRequest) (TrainSummary, error) {
	dataset, err := c.loadDataset(ctx, req.DatasetID, req.Downsample)
	if err != nil {
		return TrainSummary{}, err
	}
	started := time.Now()
	spiking, err := c.trainer.TrainSpiking(ctx, dataset.Train, req.Parameters)
	if err != nil {
		return TrainSummary{}, err
	}
	return c.finishTraining(ctx, stats.RunKindTrainSpiking, controller.FromSpiking(spiking), dataset, req.ControllerID,
		req.Parameters.String(), req.Parameters.Seed, req.Downsample, started)
}

func (c *Client) finishTraining(
	ctx context.Context,
	runKind string,
	ctrl controller.Controller,
	dataset model.Dataset,
	controllerID string,
	parameters string,
	seed uint64,
	downsample time.Duration,
	started time.Time,
) (TrainSummary, error) {
	if controllerID == "" {
		controllerID = ctrl.Kind + "-" + uuid.NewString()
	}
	if err := c.SaveController(ctx, controllerID, ctrl); err != nil {
		return TrainSummary{}, err
	}

	summary := TrainSummary{
		RunID:         newRunID(runKind),
		ControllerID:  controllerID,
		Kind:          ctrl.Kind,
		TrainEpisodes: len(dataset.Train),
	}
	for _, log := range dataset.Train {
		summary.TrainSnapshots += len(log.Steps)
	}

	var evaluations []model.EvaluationRecord
	result, err := eval.OpenLoop(ctx, ctrl, dataset.Test)
	switch {
	case err == nil:
		mse := result.MeanMSE
		summary.TestMeanMSE = &mse
		evaluations = append(evaluations, model.EvaluationRecord{
			ControllerID: controllerID,
			DatasetID:    dataset.ID,
			Parameters:   parameters,
			MeanMSE:      result.MeanMSE,
			Episodes:     result.Episodes,
		})
	case errors.Is(err, eval.ErrNoEpisodes):
		c.logger.WithField("dataset", dataset.ID).Warn("dataset has no test episodes; skipping evaluation")
	default:
		return TrainSummary{}, err
	}
	summary.Duration = time.Since(started)

	runDir, err := c.recordRun(ctx, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          summary.RunID,
			Kind:           runKind,
			DatasetID:      dataset.ID,
			ControllerID:   controllerID,
			Parameters:     parameters,
			Seed:           seed,
			DownsampleMS:   durationMillis(downsample),
			TrainEpisodes:  len(dataset.Train),
			TestEpisodes:   len(dataset.Test),
			DurationMillis: summary.Duration.Milliseconds(),
		},
		Evaluations: evaluations,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	summary.ArtifactsDir = runDir
	return summary, nil
}

// Evaluate scores a stored controller open loop on a stored dataset and,
// when a simulator is supplied, closed loop on stabilization cases.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateSummary, error) {
	started := time.Now()
	ctrl, err := c.LoadController(ctx, req.ControllerID)
	if err != nil {
		return EvaluateSummary{}, err
	}
	dataset, err := c.loadDataset(ctx, req.DatasetID, req.Downsample)
	if err != nil {
		return EvaluateSummary{}, err
	}
	logs := dataset.Test
	if req.UseTrainSplit {
		logs = dataset.Train
	}
	result, err := eval.OpenLoop(ctx, ctrl, logs)
	if err != nil {
		return EvaluateSummary{}, err
	}

	summary := EvaluateSummary{RunID: newRunID(stats.RunKindEvaluate), Result: result}
	record := model.EvaluationRecord{
		ControllerID: req.ControllerID,
		DatasetID:    dataset.ID,
		Parameters:   ctrl.Kind,
		MeanMSE:      result.MeanMSE,
		Episodes:     result.Episodes,
	}
	cases := 0
	if req.Simulator != nil {
		caseList := eval.GridCases()
		if req.StabilizationCases > 0 {
			caseList = eval.SampleStabilizationCases(req.StabilizationCases, req.Seed)
		}
		cases = len(caseList)
		stabilization, err := eval.Stabilize(ctx, ctrl, req.Simulator, caseList, eval.DefaultStabilizationConfig())
		if err != nil {
			return EvaluateSummary{}, err
		}
		summary.Stabilization = &stabilization
		rate := stabilization.Rate
		record.StabilizationRate = &rate
	}

	runDir, err := c.recordRun(ctx, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          summary.RunID,
			Kind:           stats.RunKindEvaluate,
			DatasetID:      dataset.ID,
			ControllerID:   req.ControllerID,
			Parameters:     ctrl.Kind,
			Seed:           req.Seed,
			Stabilization:  cases,
			DownsampleMS:   durationMillis(req.Downsample),
			TrainEpisodes:  len(dataset.Train),
			TestEpisodes:   len(dataset.Test),
			DurationMillis: time.Since(started).Milliseconds(),
		},
		Evaluations: []model.EvaluationRecord{record},
	})
	if err != nil {
		return EvaluateSummary{}, err
	}
	summary.ArtifactsDir = runDir
	return summary, nil
}

// Sweep trains one echo state controller per grid point and ranks them by
// test-split MSE. Sweep controllers are scored, not stored.
func (c *Client) Sweep(ctx context.Context, req SweepRequest) (SweepSummary, error) {
	started := time.Now()
	dataset, err := c.loadDataset(ctx, req.DatasetID, req.Downsample)
	if err != nil {
		return SweepSummary{}, err
	}
	if len(req.BufferSizes) == 0 {
		req.BufferSizes = training.DefaultBufferSizes
	}
	if len(req.PCADims) == 0 {
		req.PCADims = training.DefaultPCADims
	}
	if req.Workers <= 0 {
		req.Workers = defaultSweepWorkers
	}
	base := req.Base
	if base.Units == 0 {
		base = training.DefaultESNParameters()
	}

	trials := training.SweepGrid(base, req.BufferSizes, req.PCADims)
	ranked, err := c.trainer.Sweep(ctx, dataset, trials, req.Workers)
	if err != nil {
		return SweepSummary{}, err
	}

	summary := SweepSummary{RunID: newRunID(stats.RunKindSweep), Trials: ranked}
	evaluations := make([]model.EvaluationRecord, 0, len(ranked))
	for _, trial := range ranked {
		if trial.Err != "" {
			continue
		}
		evaluations = append(evaluations, model.EvaluationRecord{
			ControllerID: fmt.Sprintf("%s/trial-%d", summary.RunID, trial.Index),
			DatasetID:    dataset.ID,
			Parameters:   trial.Parameters.String(),
			MeanMSE:      trial.MeanMSE,
		})
	}
	runDir, err := c.recordRun(ctx, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:          summary.RunID,
			Kind:           stats.RunKindSweep,
			DatasetID:      dataset.ID,
			Parameters:     base.String(),
			Seed:           base.Seed,
			Workers:        req.Workers,
			Trials:         len(trials),
			DownsampleMS:   durationMillis(req.Downsample),
			TrainEpisodes:  len(dataset.Train),
			TestEpisodes:   len(dataset.Test),
			DurationMillis: time.Since(started).Milliseconds(),
		},
		Evaluations: evaluations,
	})
	if err != nil {
		return SweepSummary{}, err
	}
	summary.ArtifactsDir = runDir
	return summary, nil
}

// Runs lists recorded runs newest first, optionally filtered by kind.
func (c *Client) Runs(_ context.Context, req RunsRequest) ([]stats.RunIndexEntry, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return nil, err
	}
	out := make([]stats.RunIndexEntry, 0, min(len(entries), req.Limit))
	for _, entry := range entries {
		if req.Kind != "" && entry.Kind != req.Kind {
			continue
		}
		out = append(out, entry)
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.benchmarksDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Evaluations returns the evaluation records stored for a run.
func (c *Client) Evaluations(ctx context.Context, runID string) ([]model.EvaluationRecord, error) {
	evaluations, ok, err := c.store.GetEvaluations(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return evaluations, nil
}

// LoadController rebuilds a stored controller, ready to fly.
func (c *Client) LoadController(ctx context.Context, id string) (controller.Controller, error) {
	rec, ok, err := c.store.GetController(ctx, id)
	if err != nil {
		return controller.Controller{}, err
	}
	if !ok {
		return controller.Controller{}, fmt.Errorf("controller not found: %s", id)
	}
	return controller.FromRecord(rec)
}

func (c *Client) SaveController(ctx context.Context, id string, ctrl controller.Controller) error {
	if id == "" {
		return errors.New("controller id is required")
	}
	rec, err := ctrl.Record(id)
	if err != nil {
		return err
	}
	rec.VersionedRecord = storage.CurrentVersion()
	rec.CreatedAtUTC = time.Now().UTC().Format(time.RFC3339Nano)
	return c.store.SaveController(ctx, rec)
}

// Controllers lists stored controller records of the given kind, or of every
// kind when kind is empty.
func (c *Client) Controllers(ctx context.Context, kind string) ([]model.ControllerRecord, error) {
	return c.store.ListControllers(ctx, kind)
}

func (c *Client) loadDataset(ctx context.Context, id string, downsample time.Duration) (model.Dataset, error) {
	if id == "" {
		return model.Dataset{}, errors.New("dataset id is required")
	}
	dataset, ok, err := c.store.GetDataset(ctx, id)
	if err != nil {
		return model.Dataset{}, err
	}
	if !ok {
		return model.Dataset{}, fmt.Errorf("dataset not found: %s", id)
	}
	dataset.Downsample(downsample)
	return dataset, nil
}

func (c *Client) recordRun(ctx context.Context, artifacts stats.RunArtifacts) (string, error) {
	runDir, err := stats.WriteRunArtifacts(c.benchmarksDir, artifacts)
	if err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.benchmarksDir, artifacts.IndexEntry(time.Now().UTC().Format(time.RFC3339Nano))); err != nil {
		return "", err
	}
	if len(artifacts.Evaluations) > 0 {
		if err := c.store.SaveEvaluations(ctx, artifacts.Config.RunID, artifacts.Evaluations); err != nil {
			return "", err
		}
	}
	c.logger.WithFields(logrus.Fields{
		"run":  artifacts.Config.RunID,
		"kind": artifacts.Config.Kind,
	}).Info("run recorded")
	return filepath.Clean(runDir), nil
}

func newRunID(kind string) string {
	return kind + "-" + uuid.NewString()
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
