package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"rcflight/internal/storage"
	"rcflight/internal/training"
	api "rcflight/pkg/rcflight"
)

const (
	benchmarksDir = "benchmarks"
	defaultDBPath = "rcflight.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	case "train-esn":
		return runTrainESN(ctx, args[1:])
	case "train-izhikevich":
		return runTrainSpiking(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "sweep":
		return runSweep(ctx, args[1:])
	case "controllers":
		return runControllers(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// clientFlags are shared by every subcommand that opens the store.
type clientFlags struct {
	storeKind *string
	dbPath    *string
	verbose   *bool
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind: fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:    fs.String("db-path", defaultDBPath, "sqlite database path"),
		verbose:   fs.Bool("v", false, "log training progress to stderr"),
	}
}

func (f clientFlags) open() (*api.Client, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if *f.verbose {
		logger.SetLevel(logrus.InfoLevel)
	}
	return api.New(api.Options{
		StoreKind:     *f.storeKind,
		DBPath:        *f.dbPath,
		BenchmarksDir: benchmarksDir,
		Logger:        logger,
	})
}

// importIfRequested loads a dataset directory into the client first, so a
// memory store can train in a single invocation.
func importIfRequested(ctx context.Context, client *api.Client, dir, datasetID string) (string, error) {
	if dir == "" {
		return datasetID, nil
	}
	summary, err := client.ImportDataset(ctx, dir, datasetID)
	if err != nil {
		return "", err
	}
	return summary.DatasetID, nil
}

func runInit(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	fmt.Printf("initialized store=%s\n", *cf.storeKind)
	return nil
}

func runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	cf := addClientFlags(fs)
	dir := fs.String("dir", "", "directory of training_*/testing_* flight log JSON files")
	datasetID := fs.String("dataset-id", "", "dataset id (defaults to the directory name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("import requires -dir")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.ImportDataset(ctx, *dir, *datasetID)
	if err != nil {
		return err
	}
	fmt.Printf("imported dataset=%s train=%d test=%d snapshots=%s\n",
		summary.DatasetID, summary.TrainEpisodes, summary.TestEpisodes, humanize.Comma(int64(summary.Snapshots)))
	return nil
}

func runTrainESN(ctx context.Context, args []string) error {
	defaults := training.DefaultESNParameters()
	fs := flag.NewFlagSet("train-esn", flag.ContinueOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", "", "optional training config JSON path")
	datasetDir := fs.String("dataset-dir", "", "import this dataset directory before training")
	datasetID := fs.String("dataset-id", "", "stored dataset id")
	controllerID := fs.String("controller-id", "", "id for the trained controller (generated when empty)")
	downsampleMS := fs.Float64("downsample-ms", 0, "keep one snapshot per period before training (0 disables)")
	units := fs.Int("units", defaults.Units, "reservoir units")
	connectivity := fs.Float64("connectivity", defaults.Connectivity, "reservoir connection probability")
	spectralRadius := fs.Float64("spectral-radius", defaults.SpectralRadius, "target spectral radius")
	inputScaling := fs.Float64("input-scaling", defaults.InputScaling, "input weight scale")
	lag := fs.Int("lag", defaults.Lag, "past reservoir states concatenated to the current one")
	reducerKind := fs.String("reducer", defaults.Reducer.Kind, "state reducer: null|pca")
	pca := fs.Int("pca", 0, "maximum principal components for -reducer pca")
	setpoints := fs.Bool("setpoints", defaults.UseSetpoints, "append stick setpoints to readout features")
	alpha := fs.Float64("alpha", defaults.Alpha, "ridge regularization")
	seed := fs.Uint64("seed", defaults.Seed, "rng seed")
	controlPeriodMS := fs.Float64("control-period-ms", float64(defaults.ControlPeriod)/float64(time.Millisecond), "controller update period")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	var req api.ESNRequest
	if *configPath == "" {
		reducerT, err := reducerType(*reducerKind, *pca)
		if err != nil {
			return err
		}
		req = api.ESNRequest{
			Parameters: training.ESNParameters{
				Units:          *units,
				Connectivity:   *connectivity,
				SpectralRadius: *spectralRadius,
				InputScaling:   *inputScaling,
				Lag:            *lag,
				Reducer:        reducerT,
				UseSetpoints:   *setpoints,
				Alpha:          *alpha,
				Seed:           *seed,
				ControlPeriod:  millis(*controlPeriodMS),
			},
		}
	} else {
		loaded, err := loadESNRequestFromConfig(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		req = loaded
		overrideESNFromFlags(&req.Parameters, setFlags, map[string]any{
			"units":             *units,
			"connectivity":      *connectivity,
			"spectral-radius":   *spectralRadius,
			"input-scaling":     *inputScaling,
			"lag":               *lag,
			"reducer":           *reducerKind,
			"pca":               *pca,
			"setpoints":         *setpoints,
			"alpha":             *alpha,
			"seed":              *seed,
			"control-period-ms": *controlPeriodMS,
		})
	}
	if setFlags["dataset-id"] || req.DatasetID == "" {
		req.DatasetID = *datasetID
	}
	if setFlags["controller-id"] {
		req.ControllerID = *controllerID
	}
	if setFlags["downsample-ms"] {
		req.Downsample = millis(*downsampleMS)
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req.DatasetID, err = importIfRequested(ctx, client, *datasetDir, req.DatasetID)
	if err != nil {
		return err
	}
	summary, err := client.TrainESN(ctx, req)
	if err != nil {
		return err
	}
	printTrainSummary(summary)
	return nil
}

func runTrainSpiking(ctx context.Context, args []string) error {
	defaults := training.DefaultSpikingParameters()
	fs := flag.NewFlagSet("train-izhikevich", flag.ContinueOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", "", "optional training config JSON path")
	datasetDir := fs.String("dataset-dir", "", "import this dataset directory before training")
	datasetID := fs.String("dataset-id", "", "stored dataset id")
	controllerID := fs.String("controller-id", "", "id for the trained controller (generated when empty)")
	downsampleMS := fs.Float64("downsample-ms", 0, "keep one snapshot per period before training (0 disables)")
	neurons := fs.Int("neurons", defaults.Neurons, "reservoir neurons")
	connectivity := fs.Float64("connectivity", defaults.Connectivity, "synapse probability")
	excitatory := fs.Float64("excitatory", defaults.ExcitatoryFraction, "fraction of regular-spiking excitatory neurons")
	gain := fs.Float64("gain", defaults.Gain, "input current gain")
	alpha := fs.Float64("alpha", defaults.Alpha, "ridge regularization")
	traceTauMS := fs.Float64("trace-tau-ms", float64(defaults.TraceTau)/float64(time.Millisecond), "spike trace time constant")
	controlPeriodMS := fs.Float64("control-period-ms", float64(defaults.ControlPeriod)/float64(time.Millisecond), "controller update period")
	seed := fs.Uint64("seed", defaults.Seed, "network rng seed")
	inputSeed := fs.Uint64("input-seed", defaults.InputSeed, "input projection rng seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	var req api.SpikingRequest
	if *configPath == "" {
		req = api.SpikingRequest{
			Parameters: training.SpikingParameters{
				Neurons:            *neurons,
				Connectivity:       *connectivity,
				ExcitatoryFraction: *excitatory,
				Gain:               *gain,
				Alpha:              *alpha,
				TraceTau:           millis(*traceTauMS),
				ControlPeriod:      millis(*controlPeriodMS),
				Seed:               *seed,
				InputSeed:          *inputSeed,
			},
		}
	} else {
		loaded, err := loadSpikingRequestFromConfig(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		req = loaded
		overrideSpikingFromFlags(&req.Parameters, setFlags, map[string]any{
			"neurons":           *neurons,
			"connectivity":      *connectivity,
			"excitatory":        *excitatory,
			"gain":              *gain,
			"alpha":             *alpha,
			"trace-tau-ms":      *traceTauMS,
			"control-period-ms": *controlPeriodMS,
			"seed":              *seed,
			"input-seed":        *inputSeed,
		})
	}
	if setFlags["dataset-id"] || req.DatasetID == "" {
		req.DatasetID = *datasetID
	}
	if setFlags["controller-id"] {
		req.ControllerID = *controllerID
	}
	if setFlags["downsample-ms"] {
		req.Downsample = millis(*downsampleMS)
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req.DatasetID, err = importIfRequested(ctx, client, *datasetDir, req.DatasetID)
	if err != nil {
		return err
	}
	summary, err := client.TrainSpiking(ctx, req)
	if err != nil {
		return err
	}
	printTrainSummary(summary)
	return nil
}

func printTrainSummary(summary api.TrainSummary) {
	score := "n/a"
	if summary.TestMeanMSE != nil {
		score = strconv.FormatFloat(*summary.TestMeanMSE, 'g', 6, 64)
	}
	fmt.Printf("run_id=%s controller=%s kind=%s episodes=%d snapshots=%s test_mse=%s took=%s\n",
		summary.RunID, summary.ControllerID, summary.Kind, summary.TrainEpisodes,
		humanize.Comma(int64(summary.TrainSnapshots)), score, summary.Duration.Round(time.Millisecond))
	fmt.Printf("artifacts=%s\n", summary.ArtifactsDir)
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cf := addClientFlags(fs)
	datasetDir := fs.String("dataset-dir", "", "import this dataset directory before evaluating")
	datasetID := fs.String("dataset-id", "", "stored dataset id")
	controllerID := fs.String("controller-id", "", "stored controller id")
	useTrain := fs.Bool("train-split", false, "score the training split instead of the test split")
	downsampleMS := fs.Float64("downsample-ms", 0, "keep one snapshot per period before scoring (0 disables)")
	jsonOut := fs.Bool("json", false, "emit per-episode scores as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *controllerID == "" {
		return errors.New("evaluate requires -controller-id")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	id, err := importIfRequested(ctx, client, *datasetDir, *datasetID)
	if err != nil {
		return err
	}
	summary, err := client.Evaluate(ctx, api.EvaluateRequest{
		ControllerID:  *controllerID,
		DatasetID:     id,
		UseTrainSplit: *useTrain,
		Downsample:    millis(*downsampleMS),
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(os.Stdout, summary.Result)
	}
	fmt.Printf("run_id=%s controller=%s episodes=%d mean_mse=%g\n",
		summary.RunID, *controllerID, len(summary.Result.Episodes), summary.Result.MeanMSE)
	return nil
}

func runSweep(ctx context.Context, args []string) error {
	defaults := training.DefaultESNParameters()
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", "", "optional sweep config JSON path")
	datasetDir := fs.String("dataset-dir", "", "import this dataset directory before the sweep")
	datasetID := fs.String("dataset-id", "", "stored dataset id")
	bufferSizes := fs.String("buffer-sizes", "1,2,4,8", "comma-separated history buffer sizes")
	pcaDims := fs.String("pca-dims", "16,32,64,128", "comma-separated PCA widths")
	workers := fs.Int("workers", 4, "worker count")
	units := fs.Int("units", defaults.Units, "reservoir units")
	alpha := fs.Float64("alpha", defaults.Alpha, "ridge regularization")
	seed := fs.Uint64("seed", defaults.Seed, "rng seed")
	downsampleMS := fs.Float64("downsample-ms", 0, "keep one snapshot per period (0 disables)")
	top := fs.Int("top", 5, "trials to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req := api.SweepRequest{Base: defaults}
	if *configPath != "" {
		loaded, err := loadSweepRequestFromConfig(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		req = loaded
	}
	overrideESNFromFlags(&req.Base, setFlags, map[string]any{
		"units": *units,
		"alpha": *alpha,
		"seed":  *seed,
	})
	if *configPath == "" || setFlags["buffer-sizes"] {
		sizes, err := parseIntList(*bufferSizes)
		if err != nil {
			return fmt.Errorf("buffer sizes: %w", err)
		}
		req.BufferSizes = sizes
	}
	if *configPath == "" || setFlags["pca-dims"] {
		dims, err := parseIntList(*pcaDims)
		if err != nil {
			return fmt.Errorf("pca dims: %w", err)
		}
		req.PCADims = dims
	}
	if *configPath == "" || setFlags["workers"] {
		req.Workers = *workers
	}
	if setFlags["dataset-id"] || req.DatasetID == "" {
		req.DatasetID = *datasetID
	}
	if setFlags["downsample-ms"] {
		req.Downsample = millis(*downsampleMS)
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req.DatasetID, err = importIfRequested(ctx, client, *datasetDir, req.DatasetID)
	if err != nil {
		return err
	}
	summary, err := client.Sweep(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run_id=%s trials=%d\n", summary.RunID, len(summary.Trials))
	for i, trial := range summary.Trials {
		if i == *top {
			break
		}
		if trial.Err != "" {
			fmt.Printf("%s %s error=%s\n", humanize.Ordinal(i+1), trial.Parameters, trial.Err)
			continue
		}
		fmt.Printf("%s %s mean_mse=%g took=%s\n",
			humanize.Ordinal(i+1), trial.Parameters, trial.MeanMSE, trial.Duration.Round(time.Millisecond))
	}
	return nil
}

func runControllers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("controllers", flag.ContinueOnError)
	cf := addClientFlags(fs)
	kind := fs.String("kind", "", "filter by controller kind: esn|izhikevich")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	records, err := client.Controllers(ctx, *kind)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no controllers found")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("id=%s kind=%s created=%s\n", rec.ID, rec.Kind, relativeTime(rec.CreatedAtUTC))
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	cf := addClientFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	kind := fs.String("kind", "", "filter by run kind: train-esn|train-izhikevich|evaluate|sweep")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	entries, err := client.Runs(ctx, api.RunsRequest{Limit: *limit, Kind: *kind})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(os.Stdout, entries)
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("run_id=%s kind=%s dataset=%s best_mse=%g evaluations=%d created=%s\n",
			e.RunID, e.Kind, e.DatasetID, e.BestMeanMSE, e.Evaluations, relativeTime(e.CreatedAtUTC))
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id to export")
	latest := fs.Bool("latest", false, "export the most recent run")
	outDir := fs.String("out", "exports", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
	return nil
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("values must be > 0, got %d", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("empty list")
	}
	return out, nil
}

// relativeTime renders an RFC 3339 timestamp as "3 minutes ago", falling
// back to the raw value.
func relativeTime(ts string) string {
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(parsed)
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: rcflightctl <init|import|train-esn|train-izhikevich|evaluate|sweep|controllers|runs|export> [flags]", msg)
}
