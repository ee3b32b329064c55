package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"rcflight/internal/model"
)

const runIndexFile = "run_index.json"

const (
	RunKindTrainESN     = "train-esn"
	RunKindTrainSpiking = "train-izhikevich"
	RunKindEvaluate     = "evaluate"
	RunKindSweep        = "sweep"
)

type RunConfig struct {
	RunID          string  `json:"run_id"`
	Kind           string  `json:"kind"`
	DatasetID      string  `json:"dataset_id"`
	ControllerID   string  `json:"controller_id,omitempty"`
	Parameters     string  `json:"parameters,omitempty"`
	Seed           uint64  `json:"seed,omitempty"`
	Workers        int     `json:"workers,omitempty"`
	Trials         int     `json:"trials,omitempty"`
	Stabilization  int     `json:"stabilization_cases,omitempty"`
	DownsampleMS   float64 `json:"downsample_ms,omitempty"`
	TrainEpisodes  int     `json:"train_episodes"`
	TestEpisodes   int     `json:"test_episodes"`
	DurationMillis int64   `json:"duration_ms"`
}

// RunArtifacts is everything a training, evaluation or sweep run leaves on
// disk. Sweep runs carry one evaluation per trial, best first.
type RunArtifacts struct {
	Config      RunConfig                `json:"config"`
	Evaluations []model.EvaluationRecord `json:"evaluations"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Kind         string  `json:"kind"`
	DatasetID    string  `json:"dataset_id"`
	ControllerID string  `json:"controller_id,omitempty"`
	BestMeanMSE  float64 `json:"best_mean_mse"`
	Evaluations  int     `json:"evaluations"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// IndexEntry summarizes artifacts for the run index. The best MSE is the
// lowest finite one among the evaluations.
func (a RunArtifacts) IndexEntry(createdAtUTC string) RunIndexEntry {
	entry := RunIndexEntry{
		RunID:        a.Config.RunID,
		Kind:         a.Config.Kind,
		DatasetID:    a.Config.DatasetID,
		ControllerID: a.Config.ControllerID,
		Evaluations:  len(a.Evaluations),
		CreatedAtUTC: createdAtUTC,
	}
	first := true
	for _, evaluation := range a.Evaluations {
		if first || evaluation.MeanMSE < entry.BestMeanMSE {
			entry.BestMeanMSE = evaluation.MeanMSE
			first = false
		}
	}
	return entry
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	evaluations := artifacts.Evaluations
	if evaluations == nil {
		evaluations = []model.EvaluationRecord{}
	}
	if err := writeJSON(filepath.Join(runDir, "evaluation.json"), evaluations); err != nil {
		return "", err
	}
	if err := WriteEpisodeSeries(runDir, evaluations); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the run index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "evaluation.json"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	seriesPath := filepath.Join(src, "episode_series.csv")
	if _, err := os.Stat(seriesPath); err == nil {
		if err := copyFile(seriesPath, filepath.Join(dst, "episode_series.csv")); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	if err != nil || !ok {
		return RunConfig{}, ok, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadEvaluations(baseDir, runID string) ([]model.EvaluationRecord, bool, error) {
	var evaluations []model.EvaluationRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, "evaluation.json"), &evaluations)
	if err != nil || !ok {
		return nil, ok, err
	}
	return evaluations, true, nil
}

// WriteEpisodeSeries writes one CSV row per scored episode, in evaluation
// order.
func WriteEpisodeSeries(runDir string, evaluations []model.EvaluationRecord) error {
	path := filepath.Join(runDir, "episode_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"controller_id", "flight_log_id", "mse"}); err != nil {
		return err
	}
	for _, evaluation := range evaluations {
		for _, episode := range evaluation.Episodes {
			if err := writer.Write([]string{
				evaluation.ControllerID,
				episode.FlightLogID,
				strconv.FormatFloat(episode.MSE, 'g', -1, 64),
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadEpisodeSeries(baseDir, runID string) ([]model.EpisodeScore, bool, error) {
	path := filepath.Join(baseDir, runID, "episode_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.EpisodeScore{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 3 {
		return nil, false, fmt.Errorf("episode series header must have at least 3 columns")
	}

	series := make([]model.EpisodeScore, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 3 {
			return nil, false, fmt.Errorf("episode series row must have at least 3 columns")
		}
		mse, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, model.EpisodeScore{FlightLogID: record[1], MSE: mse})
	}
	return series, true, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
