package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rcflight/internal/model"
)

const (
	TrainingPrefix = "training_"
	TestingPrefix  = "testing_"
)

// LoadDatasetDir reads a directory of JSON flight logs into a dataset. Files
// named training_* go to the training split, testing_* to the test split and
// anything else is ignored. A log without an id takes its file name. Records
// are stamped with the current version.
func LoadDatasetDir(dir, id string) (model.Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return model.Dataset{}, fmt.Errorf("read dataset dir: %w", err)
	}
	if id == "" {
		id = filepath.Base(filepath.Clean(dir))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	dataset := model.Dataset{VersionedRecord: CurrentVersion(), ID: id}
	for _, name := range names {
		var split *[]model.FlightLog
		switch {
		case strings.HasPrefix(name, TrainingPrefix):
			split = &dataset.Train
		case strings.HasPrefix(name, TestingPrefix):
			split = &dataset.Test
		default:
			continue
		}
		log, err := readFlightLog(filepath.Join(dir, name))
		if err != nil {
			return model.Dataset{}, err
		}
		if log.ID == "" {
			log.ID = id + "/" + strings.TrimSuffix(name, filepath.Ext(name))
		}
		*split = append(*split, log)
	}
	if len(dataset.Train) == 0 && len(dataset.Test) == 0 {
		return model.Dataset{}, fmt.Errorf("no %s* or %s* flight logs in %s", TrainingPrefix, TestingPrefix, dir)
	}
	return dataset, nil
}

func readFlightLog(path string) (model.FlightLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.FlightLog{}, fmt.Errorf("read flight log: %w", err)
	}
	var log model.FlightLog
	if err := json.Unmarshal(data, &log); err != nil {
		return model.FlightLog{}, fmt.Errorf("decode flight log %s: %w", filepath.Base(path), err)
	}
	log.VersionedRecord = CurrentVersion()
	return log, nil
}

// WriteDatasetDir writes every log of the dataset as <prefix><index>.json,
// the layout LoadDatasetDir reads.
func WriteDatasetDir(dir string, dataset model.Dataset) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	write := func(prefix string, logs []model.FlightLog) error {
		for i, log := range logs {
			data, err := json.MarshalIndent(log, "", "  ")
			if err != nil {
				return err
			}
			path := filepath.Join(dir, fmt.Sprintf("%s%d.json", prefix, i))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(TrainingPrefix, dataset.Train); err != nil {
		return err
	}
	return write(TestingPrefix, dataset.Test)
}
