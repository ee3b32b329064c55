package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"rcflight/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion is the version stamp for newly written records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeController(c model.ControllerRecord) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeController(data []byte) (model.ControllerRecord, error) {
	var controller model.ControllerRecord
	if err := json.Unmarshal(data, &controller); err != nil {
		return model.ControllerRecord{}, err
	}
	if err := checkVersion(controller.VersionedRecord); err != nil {
		return model.ControllerRecord{}, err
	}
	return controller, nil
}

func EncodeDataset(d model.Dataset) ([]byte, error) {
	return json.Marshal(d)
}

func DecodeDataset(data []byte) (model.Dataset, error) {
	var dataset model.Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return model.Dataset{}, err
	}
	if err := checkVersion(dataset.VersionedRecord); err != nil {
		return model.Dataset{}, err
	}
	return dataset, nil
}

func EncodeFlightLog(l model.FlightLog) ([]byte, error) {
	return json.Marshal(l)
}

func DecodeFlightLog(data []byte) (model.FlightLog, error) {
	var log model.FlightLog
	if err := json.Unmarshal(data, &log); err != nil {
		return model.FlightLog{}, err
	}
	if err := checkVersion(log.VersionedRecord); err != nil {
		return model.FlightLog{}, err
	}
	return log, nil
}

func EncodeEvaluations(evaluations []model.EvaluationRecord) ([]byte, error) {
	return json.Marshal(evaluations)
}

func DecodeEvaluations(data []byte) ([]model.EvaluationRecord, error) {
	var evaluations []model.EvaluationRecord
	if err := json.Unmarshal(data, &evaluations); err != nil {
		return nil, err
	}
	return evaluations, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
