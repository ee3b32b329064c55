package storage

import (
	"context"

	"rcflight/internal/model"
)

// Store persists trained controllers, flight datasets and evaluation results
// keyed by opaque ids.
type Store interface {
	Init(ctx context.Context) error
	SaveController(ctx context.Context, controller model.ControllerRecord) error
	GetController(ctx context.Context, id string) (model.ControllerRecord, bool, error)
	// ListControllers returns controllers of the given kind ordered by id; an
	// empty kind lists all of them.
	ListControllers(ctx context.Context, kind string) ([]model.ControllerRecord, error)
	SaveDataset(ctx context.Context, dataset model.Dataset) error
	GetDataset(ctx context.Context, id string) (model.Dataset, bool, error)
	ListDatasets(ctx context.Context) ([]string, error)
	SaveFlightLog(ctx context.Context, log model.FlightLog) error
	GetFlightLog(ctx context.Context, id string) (model.FlightLog, bool, error)
	SaveEvaluations(ctx context.Context, runID string, evaluations []model.EvaluationRecord) error
	GetEvaluations(ctx context.Context, runID string) ([]model.EvaluationRecord, bool, error)
}
