package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"rcflight/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

// MemoryStore keeps encoded records in maps, so every read returns an
// independent copy and versions are checked exactly like the sqlite backend.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	controllers map[string][]byte
	kinds       map[string]string
	datasets    map[string][]byte
	flightLogs  map[string][]byte
	evaluations map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.controllers = make(map[string][]byte)
	s.kinds = make(map[string]string)
	s.datasets = make(map[string][]byte)
	s.flightLogs = make(map[string][]byte)
	s.evaluations = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) SaveController(_ context.Context, controller model.ControllerRecord) error {
	payload, err := EncodeController(controller)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}
	s.controllers[controller.ID] = payload
	s.kinds[controller.ID] = controller.Kind
	return nil
}

func (s *MemoryStore) GetController(_ context.Context, id string) (model.ControllerRecord, bool, error) {
	s.mu.RLock()
	payload, ok := s.controllers[id]
	s.mu.RUnlock()

	if !ok {
		return model.ControllerRecord{}, false, nil
	}
	controller, err := DecodeController(payload)
	if err != nil {
		return model.ControllerRecord{}, false, err
	}
	return controller, true, nil
}

func (s *MemoryStore) ListControllers(ctx context.Context, kind string) ([]model.ControllerRecord, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.controllers))
	for id, k := range s.kinds {
		if kind == "" || k == kind {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	out := make([]model.ControllerRecord, 0, len(ids))
	for _, id := range ids {
		controller, ok, err := s.GetController(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, controller)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveDataset(_ context.Context, dataset model.Dataset) error {
	payload, err := EncodeDataset(dataset)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}
	s.datasets[dataset.ID] = payload
	return nil
}

func (s *MemoryStore) GetDataset(_ context.Context, id string) (model.Dataset, bool, error) {
	s.mu.RLock()
	payload, ok := s.datasets[id]
	s.mu.RUnlock()

	if !ok {
		return model.Dataset{}, false, nil
	}
	dataset, err := DecodeDataset(payload)
	if err != nil {
		return model.Dataset{}, false, err
	}
	return dataset, true, nil
}

func (s *MemoryStore) ListDatasets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.datasets))
	for id := range s.datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SaveFlightLog(_ context.Context, log model.FlightLog) error {
	payload, err := EncodeFlightLog(log)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}
	s.flightLogs[log.ID] = payload
	return nil
}

func (s *MemoryStore) GetFlightLog(_ context.Context, id string) (model.FlightLog, bool, error) {
	s.mu.RLock()
	payload, ok := s.flightLogs[id]
	s.mu.RUnlock()

	if !ok {
		return model.FlightLog{}, false, nil
	}
	log, err := DecodeFlightLog(payload)
	if err != nil {
		return model.FlightLog{}, false, err
	}
	return log, true, nil
}

func (s *MemoryStore) SaveEvaluations(_ context.Context, runID string, evaluations []model.EvaluationRecord) error {
	payload, err := EncodeEvaluations(evaluations)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}
	s.evaluations[runID] = payload
	return nil
}

func (s *MemoryStore) GetEvaluations(_ context.Context, runID string) ([]model.EvaluationRecord, bool, error) {
	s.mu.RLock()
	payload, ok := s.evaluations[runID]
	s.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	evaluations, err := DecodeEvaluations(payload)
	if err != nil {
		return nil, false, err
	}
	return evaluations, true, nil
}
