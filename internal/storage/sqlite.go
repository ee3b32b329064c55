//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"rcflight/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveController(ctx context.Context, controller model.ControllerRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeController(controller)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO controllers (id, kind, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, controller.ID, controller.Kind, controller.SchemaVersion, controller.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetController(ctx context.Context, id string) (model.ControllerRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.ControllerRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM controllers WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ControllerRecord{}, false, nil
		}
		return model.ControllerRecord{}, false, err
	}

	controller, err := DecodeController(payload)
	if err != nil {
		return model.ControllerRecord{}, false, fmt.Errorf("decode controller %s: %w", id, err)
	}
	return controller, true, nil
}

func (s *SQLiteStore) ListControllers(ctx context.Context, kind string) ([]model.ControllerRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, payload FROM controllers
		WHERE ? = '' OR kind = ?
		ORDER BY id
	`, kind, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ControllerRecord
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		controller, err := DecodeController(payload)
		if err != nil {
			return nil, fmt.Errorf("decode controller %s: %w", id, err)
		}
		out = append(out, controller)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveDataset(ctx context.Context, dataset model.Dataset) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeDataset(dataset)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO datasets (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, dataset.ID, dataset.SchemaVersion, dataset.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (model.Dataset, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Dataset{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM datasets WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Dataset{}, false, nil
		}
		return model.Dataset{}, false, err
	}

	dataset, err := DecodeDataset(payload)
	if err != nil {
		return model.Dataset{}, false, fmt.Errorf("decode dataset %s: %w", id, err)
	}
	return dataset, true, nil
}

func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM datasets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) SaveFlightLog(ctx context.Context, log model.FlightLog) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeFlightLog(log)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO flight_logs (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, log.ID, log.SchemaVersion, log.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetFlightLog(ctx context.Context, id string) (model.FlightLog, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.FlightLog{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM flight_logs WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.FlightLog{}, false, nil
		}
		return model.FlightLog{}, false, err
	}

	log, err := DecodeFlightLog(payload)
	if err != nil {
		return model.FlightLog{}, false, fmt.Errorf("decode flight log %s: %w", id, err)
	}
	return log, true, nil
}

func (s *SQLiteStore) SaveEvaluations(ctx context.Context, runID string, evaluations []model.EvaluationRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeEvaluations(evaluations)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO evaluations (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetEvaluations(ctx context.Context, runID string) ([]model.EvaluationRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM evaluations WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	evaluations, err := DecodeEvaluations(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode evaluations %s: %w", runID, err)
	}
	return evaluations, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS controllers (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS controllers_kind ON controllers (kind);
		CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS flight_logs (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS evaluations (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
