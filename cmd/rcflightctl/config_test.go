package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rcflight/internal/reducer"
	"rcflight/internal/training"
)

func writeConfig(t *testing.T, payload map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadESNRequestFromConfig(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"dataset_id":        "flights",
		"controller_id":     "esn-a",
		"units":             64,
		"spectral_radius":   0.8,
		"lag":               3,
		"reducer":           "pca",
		"pca_components":    32,
		"use_setpoints":     false,
		"alpha":             0.5,
		"seed":              42,
		"control_period_ms": 5,
		"downsample_ms":     10,
	})

	req, err := loadESNRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if req.DatasetID != "flights" || req.ControllerID != "esn-a" {
		t.Fatalf("unexpected ids: %+v", req)
	}
	p := req.Parameters
	if p.Units != 64 || p.SpectralRadius != 0.8 || p.Lag != 3 || p.Alpha != 0.5 || p.Seed != 42 {
		t.Fatalf("unexpected parameters: %+v", p)
	}
	if p.Reducer != reducer.PCAType(32) {
		t.Fatalf("unexpected reducer: got=%v want=%v", p.Reducer, reducer.PCAType(32))
	}
	if p.UseSetpoints {
		t.Fatal("expected setpoints disabled")
	}
	if p.ControlPeriod != 5*time.Millisecond || req.Downsample != 10*time.Millisecond {
		t.Fatalf("unexpected periods: control=%s downsample=%s", p.ControlPeriod, req.Downsample)
	}
	// Unset keys keep their defaults.
	if p.Connectivity != training.DefaultESNParameters().Connectivity {
		t.Fatalf("unexpected connectivity: got=%g want=%g", p.Connectivity, training.DefaultESNParameters().Connectivity)
	}
}

func TestLoadSpikingRequestFromConfig(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"dataset_id":   "flights",
		"neurons":      128,
		"gain":         2.5,
		"trace_tau_ms": 15,
		"input_seed":   9,
	})

	req, err := loadSpikingRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	p := req.Parameters
	if p.Neurons != 128 || p.Gain != 2.5 || p.TraceTau != 15*time.Millisecond || p.InputSeed != 9 {
		t.Fatalf("unexpected parameters: %+v", p)
	}
	if p.Seed != training.DefaultSpikingParameters().Seed {
		t.Fatalf("unexpected seed: got=%d want=%d", p.Seed, training.DefaultSpikingParameters().Seed)
	}
}

func TestLoadSweepRequestFromConfigNestedBase(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"dataset_id":   "flights",
		"buffer_sizes": []any{1, 3},
		"pca_dims":     []any{8},
		"workers":      2,
		"base": map[string]any{
			"units": 50,
			"alpha": 0.1,
		},
	})

	req, err := loadSweepRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(req.BufferSizes) != 2 || req.BufferSizes[1] != 3 || len(req.PCADims) != 1 || req.PCADims[0] != 8 {
		t.Fatalf("unexpected grid: sizes=%v dims=%v", req.BufferSizes, req.PCADims)
	}
	if req.Base.Units != 50 || req.Base.Alpha != 0.1 || req.Workers != 2 {
		t.Fatalf("unexpected base: %+v workers=%d", req.Base, req.Workers)
	}
}

func TestOverrideESNFromFlagsOnlyTouchesSetFlags(t *testing.T) {
	p := training.DefaultESNParameters()
	overrideESNFromFlags(&p, map[string]bool{"units": true, "seed": true}, map[string]any{
		"units": 16,
		"alpha": 99.0,
		"seed":  uint64(5),
	})
	if p.Units != 16 || p.Seed != 5 {
		t.Fatalf("expected overrides applied: %+v", p)
	}
	if p.Alpha != training.DefaultESNParameters().Alpha {
		t.Fatalf("unset flag changed alpha: got=%g", p.Alpha)
	}
}

func TestReducerType(t *testing.T) {
	got, err := reducerType("", 0)
	if err != nil || got != reducer.NullType() {
		t.Fatalf("unexpected default reducer: got=%v err=%v", got, err)
	}
	if _, err := reducerType("autoencoder", 4); err == nil {
		t.Fatal("expected unsupported reducer error")
	}
}

func TestAsHelpers(t *testing.T) {
	if v, ok := asUint64(-1.0); ok {
		t.Fatalf("expected negative seed rejected, got %d", v)
	}
	if v, ok := asIntSlice([]any{1.0, 2.0}); !ok || len(v) != 2 || v[1] != 2 {
		t.Fatalf("unexpected int slice: %v ok=%t", v, ok)
	}
	if _, ok := asIntSlice([]any{"x"}); ok {
		t.Fatal("expected non-numeric slice rejected")
	}
}
