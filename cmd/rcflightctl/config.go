package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"rcflight/internal/reducer"
	"rcflight/internal/training"
	api "rcflight/pkg/rcflight"
)

func readConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// esnParametersFromMap applies the recognized keys of raw on top of p.
func esnParametersFromMap(raw map[string]any, p training.ESNParameters) training.ESNParameters {
	if v, ok := asInt(raw["units"]); ok {
		p.Units = v
	}
	if v, ok := asFloat64(raw["connectivity"]); ok {
		p.Connectivity = v
	}
	if v, ok := asFloat64(raw["spectral_radius"]); ok {
		p.SpectralRadius = v
	}
	if v, ok := asFloat64(raw["input_scaling"]); ok {
		p.InputScaling = v
	}
	if v, ok := asInt(raw["lag"]); ok {
		p.Lag = v
	}
	if v, ok := asString(raw["reducer"]); ok {
		p.Reducer.Kind = v
	}
	if v, ok := asInt(raw["pca_components"]); ok {
		p.Reducer.MaxComponents = v
	}
	if v, ok := asBool(raw["use_setpoints"]); ok {
		p.UseSetpoints = v
	}
	if v, ok := asFloat64(raw["alpha"]); ok {
		p.Alpha = v
	}
	if v, ok := asUint64(raw["seed"]); ok {
		p.Seed = v
	}
	if v, ok := asFloat64(raw["control_period_ms"]); ok {
		p.ControlPeriod = millis(v)
	}
	return p
}

func spikingParametersFromMap(raw map[string]any, p training.SpikingParameters) training.SpikingParameters {
	if v, ok := asInt(raw["neurons"]); ok {
		p.Neurons = v
	}
	if v, ok := asFloat64(raw["connectivity"]); ok {
		p.Connectivity = v
	}
	if v, ok := asFloat64(raw["excitatory_fraction"]); ok {
		p.ExcitatoryFraction = v
	}
	if v, ok := asFloat64(raw["gain"]); ok {
		p.Gain = v
	}
	if v, ok := asFloat64(raw["alpha"]); ok {
		p.Alpha = v
	}
	if v, ok := asFloat64(raw["trace_tau_ms"]); ok {
		p.TraceTau = millis(v)
	}
	if v, ok := asFloat64(raw["control_period_ms"]); ok {
		p.ControlPeriod = millis(v)
	}
	if v, ok := asUint64(raw["seed"]); ok {
		p.Seed = v
	}
	if v, ok := asUint64(raw["input_seed"]); ok {
		p.InputSeed = v
	}
	return p
}

func loadESNRequestFromConfig(path string) (api.ESNRequest, error) {
	raw, err := readConfig(path)
	if err != nil {
		return api.ESNRequest{}, err
	}
	req := api.ESNRequest{Parameters: esnParametersFromMap(raw, training.DefaultESNParameters())}
	if v, ok := asString(raw["dataset_id"]); ok {
		req.DatasetID = v
	}
	if v, ok := asString(raw["controller_id"]); ok {
		req.ControllerID = v
	}
	if v, ok := asFloat64(raw["downsample_ms"]); ok {
		req.Downsample = millis(v)
	}
	return req, nil
}

func loadSpikingRequestFromConfig(path string) (api.SpikingRequest, error) {
	raw, err := readConfig(path)
	if err != nil {
		return api.SpikingRequest{}, err
	}
	req := api.SpikingRequest{Parameters: spikingParametersFromMap(raw, training.DefaultSpikingParameters())}
	if v, ok := asString(raw["dataset_id"]); ok {
		req.DatasetID = v
	}
	if v, ok := asString(raw["controller_id"]); ok {
		req.ControllerID = v
	}
	if v, ok := asFloat64(raw["downsample_ms"]); ok {
		req.Downsample = millis(v)
	}
	return req, nil
}

// loadSweepRequestFromConfig reads the sweep grid and the base echo state
// parameters, which may sit at the top level or under "base".
func loadSweepRequestFromConfig(path string) (api.SweepRequest, error) {
	raw, err := readConfig(path)
	if err != nil {
		return api.SweepRequest{}, err
	}
	baseRaw := raw
	if nested, ok := raw["base"].(map[string]any); ok {
		baseRaw = nested
	}
	req := api.SweepRequest{Base: esnParametersFromMap(baseRaw, training.DefaultESNParameters())}
	if v, ok := asString(raw["dataset_id"]); ok {
		req.DatasetID = v
	}
	if v, ok := asIntSlice(raw["buffer_sizes"]); ok {
		req.BufferSizes = v
	}
	if v, ok := asIntSlice(raw["pca_dims"]); ok {
		req.PCADims = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asFloat64(raw["downsample_ms"]); ok {
		req.Downsample = millis(v)
	}
	return req, nil
}

// overrideESNFromFlags applies explicitly set flags on top of a config file.
func overrideESNFromFlags(p *training.ESNParameters, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "units":
			p.Units = v.(int)
		case "connectivity":
			p.Connectivity = v.(float64)
		case "spectral-radius":
			p.SpectralRadius = v.(float64)
		case "input-scaling":
			p.InputScaling = v.(float64)
		case "lag":
			p.Lag = v.(int)
		case "reducer":
			p.Reducer.Kind = v.(string)
		case "pca":
			p.Reducer.MaxComponents = v.(int)
		case "setpoints":
			p.UseSetpoints = v.(bool)
		case "alpha":
			p.Alpha = v.(float64)
		case "seed":
			p.Seed = v.(uint64)
		case "control-period-ms":
			p.ControlPeriod = millis(v.(float64))
		}
	}
}

func overrideSpikingFromFlags(p *training.SpikingParameters, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "neurons":
			p.Neurons = v.(int)
		case "connectivity":
			p.Connectivity = v.(float64)
		case "excitatory":
			p.ExcitatoryFraction = v.(float64)
		case "gain":
			p.Gain = v.(float64)
		case "alpha":
			p.Alpha = v.(float64)
		case "trace-tau-ms":
			p.TraceTau = millis(v.(float64))
		case "control-period-ms":
			p.ControlPeriod = millis(v.(float64))
		case "seed":
			p.Seed = v.(uint64)
		case "input-seed":
			p.InputSeed = v.(uint64)
		}
	}
}

func reducerType(kind string, components int) (reducer.Type, error) {
	switch kind {
	case "", reducer.KindNull:
		return reducer.NullType(), nil
	case reducer.KindPCA:
		return reducer.PCAType(components), nil
	default:
		return reducer.Type{}, fmt.Errorf("unsupported reducer: %s", kind)
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	case float64:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asIntSlice(v any) ([]int, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := asInt(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
