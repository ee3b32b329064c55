package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Channels holds the pilot stick positions, each typically in [-1, 1].
type Channels struct {
	Throttle float64 `json:"throttle"`
	Roll     float64 `json:"roll"`
	Pitch    float64 `json:"pitch"`
	Yaw      float64 `json:"yaw"`
}

// MotorCommand is the normalized output for the four motors.
type MotorCommand [4]float64

type Battery struct {
	Voltage      float64 `json:"voltage"`
	Current      float64 `json:"current"`
	CapacityUsed float64 `json:"capacity_used"`
}

// FlightSnapshot is a single logged control tick.
type FlightSnapshot struct {
	Time     time.Duration `json:"time"`
	Gyro     [3]float64    `json:"gyro"`
	Channels Channels      `json:"channels"`
	Motors   MotorCommand  `json:"motors"`
	Battery  Battery       `json:"battery"`
}

type FlightLog struct {
	VersionedRecord
	ID    string           `json:"id"`
	Steps []FlightSnapshot `json:"steps"`
}

// Downsample keeps the first snapshot and every following snapshot that is at
// least period later than the last kept one.
func (l *FlightLog) Downsample(period time.Duration) {
	if period <= 0 || len(l.Steps) == 0 {
		return
	}
	kept := l.Steps[:1]
	last := l.Steps[0].Time
	for _, step := range l.Steps[1:] {
		if step.Time-last >= period {
			kept = append(kept, step)
			last = step.Time
		}
	}
	l.Steps = kept
}

type Dataset struct {
	VersionedRecord
	ID    string      `json:"id"`
	Train []FlightLog `json:"train"`
	Test  []FlightLog `json:"test"`
}

func (d *Dataset) Downsample(period time.Duration) {
	for i := range d.Train {
		d.Train[i].Downsample(period)
	}
	for i := range d.Test {
		d.Test[i].Downsample(period)
	}
}

// Matrix is the row-major wire form of a dense matrix.
type Matrix struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

type RidgeRecord struct {
	Alpha     float64   `json:"alpha"`
	Fitted    bool      `json:"fitted"`
	Coeff     Matrix    `json:"coeff"`
	Intercept []float64 `json:"intercept"`
}

type ReducerRecord struct {
	Kind          string    `json:"kind"`
	MaxComponents int       `json:"max_components,omitempty"`
	Mean          []float64 `json:"mean,omitempty"`
	Components    Matrix    `json:"components"`
}

type EchoStateRecord struct {
	Units        int     `json:"units"`
	InputScaling float64 `json:"input_scaling"`
	Internal     Matrix  `json:"internal"`
	Input        Matrix  `json:"input"`
}

type IzhikevichRecord struct {
	A           []float64     `json:"a"`
	B           []float64     `json:"b"`
	C           []float64     `json:"c"`
	D           []float64     `json:"d"`
	V           []float64     `json:"v"`
	U           []float64     `json:"u"`
	Connections Matrix        `json:"connections"`
	Dt          time.Duration `json:"dt"`
}

type ESNControllerRecord struct {
	Reservoir     EchoStateRecord `json:"reservoir"`
	Lag           int             `json:"lag"`
	Reducer       ReducerRecord   `json:"reducer"`
	Readout       RidgeRecord     `json:"readout"`
	UseSetpoints  bool            `json:"use_setpoints"`
	ControlPeriod time.Duration   `json:"control_period"`
}

// SpikingControllerRecord stores the reservoir in the state every episode
// starts from.
type SpikingControllerRecord struct {
	Reservoir     IzhikevichRecord `json:"reservoir"`
	TraceDecay    float64          `json:"trace_decay"`
	InputWeights  Matrix           `json:"input_weights"`
	Gain          float64          `json:"gain"`
	Readout       RidgeRecord      `json:"readout"`
	ControlPeriod time.Duration    `json:"control_period"`
}

// ControllerRecord is the persisted form of a trained controller. Exactly one
// of ESN and Spiking is set, matching Kind.
type ControllerRecord struct {
	VersionedRecord
	ID           string                   `json:"id"`
	Kind         string                   `json:"kind"`
	CreatedAtUTC string                   `json:"created_at_utc,omitempty"`
	ESN          *ESNControllerRecord     `json:"esn,omitempty"`
	Spiking      *SpikingControllerRecord `json:"spiking,omitempty"`
}

type EpisodeScore struct {
	FlightLogID string  `json:"flight_log_id"`
	MSE         float64 `json:"mse"`
}

// EvaluationRecord stores the outcome of evaluating one controller.
type EvaluationRecord struct {
	ControllerID      string         `json:"controller_id"`
	DatasetID         string         `json:"dataset_id"`
	Parameters        string         `json:"parameters"`
	MeanMSE           float64        `json:"mean_mse"`
	Episodes          []EpisodeScore `json:"episodes,omitempty"`
	StabilizationRate *float64       `json:"stabilization_rate,omitempty"`
}
