// Package controller turns a trained reservoir and readout into a flight
// controller driven one snapshot at a time.
//
// Each controller instance owns its runtime state behind a mutex, so a shared
// handle may be passed around freely. Concurrent Update calls on the same
// instance are not supported; parallelism is across instances.
package controller

import (
	"errors"
	"fmt"
	"time"

	"rcflight/internal/linalg"
	"rcflight/internal/model"
)

const (
	KindESN     = "esn"
	KindSpiking = "izhikevich"

	DefaultControlPeriod = 10 * time.Millisecond
	// Motors is the width of a motor command.
	Motors = len(model.MotorCommand{})
)

var ErrUnknownKind = errors.New("unknown controller kind")

// FlightController is what a simulator or log replayer drives.
type FlightController interface {
	Init()
	Update(dt float64, s model.FlightSnapshot) (model.MotorCommand, error)
	ControlPeriod() time.Duration
}

// Controller is the closed set of trained controllers. Exactly one of ESN and
// Spiking is set, matching Kind.
type Controller struct {
	Kind    string
	ESN     *ESN
	Spiking *Spiking
}

var _ FlightController = Controller{}

func FromESN(c *ESN) Controller {
	return Controller{Kind: KindESN, ESN: c}
}

func FromSpiking(c *Spiking) Controller {
	return Controller{Kind: KindSpiking, Spiking: c}
}

func (c Controller) Init() {
	switch c.Kind {
	case KindESN:
		c.ESN.Init()
	case KindSpiking:
		c.Spiking.Init()
	}
}

func (c Controller) Update(dt float64, s model.FlightSnapshot) (model.MotorCommand, error) {
	switch c.Kind {
	case KindESN:
		return c.ESN.Update(dt, s)
	case KindSpiking:
		return c.Spiking.Update(dt, s)
	default:
		return model.MotorCommand{}, fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
}

func (c Controller) ControlPeriod() time.Duration {
	switch c.Kind {
	case KindESN:
		return c.ESN.ControlPeriod()
	case KindSpiking:
		return c.Spiking.ControlPeriod()
	default:
		return DefaultControlPeriod
	}
}

// Record converts the controller into its persisted form.
func (c Controller) Record(id string) (model.ControllerRecord, error) {
	rec := model.ControllerRecord{ID: id, Kind: c.Kind}
	switch c.Kind {
	case KindESN:
		esn := c.ESN.Record()
		rec.ESN = &esn
	case KindSpiking:
		spiking := c.Spiking.Record()
		rec.Spiking = &spiking
	default:
		return model.ControllerRecord{}, fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	return rec, nil
}

// FromRecord rebuilds a ready-to-run controller from its persisted form.
func FromRecord(rec model.ControllerRecord) (Controller, error) {
	switch rec.Kind {
	case KindESN:
		if rec.ESN == nil {
			return Controller{}, fmt.Errorf("controller %s: missing esn payload", rec.ID)
		}
		esn, err := ESNFromRecord(*rec.ESN)
		if err != nil {
			return Controller{}, fmt.Errorf("controller %s: %w", rec.ID, err)
		}
		return FromESN(esn), nil
	case KindSpiking:
		if rec.Spiking == nil {
			return Controller{}, fmt.Errorf("controller %s: missing spiking payload", rec.ID)
		}
		spiking, err := SpikingFromRecord(*rec.Spiking)
		if err != nil {
			return Controller{}, fmt.Errorf("controller %s: %w", rec.ID, err)
		}
		return FromSpiking(spiking), nil
	default:
		return Controller{}, fmt.Errorf("%w: %q", ErrUnknownKind, rec.Kind)
	}
}

// clampCommand maps a raw readout row onto a motor command in [0, 1].
func clampCommand(out []float64) (model.MotorCommand, error) {
	var cmd model.MotorCommand
	if len(out) != Motors {
		return cmd, fmt.Errorf("readout produced %d outputs, want %d", len(out), Motors)
	}
	for i, v := range out {
		cmd[i] = linalg.Clamp(v, 0, 1)
	}
	return cmd, nil
}
