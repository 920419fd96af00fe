// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package terros12 reads the METER Group TEROS 12 soil moisture, temperature
// and electrical conductivity probe over SDI-12.
//
// # Datasheet
//
// http://publications.metergroup.com/Manuals/20587_TEROS11-12_Manual_Web.pdf
package terros12

import (
	"time"

	"github.com/GermanBionicSystems/envsense/sdi12"
	"github.com/GermanBionicSystems/envsense/sensor"
	"github.com/GermanBionicSystems/envsense/validate"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
)

// Name is the model name reported by Dev.Name.
const Name = "MeterGroupTerros12"

const (
	warmUp        = 245 * time.Millisecond
	stabilization = 0
	measurement   = 50 * time.Millisecond
)

// Slots of the values in a Result.
const (
	VWC = iota
	Temperature
	EC
)

// Variables lists the values reported by the probe.
var Variables = []sensor.Variable{
	{Slot: VWC, Name: "volumetricWaterContent", Unit: "percent", Code: "SoilVWC", Resolution: 3},
	{Slot: Temperature, Name: "temperature", Unit: "degreeCelsius", Code: "SoilTemp", Resolution: 1},
	{Slot: EC, Name: "bulkElectricalConductivity", Unit: "dS/m", Code: "SoilEC", Resolution: 3},
}

var schema = validate.Schema{
	Fields: []validate.Field{
		// Raw calibrated counts.
		{Name: "volumetricWaterContent", Range: validate.Range{Lo: 0, Hi: 1000}},
		{Name: "temperature", Range: validate.Range{Lo: -40, Hi: 60}},
		{Name: "bulkElectricalConductivity", Range: validate.AtLeast(0)},
	},
}

// Opts holds the configuration options for the probe.
type Opts struct {
	// PowerPin switches the probe supply. nil means permanently powered.
	PowerPin gpio.PinOut
	// MeasurementsToAverage defaults to 1.
	MeasurementsToAverage int
	// CRC requests CRC protected data responses.
	CRC bool
	// Clock defaults to the system clock.
	Clock clock.Clock
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// PollInterval is passed to sdi12.Opts.
	PollInterval time.Duration
}

// DefaultOpts holds the default configuration options.
var DefaultOpts = Opts{MeasurementsToAverage: 1}

// Dev is a TEROS 12 probe at one address of an SDI-12 bus.
type Dev struct {
	*sensor.Base
	probe *sdi12.Dev
	crc   bool
}

// New returns a probe at addr. The device is not contacted until Setup.
func New(bus sdi12.Bus, addr sdi12.Address, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	probe, err := sdi12.New(bus, addr, &sdi12.Opts{
		Clock:        opts.Clock,
		Logger:       opts.Logger,
		PollInterval: opts.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	cfg := sensor.Config{
		Name:                  Name,
		Location:              probe.String(),
		Variables:             Variables,
		WarmUp:                warmUp,
		Stabilization:         stabilization,
		Measurement:           measurement,
		PowerPin:              opts.PowerPin,
		MeasurementsToAverage: opts.MeasurementsToAverage,
	}
	return &Dev{
		Base:  sensor.NewBase(cfg, &sensor.Opts{Clock: opts.Clock, Logger: opts.Logger}),
		probe: probe,
		crc:   opts.CRC,
	}, nil
}

// Setup checks that the probe answers at its address.
func (d *Dev) Setup() error {
	return d.Base.Setup(d.probe.Acknowledge, nil)
}

// Collect runs the SDI-12 measurement exchange and validates the values.
func (d *Dev) Collect() validate.Result {
	defer d.FinishMeasurement()
	if !d.Status().MeasurementRequested() {
		return validate.Failed(schema.Len())
	}
	measure := d.probe.Measure
	if d.crc {
		measure = d.probe.MeasureCRC
	}
	raw, err := measure(len(schema.Fields))
	if err != nil {
		d.Logger().Warn("measurement failed", zap.Error(err))
	}
	return schema.Apply(raw)
}

// Identify returns the probe's identification, powering it for the duration
// of the call if needed.
func (d *Dev) Identify() (id sdi12.Identification, err error) {
	if !d.Status().PowerOn() {
		if err := d.PowerUp(); err != nil {
			return id, err
		}
		defer func() {
			err = multierr.Append(err, d.PowerDown())
		}()
	}
	d.WaitForWarmUp()
	return d.probe.Identify()
}

var _ sensor.Sensor = &Dev{}
