// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tsl2591 reads the AMS TSL2591 high dynamic range light sensor.
//
// The chip has two photodiodes: one responding to the full spectrum and one
// to infrared only. Visible light is their difference and illuminance is
// derived from both.
//
// # Datasheet
//
// https://ams.com/documents/20143/36005/TSL2591_DS000338_6-00.pdf
package tsl2591

import (
	"fmt"
	"time"

	"github.com/GermanBionicSystems/envsense/sensor"
	"github.com/GermanBionicSystems/envsense/validate"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

// Name is the model name reported by Dev.Name.
const Name = "AdafruitTSL2591"

const (
	warmUp        = 100 * time.Millisecond
	stabilization = 100 * time.Millisecond
	measurement   = 600 * time.Millisecond
	wakeSettle    = 100 * time.Millisecond
)

// Slots of the values in a Result.
const (
	FullSpectrum = iota
	Infrared
	Visible
	Illuminance
)

// Variables lists the values reported by the sensor.
var Variables = []sensor.Variable{
	{Slot: FullSpectrum, Name: "fullSpectrum", Unit: "rawADC", Code: "AdafruitTSL2591_FullSpectrum"},
	{Slot: Infrared, Name: "infrared", Unit: "rawADC", Code: "AdafruitTSL2591_Infrared"},
	{Slot: Visible, Name: "visible", Unit: "rawADC", Code: "AdafruitTSL2591_Visible"},
	{Slot: Illuminance, Name: "illuminance", Unit: "lux", Code: "AdafruitTSL2591_Illuminance", Resolution: 1},
}

// Opts holds the configuration options for the sensor.
type Opts struct {
	// Address defaults to DefaultAddress.
	Address     uint16
	Gain        Gain
	Integration Integration
	// PowerPin switches the sensor supply. nil means permanently powered.
	PowerPin              gpio.PinOut
	MeasurementsToAverage int
	// Clock defaults to the system clock.
	Clock clock.Clock
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultOpts holds the default configuration options.
var DefaultOpts = Opts{
	Address:               DefaultAddress,
	Gain:                  GainLow,
	Integration:           Integration100ms,
	MeasurementsToAverage: 1,
}

// Dev is a TSL2591 light sensor.
type Dev struct {
	*sensor.Base
	drv    Driver
	gain   Gain
	integ  Integration
	schema validate.Schema
}

// NewI2C returns a Dev talking to the chip over I²C. opts may be nil.
func NewI2C(b i2c.Bus, opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	addr := opts.Address
	if addr == 0 {
		addr = DefaultAddress
	}
	return New(NewI2CDriver(b, addr, opts.Clock), opts)
}

// New returns a Dev using drv. opts may be nil.
func New(drv Driver, opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	addr := opts.Address
	if addr == 0 {
		addr = DefaultAddress
	}
	cfg := sensor.Config{
		Name:                  Name,
		Location:              fmt.Sprintf("I2C_0x%x", addr),
		Variables:             Variables,
		WarmUp:                warmUp,
		Stabilization:         stabilization,
		Measurement:           measurement,
		PowerPin:              opts.PowerPin,
		MeasurementsToAverage: opts.MeasurementsToAverage,
	}
	d := &Dev{
		Base:  sensor.NewBase(cfg, &sensor.Opts{Clock: opts.Clock, Logger: opts.Logger}),
		drv:   drv,
		gain:  opts.Gain,
		integ: opts.Integration,
	}
	d.schema = validate.Schema{
		Fields: []validate.Field{
			{Name: "fullSpectrum", Range: validate.Any, RejectZero: true},
			{Name: "infrared", Range: validate.Any, RejectZero: true},
		},
		Derived: []validate.Derived{
			{
				Name:    "visible",
				Inputs:  []int{FullSpectrum, Infrared},
				Compute: func(in []float64) float64 { return in[0] - in[1] },
				// Counts; zero means nothing was read.
				Range: validate.AtLeast(1),
			},
			{
				Name:   "illuminance",
				Inputs: []int{FullSpectrum, Infrared},
				Compute: func(in []float64) float64 {
					return d.drv.CalculateLux(uint16(in[0]), uint16(in[1]))
				},
				// CalculateLux returns -1 on overflow.
				Range: validate.AtLeast(0),
			},
		},
	}
	return d
}

// Setup checks the chip identity and applies gain and integration time.
func (d *Dev) Setup() error {
	return d.Base.Setup(d.drv.Begin, d.configure)
}

// Wake gives the chip time to start up and restores its configuration,
// which is lost when power is cut.
func (d *Dev) Wake() error {
	if err := d.Base.Wake(); err != nil {
		return err
	}
	d.Gate().Sleep(wakeSettle)
	if err := d.configure(); err != nil {
		return fmt.Errorf("tsl2591: %s: wake: %w", d, err)
	}
	return nil
}

// Collect reads both channels and derives visible light and illuminance.
func (d *Dev) Collect() validate.Result {
	defer d.FinishMeasurement()
	if !d.Status().MeasurementRequested() {
		return validate.Failed(d.schema.Len())
	}
	lum, err := d.drv.FullLuminosity()
	if err != nil {
		d.Logger().Warn("reading luminosity failed", zap.Error(err))
		return validate.Failed(d.schema.Len())
	}
	full := float64(lum & 0xFFFF)
	ir := float64(lum >> 16)
	res := d.schema.Apply([]float64{full, ir})
	d.Logger().Debug("measured",
		zap.Float64("full", res.Values[FullSpectrum]),
		zap.Float64("ir", res.Values[Infrared]),
		zap.Float64("visible", res.Values[Visible]),
		zap.Float64("lux", res.Values[Illuminance]))
	return res
}

func (d *Dev) configure() error {
	if err := d.drv.SetGain(d.gain); err != nil {
		return err
	}
	return d.drv.SetTiming(d.integ)
}

var _ sensor.Sensor = &Dev{}
