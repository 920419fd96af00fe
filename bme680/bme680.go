// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bme680 reads the Bosch BME680 temperature, humidity, pressure and
// gas sensor.
//
// # Datasheet
//
// https://www.bosch-sensortec.com/media/boschsensortec/downloads/datasheets/bst-bme680-ds001.pdf
package bme680

import (
	"fmt"
	"math"
	"time"

	"github.com/GermanBionicSystems/envsense/sensor"
	"github.com/GermanBionicSystems/envsense/validate"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
)

// Name is the model name reported by Dev.Name.
const Name = "BoschBME680"

const (
	warmUp        = 100 * time.Millisecond
	stabilization = time.Second
	measurement   = 1100 * time.Millisecond
	wakeSettle    = 100 * time.Millisecond

	// A bad response often decodes to a very low temperature.
	minTemperature = -40
)

// Slots of the values in a Result.
const (
	Temperature = iota
	Humidity
	Pressure
	GasResistance
)

// Variables lists the values reported by the sensor.
var Variables = []sensor.Variable{
	{Slot: Temperature, Name: "temperature", Unit: "degreeCelsius", Code: "BoschBME680Temp", Resolution: 2},
	{Slot: Humidity, Name: "relativeHumidity", Unit: "percent", Code: "BoschBME680Humidity", Resolution: 3},
	{Slot: Pressure, Name: "barometricPressure", Unit: "pascal", Code: "BoschBME680Pressure", Resolution: 2},
	{Slot: GasResistance, Name: "gasResistance", Unit: "ohm", Code: "BoschBME680Gas", Resolution: 2},
}

var schema = validate.Schema{
	Fields: []validate.Field{
		{Name: "temperature", Range: validate.Range{Lo: minTemperature, Hi: 85}},
		{Name: "relativeHumidity", Range: validate.Range{Lo: 0, Hi: 100}},
		{Name: "barometricPressure", Range: validate.Range{Lo: 30000, Hi: 110000}},
		{Name: "gasResistance", Range: validate.AtLeast(0)},
	},
	NonResponse: func(raw []float64) bool {
		return validate.AllZero(raw) || raw[Temperature] < minTemperature
	},
}

// Profile is the sampling configuration applied after setup.
type Profile struct {
	Temperature Oversampling
	Humidity    Oversampling
	Pressure    Oversampling
	Filter      Filter
	// HeaterTemperature is in °C. Zero disables gas measurements.
	HeaterTemperature int
	HeaterDuration    time.Duration
}

// DefaultProfile oversamples temperature the most and heats the gas plate to
// 320°C for 150ms.
var DefaultProfile = Profile{
	Temperature:       Oversampling8x,
	Humidity:          Oversampling2x,
	Pressure:          Oversampling4x,
	Filter:            Filter3,
	HeaterTemperature: 320,
	HeaterDuration:    150 * time.Millisecond,
}

// Opts holds the configuration options for the sensor.
type Opts struct {
	// Address defaults to DefaultAddress.
	Address uint16
	// Profile defaults to DefaultProfile.
	Profile Profile
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
	Profile:               DefaultProfile,
	MeasurementsToAverage: 1,
}

// Dev is a BME680 sensor.
type Dev struct {
	*sensor.Base
	drv     Driver
	profile Profile
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
	profile := opts.Profile
	if profile == (Profile{}) {
		profile = DefaultProfile
	}
	return &Dev{
		Base:    sensor.NewBase(cfg, &sensor.Opts{Clock: opts.Clock, Logger: opts.Logger}),
		drv:     drv,
		profile: profile,
	}
}

// Setup reads the chip calibration and applies the sampling profile.
func (d *Dev) Setup() error {
	return d.Base.Setup(d.drv.Begin, d.configure)
}

// Wake gives the chip time to start up.
func (d *Dev) Wake() error {
	if err := d.Base.Wake(); err != nil {
		return err
	}
	d.Gate().Sleep(wakeSettle)
	return nil
}

// Collect runs a forced mode conversion and validates it.
func (d *Dev) Collect() validate.Result {
	defer d.FinishMeasurement()
	if !d.Status().MeasurementRequested() {
		return validate.Failed(schema.Len())
	}
	if err := d.drv.PerformReading(); err != nil {
		d.Logger().Warn("reading failed", zap.Error(err))
		return validate.Failed(schema.Len())
	}
	raw := []float64{d.drv.Temperature(), d.drv.Humidity(), d.drv.Pressure(), d.drv.GasResistance()}
	for i, v := range raw {
		if math.IsNaN(v) {
			raw[i] = validate.Missing
		}
	}
	res := schema.Apply(raw)
	d.Logger().Debug("measured", zap.Float64s("raw", raw), zap.Float64s("values", res.Values))
	return res
}

func (d *Dev) configure() error {
	p := d.profile
	if err := d.drv.SetOversampling(p.Temperature, p.Humidity, p.Pressure); err != nil {
		return err
	}
	if err := d.drv.SetIIRFilterSize(p.Filter); err != nil {
		return err
	}
	return d.drv.SetGasHeater(p.HeaterTemperature, p.HeaterDuration)
}

var _ sensor.Sensor = &Dev{}
