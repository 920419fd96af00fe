// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensor sequences the power, warm-up, wake and measurement phases of
// an environmental sensor on a power-managed device.
//
// Every device driver embeds a Base, which owns the sensor's Status and its
// timing anchors, and implements Sensor. Nothing in this package blocks
// except the Wait* methods, which sleep at most for the configured
// warm-up, stabilization or measurement time.
//
// # Lifecycle
//
//	PowerUp -> WaitForWarmUp -> Setup (once) -> Wake -> WaitForStability ->
//	StartMeasurement -> WaitForMeasurementCompletion -> Collect -> PowerDown
//
// Update runs the whole cycle for one sensor.
package sensor

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/GermanBionicSystems/envsense/timing"
	"github.com/GermanBionicSystems/envsense/validate"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
)

// SetupAttempts is how many times Setup tries to initialize a device before
// flagging it as errored.
const SetupAttempts = 5

var (
	// ErrNotPowered is returned when an operation needs power that is not
	// applied.
	ErrNotPowered = errors.New("sensor: not powered")
	// ErrNotSetUp is returned when setup never succeeded or has errored.
	ErrNotSetUp = errors.New("sensor: setup not successful")
	// ErrNotAwake is returned when a measurement is started before Wake.
	ErrNotAwake = errors.New("sensor: not awake")
	// ErrSetupFailed is returned when every setup attempt failed.
	ErrSetupFailed = errors.New("sensor: setup failed")
)

// Sensor is implemented by every device driver.
type Sensor interface {
	fmt.Stringer
	// Name is the model name of the sensor, e.g. "MeterGroupTerros12".
	Name() string
	// Location describes where the sensor is attached, e.g. "I2C_0x29".
	Location() string
	Variables() []Variable
	Status() Status
	MeasurementsToAverage() int

	PowerUp() error
	PowerDown() error
	// Setup initializes the device. It powers the sensor for its duration
	// if needed and leaves the power as it found it.
	Setup() error
	Wake() error
	StartMeasurement() error
	// Collect harvests the pending measurement. It never fails: missing
	// data is reported as validate.Missing and Result.OK is false. The
	// measurement bits of Status are always cleared.
	Collect() validate.Result

	WaitForWarmUp()
	WaitForStability()
	WaitForMeasurementCompletion()
}

// Variable describes one reported value of a sensor.
type Variable struct {
	Slot int
	Name string
	Unit string
	Code string
	// Resolution is the number of decimal places worth reporting.
	Resolution int
}

// Format renders v at the variable's resolution. Missing values are
// rendered as the bare sentinel.
func (v Variable) Format(val float64) string {
	if !validate.Valid(val) {
		return strconv.Itoa(int(validate.Missing))
	}
	return strconv.FormatFloat(val, 'f', v.Resolution, 64)
}

// Config holds the fixed properties of a sensor.
type Config struct {
	Name      string
	Location  string
	Variables []Variable
	// WarmUp is the time after power on before the device answers.
	WarmUp time.Duration
	// Stabilization is the time after wake before readings are accurate.
	Stabilization time.Duration
	// Measurement is the time the device needs to complete a reading.
	Measurement time.Duration
	// PowerPin switches the sensor's supply. nil means permanently powered.
	PowerPin gpio.PinOut
	// MeasurementsToAverage is the number of readings Update averages.
	MeasurementsToAverage int
}

// Opts holds the runtime dependencies of a sensor.
type Opts struct {
	// Clock defaults to the system clock.
	Clock clock.Clock
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultOpts uses the system clock and discards logs.
var DefaultOpts = Opts{}

// Base implements the power sequencing and timing of a Sensor. Drivers embed
// it and add Setup, Wake and Collect.
type Base struct {
	cfg    Config
	gate   *timing.Gate
	log    *zap.Logger
	status Status

	poweredAt   timing.Anchor
	wokeAt      timing.Anchor
	requestedAt timing.Anchor
}

// NewBase returns a Base for cfg. opts may be nil.
func NewBase(cfg Config, opts *Opts) *Base {
	if opts == nil {
		opts = &DefaultOpts
	}
	if cfg.MeasurementsToAverage < 1 {
		cfg.MeasurementsToAverage = 1
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Base{
		cfg:  cfg,
		gate: timing.New(opts.Clock),
		log:  log.With(zap.String("sensor", cfg.Name), zap.String("location", cfg.Location)),
	}
}

// Name implements Sensor.
func (b *Base) Name() string { return b.cfg.Name }

// Location implements Sensor.
func (b *Base) Location() string { return b.cfg.Location }

// Variables implements Sensor.
func (b *Base) Variables() []Variable { return b.cfg.Variables }

// Status returns a snapshot of the status flags.
func (b *Base) Status() Status { return b.status }

// MeasurementsToAverage implements Sensor.
func (b *Base) MeasurementsToAverage() int { return b.cfg.MeasurementsToAverage }

// Gate returns the timing gate shared by the sensor and its driver.
func (b *Base) Gate() *timing.Gate { return b.gate }

// Logger returns the sensor's logger.
func (b *Base) Logger() *zap.Logger { return b.log }

func (b *Base) String() string {
	return b.cfg.Name + " at " + b.cfg.Location
}

// PowerUp applies power. Calling it on a powered sensor does nothing and
// does not restart the warm-up time.
func (b *Base) PowerUp() error {
	if b.status.PowerOn() {
		return nil
	}
	if b.cfg.PowerPin != nil {
		if err := b.cfg.PowerPin.Out(gpio.High); err != nil {
			return fmt.Errorf("sensor: %s: power up: %w", b, err)
		}
		b.log.Debug("powered up", zap.Stringer("pin", b.cfg.PowerPin))
	}
	b.gate.Arm(&b.poweredAt)
	b.status.powerUp()
	return nil
}

// PowerDown removes power and abandons any measurement in progress. A sensor
// without a power pin keeps its power and warm-up state, since it never
// actually loses power; only the measurement is abandoned.
func (b *Base) PowerDown() error {
	b.requestedAt.Clear()
	if b.cfg.PowerPin == nil {
		b.status.finishMeasurement()
		return nil
	}
	b.poweredAt.Clear()
	b.wokeAt.Clear()
	b.status.powerDown()
	if err := b.cfg.PowerPin.Out(gpio.Low); err != nil {
		return fmt.Errorf("sensor: %s: power down: %w", b, err)
	}
	b.log.Debug("powered down")
	return nil
}

// IsWarmedUp reports whether the device is ready to communicate.
func (b *Base) IsWarmedUp() bool {
	if !b.status.PowerOn() {
		return false
	}
	if b.gate.Elapsed(b.poweredAt, b.cfg.WarmUp) {
		b.status.set(WarmedUp)
		return true
	}
	return false
}

// WaitForWarmUp blocks for whatever part of the warm-up time is left.
func (b *Base) WaitForWarmUp() {
	if !b.status.PowerOn() {
		return
	}
	b.gate.Wait(b.poweredAt, b.cfg.WarmUp)
	b.status.set(WarmedUp)
}

// IsStable reports whether readings are accurate yet.
func (b *Base) IsStable() bool {
	if !b.status.PowerOn() || !b.wokeAt.Armed() {
		return false
	}
	if b.gate.Elapsed(b.wokeAt, b.cfg.Stabilization) {
		b.status.set(Stable)
		return true
	}
	return false
}

// WaitForStability blocks for whatever part of the stabilization time is
// left.
func (b *Base) WaitForStability() {
	if !b.status.PowerOn() || !b.wokeAt.Armed() {
		return
	}
	b.gate.Wait(b.wokeAt, b.cfg.Stabilization)
	b.status.set(Stable)
}

// IsMeasurementComplete reports whether the requested measurement can be
// collected.
func (b *Base) IsMeasurementComplete() bool {
	if !b.status.MeasurementRequested() {
		return false
	}
	if b.gate.Elapsed(b.requestedAt, b.cfg.Measurement) {
		return b.status.completeMeasurement()
	}
	return false
}

// WaitForMeasurementCompletion blocks for whatever part of the measurement
// time is left.
func (b *Base) WaitForMeasurementCompletion() {
	if !b.status.MeasurementRequested() {
		return
	}
	b.gate.Wait(b.requestedAt, b.cfg.Measurement)
	b.status.completeMeasurement()
}

// Setup runs begin up to SetupAttempts times, then configure once begin
// succeeded. The sensor is powered for the duration of the call if it was
// off, and powered back down afterwards.
//
// On failure SetupErrored is set and SetupSuccessful cleared. Setup is not
// retried by anything else; the caller decides if and when to call it again.
func (b *Base) Setup(begin, configure func() error) (err error) {
	wasOn := b.status.PowerOn()
	if !wasOn {
		if err := b.PowerUp(); err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, b.PowerDown())
		}()
	}
	b.WaitForWarmUp()

	var beginErr error
	attempts := 0
	for attempts < SetupAttempts {
		attempts++
		if beginErr = begin(); beginErr == nil {
			break
		}
		b.log.Debug("setup attempt failed", zap.Int("attempt", attempts), zap.Error(beginErr))
	}
	if beginErr == nil && configure != nil {
		beginErr = configure()
	}
	b.status.setupResult(beginErr == nil)
	if beginErr != nil {
		b.log.Warn("setup failed", zap.Int("attempts", attempts), zap.Error(beginErr))
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrSetupFailed, b, attempts, beginErr)
	}
	b.log.Debug("setup successful", zap.Int("attempts", attempts))
	return nil
}

// Wake records the wake time. It fails without side effects unless the
// sensor is powered and set up.
func (b *Base) Wake() error {
	if !b.status.PowerOn() {
		return fmt.Errorf("%w: %s cannot wake", ErrNotPowered, b)
	}
	if !b.status.SetupSuccessful() {
		return fmt.Errorf("%w: %s cannot wake", ErrNotSetUp, b)
	}
	b.gate.Arm(&b.wokeAt)
	b.status.clear(Stable)
	return nil
}

// StartMeasurement marks a measurement as requested. Drivers that must send
// a command to the device do so after calling it.
func (b *Base) StartMeasurement() error {
	switch {
	case !b.status.SetupSuccessful():
		return fmt.Errorf("%w: %s is not measuring", ErrNotSetUp, b)
	case !b.status.PowerOn():
		return fmt.Errorf("%w: %s is not measuring", ErrNotPowered, b)
	case !b.wokeAt.Armed():
		return fmt.Errorf("%w: %s is not measuring", ErrNotAwake, b)
	}
	b.gate.Arm(&b.requestedAt)
	b.status.requestMeasurement()
	return nil
}

// FinishMeasurement clears the measurement bits and anchor once results have
// been harvested, successfully or not.
func (b *Base) FinishMeasurement() {
	b.requestedAt.Clear()
	b.status.finishMeasurement()
}
