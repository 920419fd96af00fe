// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/GermanBionicSystems/envsense/sensor/sensortest"
	"github.com/GermanBionicSystems/envsense/validate"
	"go.uber.org/zap/zaptest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

var errNoAnswer = errors.New("no answer")

// fakeSensor answers setup after a number of failed attempts and returns
// canned readings.
type fakeSensor struct {
	*Base
	failures int
	begins   int
	readings [][]float64
	schema   validate.Schema
}

func (f *fakeSensor) begin() error {
	f.begins++
	if f.failures < 0 || f.begins <= f.failures {
		return errNoAnswer
	}
	return nil
}

func (f *fakeSensor) Setup() error {
	return f.Base.Setup(f.begin, nil)
}

func (f *fakeSensor) Collect() validate.Result {
	defer f.FinishMeasurement()
	if !f.Status().MeasurementRequested() || len(f.readings) == 0 {
		return validate.Failed(f.schema.Len())
	}
	r := f.readings[0]
	f.readings = f.readings[1:]
	return f.schema.Apply(r)
}

var _ Sensor = &fakeSensor{}

func newFake(t *testing.T, pin gpio.PinOut, failures int) (*fakeSensor, *sensortest.Clock) {
	clk := sensortest.NewClock()
	cfg := Config{
		Name:     "Fake",
		Location: "test",
		Variables: []Variable{
			{Slot: 0, Name: "temperature", Unit: "degreeCelsius", Resolution: 1},
			{Slot: 1, Name: "humidity", Unit: "percent", Resolution: 2},
		},
		WarmUp:        100 * time.Millisecond,
		Stabilization: time.Second,
		Measurement:   500 * time.Millisecond,
		PowerPin:      pin,
	}
	f := &fakeSensor{
		Base:     NewBase(cfg, &Opts{Clock: clk, Logger: zaptest.NewLogger(t)}),
		failures: failures,
		schema: validate.Schema{Fields: []validate.Field{
			{Name: "temperature", Range: validate.Range{Lo: -40, Hi: 60}},
			{Name: "humidity", Range: validate.Range{Lo: 0, Hi: 100}},
		}},
	}
	return f, clk
}

func TestStatusInvariants(t *testing.T) {
	var s Status
	if s.String() != "Off" {
		t.Errorf("String()=%q", s.String())
	}
	s.setupResult(true)
	s.setupResult(false)
	if s.SetupSuccessful() || !s.SetupErrored() {
		t.Errorf("setup flags not exclusive: %s", s)
	}
	s.setupResult(true)
	if !s.SetupSuccessful() || s.SetupErrored() {
		t.Errorf("setup flags not exclusive: %s", s)
	}
	if s.completeMeasurement() || s.MeasurementComplete() {
		t.Error("measurement completed without being requested")
	}
	s.powerUp()
	s.set(WarmedUp | Stable)
	s.requestMeasurement()
	if !s.completeMeasurement() {
		t.Fatal("completeMeasurement() failed")
	}
	if got := s.String(); got != "PowerOn|SetupSuccessful|WarmedUp|Stable|MeasurementRequested|MeasurementComplete" {
		t.Errorf("String()=%q", got)
	}
	s.powerDown()
	if s != Status(SetupSuccessful) {
		t.Errorf("powerDown() left %s", s)
	}
}

func TestPowerUpDown(t *testing.T) {
	pin := &gpiotest.Pin{N: "PWR"}
	f, clk := newFake(t, pin, 0)
	if err := f.PowerUp(); err != nil {
		t.Fatal(err)
	}
	if pin.L != gpio.High || !f.Status().PowerOn() {
		t.Fatalf("not powered: pin=%s status=%s", pin.L, f.Status())
	}
	if f.IsWarmedUp() {
		t.Error("warmed up immediately")
	}
	clk.Add(60 * time.Millisecond)
	// Powering up again must not restart the warm-up.
	if err := f.PowerUp(); err != nil {
		t.Fatal(err)
	}
	clk.Add(40 * time.Millisecond)
	if !f.IsWarmedUp() || !f.Status().WarmedUp() {
		t.Error("repeated PowerUp() restarted the warm-up")
	}

	if err := f.PowerDown(); err != nil {
		t.Fatal(err)
	}
	once := f.Status()
	if err := f.PowerDown(); err != nil {
		t.Fatal(err)
	}
	if f.Status() != once {
		t.Errorf("second PowerDown() changed status %s -> %s", once, f.Status())
	}
	if pin.L != gpio.Low || once.PowerOn() || once.WarmedUp() || once.Stable() {
		t.Errorf("PowerDown() left pin=%s status=%s", pin.L, once)
	}
}

func TestPowerDownAbandonsMeasurement(t *testing.T) {
	f, _ := newFake(t, &gpiotest.Pin{N: "PWR"}, 0)
	if err := f.Setup(); err != nil {
		t.Fatal(err)
	}
	if err := f.PowerUp(); err != nil {
		t.Fatal(err)
	}
	f.WaitForWarmUp()
	if err := f.Wake(); err != nil {
		t.Fatal(err)
	}
	if err := f.StartMeasurement(); err != nil {
		t.Fatal(err)
	}
	if err := f.PowerDown(); err != nil {
		t.Fatal(err)
	}
	if s := f.Status(); s.MeasurementRequested() || s.MeasurementComplete() {
		t.Errorf("measurement still pending after power down: %s", s)
	}
}

func TestWaitForWarmUp(t *testing.T) {
	f, clk := newFake(t, &gpiotest.Pin{N: "PWR"}, 0)
	f.WaitForWarmUp()
	if clk.Slept() != 0 {
		t.Errorf("waited %s on an unpowered sensor", clk.Slept())
	}
	if err := f.PowerUp(); err != nil {
		t.Fatal(err)
	}
	clk.Add(30 * time.Millisecond)
	f.WaitForWarmUp()
	if clk.Slept() != 70*time.Millisecond {
		t.Errorf("waited %s expected 70ms", clk.Slept())
	}
	if !f.Status().WarmedUp() {
		t.Error("WarmedUp not set")
	}
}

func TestSetupExhausted(t *testing.T) {
	pin := &gpiotest.Pin{N: "PWR"}
	f, _ := newFake(t, pin, -1)
	err := f.Setup()
	if !errors.Is(err, ErrSetupFailed) || !errors.Is(err, errNoAnswer) {
		t.Fatalf("Setup()=%v", err)
	}
	if f.begins != SetupAttempts {
		t.Errorf("begin called %d times, expected %d", f.begins, SetupAttempts)
	}
	s := f.Status()
	if !s.SetupErrored() || s.SetupSuccessful() {
		t.Errorf("status after failed setup: %s", s)
	}
	if s.PowerOn() || pin.L != gpio.Low {
		t.Errorf("Setup() left the sensor powered: %s", s)
	}
	if err := f.StartMeasurement(); !errors.Is(err, ErrNotSetUp) {
		t.Errorf("StartMeasurement() after failed setup=%v", err)
	}
	if _, err := Update(f); !errors.Is(err, ErrNotSetUp) {
		t.Errorf("Update() after failed setup=%v", err)
	}
}

func TestSetupRetry(t *testing.T) {
	f, _ := newFake(t, &gpiotest.Pin{N: "PWR"}, -1)
	if err := f.Setup(); err == nil {
		t.Fatal("expected failure")
	}
	// An external retry that succeeds on the third attempt clears the error.
	f.failures, f.begins = 2, 0
	if err := f.Setup(); err != nil {
		t.Fatal(err)
	}
	if f.begins != 3 {
		t.Errorf("begin called %d times", f.begins)
	}
	if s := f.Status(); !s.SetupSuccessful() || s.SetupErrored() {
		t.Errorf("status after successful retry: %s", s)
	}
}

func TestSetupKeepsPower(t *testing.T) {
	pin := &gpiotest.Pin{N: "PWR"}
	f, _ := newFake(t, pin, 0)
	if err := f.PowerUp(); err != nil {
		t.Fatal(err)
	}
	if err := f.Setup(); err != nil {
		t.Fatal(err)
	}
	if !f.Status().PowerOn() || pin.L != gpio.High {
		t.Errorf("Setup() turned off a sensor that was on: %s", f.Status())
	}
}

func TestWakePreconditions(t *testing.T) {
	f, _ := newFake(t, &gpiotest.Pin{N: "PWR"}, 0)
	if err := f.Wake(); !errors.Is(err, ErrNotPowered) {
		t.Errorf("Wake() unpowered=%v", err)
	}
	if err := f.PowerUp(); err != nil {
		t.Fatal(err)
	}
	before := f.Status()
	if err := f.Wake(); !errors.Is(err, ErrNotSetUp) {
		t.Errorf("Wake() before setup=%v", err)
	}
	if f.Status() != before {
		t.Errorf("failed Wake() changed status %s -> %s", before, f.Status())
	}
	if err := f.StartMeasurement(); !errors.Is(err, ErrNotSetUp) {
		t.Errorf("StartMeasurement() before setup=%v", err)
	}
	if err := f.Setup(); err != nil {
		t.Fatal(err)
	}
	if err := f.StartMeasurement(); !errors.Is(err, ErrNotAwake) {
		t.Errorf("StartMeasurement() before wake=%v", err)
	}
}

func TestMeasurementTiming(t *testing.T) {
	f, clk := newFake(t, nil, 0)
	if err := f.Setup(); err != nil {
		t.Fatal(err)
	}
	if err := f.Wake(); err != nil {
		t.Fatal(err)
	}
	if f.IsStable() {
		t.Error("stable right after wake")
	}
	f.WaitForStability()
	if !f.IsStable() {
		t.Error("not stable after WaitForStability()")
	}
	if err := f.StartMeasurement(); err != nil {
		t.Fatal(err)
	}
	if f.IsMeasurementComplete() {
		t.Error("measurement complete immediately")
	}
	clk.Add(500 * time.Millisecond)
	if !f.IsMeasurementComplete() || !f.Status().MeasurementComplete() {
		t.Error("measurement not complete after measurement time")
	}
	f.readings = [][]float64{{21.5, 40}}
	res := f.Collect()
	if !res.OK || res.Values[0] != 21.5 {
		t.Errorf("Collect()=%+v", res)
	}
	if s := f.Status(); s.MeasurementRequested() || s.MeasurementComplete() {
		t.Errorf("measurement bits not cleared: %s", s)
	}
	// Without a power pin the sensor stays powered.
	if err := f.PowerDown(); err != nil {
		t.Fatal(err)
	}
	if !f.Status().PowerOn() {
		t.Error("permanently powered sensor reported off")
	}
}

func TestUpdate(t *testing.T) {
	pin := &gpiotest.Pin{N: "PWR"}
	f, clk := newFake(t, pin, 0)
	f.cfg.MeasurementsToAverage = 3
	if err := f.Setup(); err != nil {
		t.Fatal(err)
	}
	f.readings = [][]float64{{20, 40}, {22, 200}, {0, 0}}
	res, err := Update(f)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Values[0] != 21 || res.Values[1] != 40 {
		t.Errorf("Update()=%+v", res)
	}
	if f.Status().PowerOn() || pin.L != gpio.Low {
		t.Errorf("Update() left the sensor powered: %s", f.Status())
	}
	// warm-up + stabilization + 3 measurements.
	if s := clk.Slept(); s < 100*time.Millisecond+time.Second+3*500*time.Millisecond {
		t.Errorf("Update() only waited %s", s)
	}
}

func TestVariableFormat(t *testing.T) {
	v := Variable{Resolution: 2}
	if s := v.Format(21.456); s != "21.46" {
		t.Errorf("Format()=%q", s)
	}
	if s := v.Format(validate.Missing); s != "-9999" {
		t.Errorf("Format(Missing)=%q", s)
	}
}
