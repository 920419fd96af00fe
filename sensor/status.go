// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import "strings"

// Flag is one bit of a sensor's Status.
type Flag uint8

const (
	// PowerOn is set while power is applied to the sensor.
	PowerOn Flag = 1 << iota
	// SetupSuccessful is set once the device acknowledged initialization.
	SetupSuccessful
	// SetupErrored is set when initialization failed after every retry.
	SetupErrored
	// WarmedUp is set once the warm-up time has passed since power on.
	WarmedUp
	// Stable is set once the stabilization time has passed since wake.
	Stable
	// MeasurementRequested is set while a measurement is in progress.
	MeasurementRequested
	// MeasurementComplete is set once results may be collected.
	MeasurementComplete
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{PowerOn, "PowerOn"},
	{SetupSuccessful, "SetupSuccessful"},
	{SetupErrored, "SetupErrored"},
	{WarmedUp, "WarmedUp"},
	{Stable, "Stable"},
	{MeasurementRequested, "MeasurementRequested"},
	{MeasurementComplete, "MeasurementComplete"},
}

// Status is the state of a sensor as an 8 bit flag set.
//
// It can only be changed through the methods of Base, which keep it
// consistent: SetupSuccessful and SetupErrored are never both set,
// MeasurementComplete implies MeasurementRequested, and a sensor without
// power is neither warmed up, stable nor measuring.
type Status uint8

// Has reports whether every flag in f is set.
func (s Status) Has(f Flag) bool {
	return uint8(s)&uint8(f) == uint8(f)
}

// PowerOn reports whether the sensor is powered.
func (s Status) PowerOn() bool { return s.Has(PowerOn) }

// SetupSuccessful reports whether the last setup succeeded.
func (s Status) SetupSuccessful() bool { return s.Has(SetupSuccessful) }

// SetupErrored reports whether the last setup failed.
func (s Status) SetupErrored() bool { return s.Has(SetupErrored) }

// WarmedUp reports whether the warm-up time has passed since power on.
func (s Status) WarmedUp() bool { return s.Has(WarmedUp) }

// Stable reports whether the stabilization time has passed since wake.
func (s Status) Stable() bool { return s.Has(Stable) }

// MeasurementRequested reports whether a measurement is pending.
func (s Status) MeasurementRequested() bool { return s.Has(MeasurementRequested) }

// MeasurementComplete reports whether the pending measurement is ready.
func (s Status) MeasurementComplete() bool { return s.Has(MeasurementComplete) }

func (s Status) String() string {
	if s == 0 {
		return "Off"
	}
	var names []string
	for _, n := range flagNames {
		if s.Has(n.f) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

func (s *Status) set(f Flag)   { *s |= Status(f) }
func (s *Status) clear(f Flag) { *s &^= Status(f) }

func (s *Status) setupResult(ok bool) {
	if ok {
		s.clear(SetupErrored)
		s.set(SetupSuccessful)
	} else {
		s.clear(SetupSuccessful)
		s.set(SetupErrored)
	}
}

func (s *Status) powerUp() {
	s.set(PowerOn)
}

func (s *Status) powerDown() {
	s.clear(PowerOn | WarmedUp | Stable)
	s.finishMeasurement()
}

func (s *Status) requestMeasurement() {
	s.clear(MeasurementComplete)
	s.set(MeasurementRequested)
}

func (s *Status) completeMeasurement() bool {
	if !s.Has(MeasurementRequested) {
		return false
	}
	s.set(MeasurementComplete)
	return true
}

func (s *Status) finishMeasurement() {
	s.clear(MeasurementRequested | MeasurementComplete)
}
