// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sdi12_test

import (
	"errors"
	"testing"
	"time"

	"github.com/GermanBionicSystems/envsense/common"
	"github.com/GermanBionicSystems/envsense/sdi12"
	"github.com/GermanBionicSystems/envsense/sdi12/sdi12test"
	"github.com/GermanBionicSystems/envsense/sensor/sensortest"
	"github.com/GermanBionicSystems/envsense/validate"
	"go.uber.org/zap/zaptest"
)

func newDev(t *testing.T, ops ...sdi12test.IO) (*sdi12.Dev, *sdi12test.Playback, *sensortest.Clock) {
	clk := sensortest.NewClock()
	bus := &sdi12test.Playback{Ops: ops, Clock: clk, DontPanic: true}
	d, err := sdi12.New(bus, '0', &sdi12.Opts{Clock: clk, Logger: zaptest.NewLogger(t), PollInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	return d, bus, clk
}

func checkReleased(t *testing.T, bus *sdi12test.Playback) {
	t.Helper()
	if err := bus.Close(); err != nil {
		t.Error(err)
	}
	if bus.Begins != bus.Ends {
		t.Errorf("bus claimed %d times, released %d times", bus.Begins, bus.Ends)
	}
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewInvalidAddress(t *testing.T) {
	if _, err := sdi12.New(&sdi12test.Playback{}, '#', nil); !errors.Is(err, sdi12.ErrInvalidAddress) {
		t.Fatalf("New() expected ErrInvalidAddress, got %v", err)
	}
}

func TestMeasure(t *testing.T) {
	d, bus, clk := newDev(t,
		sdi12test.IO{W: "0M!", R: "00082\r\n"},
		sdi12test.IO{W: "0D0!", R: "0+23.5-12.0\r\n"},
	)
	got, err := d.Measure(2)
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{23.5, -12}; !equal(got, want) {
		t.Errorf("Measure()=%v expected %v", got, want)
	}
	if s := clk.Slept(); s < 8*time.Second {
		t.Errorf("returned after %s without a service request", s)
	}
	checkReleased(t, bus)
}

func TestMeasureServiceRequest(t *testing.T) {
	d, bus, clk := newDev(t,
		sdi12test.IO{W: "0M!", R: "00082\r\n", Interrupt: "0\r\n", Delay: 2 * time.Second},
		sdi12test.IO{W: "0D0!", R: "0+23.5-12.0\r\n"},
	)
	got, err := d.Measure(2)
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{23.5, -12}; !equal(got, want) {
		t.Errorf("Measure()=%v expected %v", got, want)
	}
	if s := clk.Slept(); s < 2*time.Second || s >= 8*time.Second {
		t.Errorf("waited %s, expected the service request to end the wait at 2s", s)
	}
	checkReleased(t, bus)
}

func TestMeasureShortData(t *testing.T) {
	d, bus, _ := newDev(t,
		sdi12test.IO{W: "0M!", R: "00003\r\n"},
		sdi12test.IO{W: "0D0!", R: "0+1.5+2\r\n"},
	)
	got, err := d.Measure(3)
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{1.5, 2, validate.Missing}; !equal(got, want) {
		t.Errorf("Measure()=%v expected %v", got, want)
	}
	checkReleased(t, bus)
}

func TestMeasureNoResponse(t *testing.T) {
	d, bus, _ := newDev(t, sdi12test.IO{W: "0M!"})
	got, err := d.Measure(3)
	if !errors.Is(err, sdi12.ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
	if !equal(got, validate.Failed(3).Values) {
		t.Errorf("Measure()=%v", got)
	}
	checkReleased(t, bus)
}

func TestMeasureMalformedAck(t *testing.T) {
	d, bus, _ := newDev(t, sdi12test.IO{W: "0M!", R: "0008\r\n"})
	got, err := d.Measure(2)
	var ae *sdi12.AckError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AckError, got %v", err)
	}
	if len(got) != 2 || got[0] != validate.Missing {
		t.Errorf("Measure()=%v", got)
	}
	checkReleased(t, bus)
}

func TestMeasurePartialAck(t *testing.T) {
	d, bus, _ := newDev(t, sdi12test.IO{W: "0M!", R: "00"})
	if _, err := d.Measure(2); !errors.Is(err, sdi12.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	checkReleased(t, bus)
}

func TestMeasureNoData(t *testing.T) {
	d, bus, _ := newDev(t, sdi12test.IO{W: "0M!", R: "00000\r\n"})
	if _, err := d.Measure(2); !errors.Is(err, sdi12.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	checkReleased(t, bus)
}

func TestMeasureCRC(t *testing.T) {
	body := "0+3.14+2"
	enc := common.EncodeCRC(common.CRC16([]byte(body)))
	d, bus, _ := newDev(t,
		sdi12test.IO{W: "0MC!", R: "00012\r\n"},
		sdi12test.IO{W: "0D0!", R: body + string(enc[:]) + "\r\n"},
		sdi12test.IO{W: "0MC!", R: "00012\r\n"},
		sdi12test.IO{W: "0D0!", R: body + "@@@\r\n"},
	)
	got, err := d.MeasureCRC(2)
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{3.14, 2}; !equal(got, want) {
		t.Errorf("MeasureCRC()=%v expected %v", got, want)
	}
	got, err = d.MeasureCRC(2)
	if !errors.Is(err, sdi12.ErrCRC) {
		t.Fatalf("expected ErrCRC, got %v", err)
	}
	if !equal(got, validate.Failed(2).Values) {
		t.Errorf("MeasureCRC()=%v", got)
	}
	checkReleased(t, bus)
}

func TestAcknowledge(t *testing.T) {
	d, bus, _ := newDev(t,
		sdi12test.IO{W: "0!", R: "0\r\n"},
		sdi12test.IO{W: "0!", R: "1\r\n"},
		sdi12test.IO{W: "0!"},
	)
	if err := d.Acknowledge(); err != nil {
		t.Fatal(err)
	}
	if err := d.Acknowledge(); err == nil {
		t.Error("expected error on foreign acknowledgement")
	}
	if err := d.Acknowledge(); !errors.Is(err, sdi12.ErrNoResponse) {
		t.Errorf("expected ErrNoResponse, got %v", err)
	}
	checkReleased(t, bus)
}

func TestIdentify(t *testing.T) {
	d, bus, _ := newDev(t, sdi12test.IO{W: "0I!", R: "013METER   TER12 112T12-00012345\r\n"})
	id, err := d.Identify()
	if err != nil {
		t.Fatal(err)
	}
	if id.Vendor != "METER" || id.Model != "TER12" || id.Protocol != "1.3" {
		t.Errorf("Identify()=%+v", id)
	}
	checkReleased(t, bus)
}

func TestClaimActiveBus(t *testing.T) {
	d, bus, _ := newDev(t, sdi12test.IO{W: "0!", R: "0\r\n"})
	if err := bus.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := d.Acknowledge(); err != nil {
		t.Fatal(err)
	}
	if bus.Begins != 1 {
		t.Errorf("active bus claimed again: %d", bus.Begins)
	}
	if bus.IsActive() {
		t.Error("bus not released")
	}
}

func TestMeasureNegativeCount(t *testing.T) {
	d, bus, _ := newDev(t)
	if _, err := d.Measure(-1); !errors.Is(err, sdi12.ErrInvalidCount) {
		t.Fatalf("expected ErrInvalidCount, got %v", err)
	}
	if _, err := d.MeasureCRC(-3); !errors.Is(err, sdi12.ErrInvalidCount) {
		t.Fatalf("expected ErrInvalidCount, got %v", err)
	}
	if bus.Begins != 0 {
		t.Error("bus claimed for an invalid request")
	}
	checkReleased(t, bus)
}
