// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tsl2591

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/envsense/timing"
	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/i2c"
)

// DefaultAddress is the fixed I²C address of the TSL2591.
const DefaultAddress uint16 = 0x29

const (
	cmdNormal byte = 0xA0

	regEnable  byte = 0x00
	regControl byte = 0x01
	regID      byte = 0x12
	regC0DataL byte = 0x14
	regC1DataL byte = 0x16

	enablePowerOff byte = 0x00
	enablePowerOn  byte = 0x01
	enableAEN      byte = 0x02
	enableAIEN     byte = 0x10
	enableNPIEN    byte = 0x80

	deviceID byte = 0x50

	// Lux coefficient.
	luxDF = 408.0
	// A saturated channel reads all ones.
	overflow = 0xFFFF
)

// Gain is the analog gain of both photodiode channels.
type Gain byte

const (
	GainLow    Gain = 0x00 // 1x
	GainMedium Gain = 0x10 // 25x
	GainHigh   Gain = 0x20 // 428x
	GainMax    Gain = 0x30 // 9876x
)

// Multiplier returns the nominal amplification.
func (g Gain) Multiplier() float64 {
	switch g {
	case GainMedium:
		return 25
	case GainHigh:
		return 428
	case GainMax:
		return 9876
	default:
		return 1
	}
}

func (g Gain) String() string {
	return fmt.Sprintf("%gx", g.Multiplier())
}

// Integration is the ADC integration time.
type Integration byte

const (
	Integration100ms Integration = iota
	Integration200ms
	Integration300ms
	Integration400ms
	Integration500ms
	Integration600ms
)

// Duration returns the integration time.
func (i Integration) Duration() time.Duration {
	return time.Duration(i+1) * 100 * time.Millisecond
}

func (i Integration) String() string {
	return i.Duration().String()
}

// Driver is the register level interface to the chip.
type Driver interface {
	// Begin checks the device identity.
	Begin() error
	SetGain(g Gain) error
	SetTiming(i Integration) error
	// FullLuminosity runs one integration cycle and returns the infrared
	// channel in the upper 16 bits and the full spectrum channel in the
	// lower 16 bits.
	FullLuminosity() (uint32, error)
	// CalculateLux converts raw channel counts to lux with the current gain
	// and integration time. It returns -1 when a channel saturated.
	CalculateLux(full, ir uint16) float64
}

// I2CDriver is a Driver over I²C.
type I2CDriver struct {
	d     *i2c.Dev
	gate  *timing.Gate
	gain  Gain
	integ Integration
}

// NewI2CDriver returns a Driver talking to addr on b. A nil clk uses the
// system clock.
func NewI2CDriver(b i2c.Bus, addr uint16, clk clock.Clock) *I2CDriver {
	return &I2CDriver{d: &i2c.Dev{Bus: b, Addr: addr}, gate: timing.New(clk)}
}

func (d *I2CDriver) String() string {
	return fmt.Sprintf("TSL2591{%s}", d.d)
}

// Begin implements Driver.
func (d *I2CDriver) Begin() error {
	var id [1]byte
	if err := d.d.Tx([]byte{cmdNormal | regID}, id[:]); err != nil {
		return fmt.Errorf("tsl2591: reading id: %w", err)
	}
	if id[0] != deviceID {
		return fmt.Errorf("tsl2591: unexpected device id %#x", id[0])
	}
	return d.disable()
}

// SetGain implements Driver.
func (d *I2CDriver) SetGain(g Gain) error {
	if err := d.writeControl(g, d.integ); err != nil {
		return err
	}
	d.gain = g
	return nil
}

// SetTiming implements Driver.
func (d *I2CDriver) SetTiming(i Integration) error {
	if i > Integration600ms {
		return fmt.Errorf("tsl2591: invalid integration time %d", i)
	}
	if err := d.writeControl(d.gain, i); err != nil {
		return err
	}
	d.integ = i
	return nil
}

// FullLuminosity implements Driver.
func (d *I2CDriver) FullLuminosity() (uint32, error) {
	if err := d.enable(); err != nil {
		return 0, err
	}
	// The first integration cycle completes after the configured time plus
	// a margin for the internal oscillator.
	d.gate.Sleep(time.Duration(d.integ+1) * 120 * time.Millisecond)
	var full, ir [2]byte
	if err := d.d.Tx([]byte{cmdNormal | regC0DataL}, full[:]); err != nil {
		return 0, fmt.Errorf("tsl2591: reading channel 0: %w", err)
	}
	if err := d.d.Tx([]byte{cmdNormal | regC1DataL}, ir[:]); err != nil {
		return 0, fmt.Errorf("tsl2591: reading channel 1: %w", err)
	}
	if err := d.disable(); err != nil {
		return 0, err
	}
	return uint32(binary.LittleEndian.Uint16(ir[:]))<<16 | uint32(binary.LittleEndian.Uint16(full[:])), nil
}

// CalculateLux implements Driver.
func (d *I2CDriver) CalculateLux(full, ir uint16) float64 {
	return calculateLux(full, ir, d.gain, d.integ)
}

func calculateLux(full, ir uint16, g Gain, i Integration) float64 {
	if full == overflow || ir == overflow {
		return -1
	}
	if full == 0 {
		return 0
	}
	atime := float64(i.Duration() / time.Millisecond)
	cpl := atime * g.Multiplier() / luxDF
	ch0, ch1 := float64(full), float64(ir)
	return (ch0 - ch1) * (1 - ch1/ch0) / cpl
}

func (d *I2CDriver) writeControl(g Gain, i Integration) error {
	if err := d.enable(); err != nil {
		return err
	}
	if err := d.write(regControl, byte(i)|byte(g)); err != nil {
		return err
	}
	return d.disable()
}

func (d *I2CDriver) enable() error {
	return d.write(regEnable, enablePowerOn|enableAEN|enableAIEN|enableNPIEN)
}

func (d *I2CDriver) disable() error {
	return d.write(regEnable, enablePowerOff)
}

func (d *I2CDriver) write(reg, v byte) error {
	if err := d.d.Tx([]byte{cmdNormal | reg, v}, nil); err != nil {
		return fmt.Errorf("tsl2591: writing register %#x: %w", reg, err)
	}
	return nil
}

var _ Driver = &I2CDriver{}
