// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme680

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/GermanBionicSystems/envsense/timing"
	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// DefaultAddress is the address with SDO pulled high, as on most breakout
// boards. Pulling SDO low selects 0x76.
const DefaultAddress uint16 = 0x77

const (
	regResHeatVal  byte = 0x00
	regFieldStatus byte = 0x1D
	regResHeat0    byte = 0x5A
	regGasWait0    byte = 0x64
	regCtrlGas1    byte = 0x71
	regCtrlHum     byte = 0x72
	regCtrlMeas    byte = 0x74
	regConfig      byte = 0x75
	regCoeff1      byte = 0x89
	regChipID      byte = 0xD0
	regCoeff2      byte = 0xE1
	regReset       byte = 0xE0

	chipID        byte = 0x61
	cmdSoftReset  byte = 0xB6
	modeForced    byte = 0x01
	runGas        byte = 0x10
	statusNewData byte = 0x80
	gasValid      byte = 0x20
	heatStable    byte = 0x10
)

const (
	coeff1Len = 25
	coeff2Len = 16
	fieldLen  = 15

	resetDelay = 10 * time.Millisecond
	pollDelay  = 10 * time.Millisecond
	maxPolls   = 10

	defaultAmbientC      = 25.0
	maxHeaterDuration    = 4032 * time.Millisecond
	maxHeaterTemperature = 400
)

// ErrNoData is returned when the chip did not flag a finished conversion.
var ErrNoData = errors.New("bme680: no new data")

// Oversampling is the number of samples averaged per reading.
type Oversampling byte

const (
	OversamplingOff Oversampling = iota
	Oversampling1x
	Oversampling2x
	Oversampling4x
	Oversampling8x
	Oversampling16x
)

func (o Oversampling) cycles() int {
	if o == OversamplingOff {
		return 0
	}
	return 1 << (o - 1)
}

// Filter is the IIR filter coefficient applied to temperature and pressure.
type Filter byte

const (
	FilterOff Filter = iota
	Filter1
	Filter3
	Filter7
	Filter15
	Filter31
	Filter63
	Filter127
)

// Driver is the register level interface to the chip.
type Driver interface {
	// Begin checks the device identity and loads its calibration.
	Begin() error
	SetOversampling(t, h, p Oversampling) error
	SetIIRFilterSize(f Filter) error
	// SetGasHeater configures the hot plate. A zero temperature or duration
	// disables gas measurements.
	SetGasHeater(celsius int, d time.Duration) error
	// PerformReading runs one forced mode conversion.
	PerformReading() error
	// Temperature is in °C.
	Temperature() float64
	// Humidity is in %RH.
	Humidity() float64
	// Pressure is in Pa.
	Pressure() float64
	// GasResistance is in Ω; NaN when the last reading had no valid gas
	// measurement.
	GasResistance() float64
}

type calibration struct {
	t1         uint16
	t2         int16
	t3         int8
	p1         uint16
	p2         int16
	p3         int8
	p4         int16
	p5         int16
	p6         int8
	p7         int8
	p8         int16
	p9         int16
	p10        uint8
	h1         uint16
	h2         uint16
	h3         int8
	h4         int8
	h5         int8
	h6         uint8
	h7         int8
	g1         int8
	g2         int16
	g3         int8
	heatRange  uint8
	heatVal    int8
	rangeSwErr int8
}

// I2CDriver is a Driver over I²C.
type I2CDriver struct {
	d    *i2c.Dev
	gate *timing.Gate
	cal  calibration

	osT, osH, osP Oversampling
	filter        Filter
	heaterC       int
	heaterDur     time.Duration

	haveReading bool
	temp        float64
	hum         float64
	pres        float64
	gas         float64
}

// NewI2CDriver returns a Driver talking to addr on b. A nil clk uses the
// system clock.
func NewI2CDriver(b i2c.Bus, addr uint16, clk clock.Clock) *I2CDriver {
	return &I2CDriver{
		d:    &i2c.Dev{Bus: b, Addr: addr},
		gate: timing.New(clk),
		osT:  Oversampling1x,
		osH:  Oversampling1x,
		osP:  Oversampling1x,
		temp: math.NaN(),
		hum:  math.NaN(),
		pres: math.NaN(),
		gas:  math.NaN(),
	}
}

func (d *I2CDriver) String() string {
	return fmt.Sprintf("BME680{%s}", d.d)
}

// Begin implements Driver.
func (d *I2CDriver) Begin() error {
	var id [1]byte
	if err := d.d.Tx([]byte{regChipID}, id[:]); err != nil {
		return fmt.Errorf("bme680: reading chip id: %w", err)
	}
	if id[0] != chipID {
		return fmt.Errorf("bme680: unexpected chip id %#x", id[0])
	}
	if err := d.write(regReset, cmdSoftReset); err != nil {
		return err
	}
	d.gate.Sleep(resetDelay)

	var c1 [coeff1Len]byte
	var c2 [coeff2Len]byte
	var c3 [5]byte
	if err := d.d.Tx([]byte{regCoeff1}, c1[:]); err != nil {
		return fmt.Errorf("bme680: reading calibration: %w", err)
	}
	if err := d.d.Tx([]byte{regCoeff2}, c2[:]); err != nil {
		return fmt.Errorf("bme680: reading calibration: %w", err)
	}
	if err := d.d.Tx([]byte{regResHeatVal}, c3[:]); err != nil {
		return fmt.Errorf("bme680: reading heater calibration: %w", err)
	}
	d.cal = parseCalibration(c1[:], c2[:], c3[:])
	return nil
}

func parseCalibration(c1, c2, c3 []byte) calibration {
	le := binary.LittleEndian
	return calibration{
		t1:         le.Uint16(c2[8:]),
		t2:         int16(le.Uint16(c1[1:])),
		t3:         int8(c1[3]),
		p1:         le.Uint16(c1[5:]),
		p2:         int16(le.Uint16(c1[7:])),
		p3:         int8(c1[9]),
		p4:         int16(le.Uint16(c1[11:])),
		p5:         int16(le.Uint16(c1[13:])),
		p7:         int8(c1[15]),
		p6:         int8(c1[16]),
		p8:         int16(le.Uint16(c1[19:])),
		p9:         int16(le.Uint16(c1[21:])),
		p10:        c1[23],
		h1:         uint16(c2[2])<<4 | uint16(c2[1]&0x0F),
		h2:         uint16(c2[0])<<4 | uint16(c2[1]>>4),
		h3:         int8(c2[3]),
		h4:         int8(c2[4]),
		h5:         int8(c2[5]),
		h6:         c2[6],
		h7:         int8(c2[7]),
		g2:         int16(le.Uint16(c2[10:])),
		g1:         int8(c2[12]),
		g3:         int8(c2[13]),
		heatVal:    int8(c3[0]),
		heatRange:  (c3[2] & 0x30) >> 4,
		rangeSwErr: int8(c3[4]&0xF0) / 16,
	}
}

// SetOversampling implements Driver.
func (d *I2CDriver) SetOversampling(t, h, p Oversampling) error {
	for _, o := range []Oversampling{t, h, p} {
		if o > Oversampling16x {
			return fmt.Errorf("bme680: invalid oversampling %d", o)
		}
	}
	d.osT, d.osH, d.osP = t, h, p
	return nil
}

// SetIIRFilterSize implements Driver.
func (d *I2CDriver) SetIIRFilterSize(f Filter) error {
	if f > Filter127 {
		return fmt.Errorf("bme680: invalid filter %d", f)
	}
	d.filter = f
	return nil
}

// SetGasHeater implements Driver.
func (d *I2CDriver) SetGasHeater(celsius int, dur time.Duration) error {
	if celsius < 0 || celsius > maxHeaterTemperature || dur < 0 || dur > maxHeaterDuration {
		return fmt.Errorf("bme680: invalid heater profile %d°C for %s", celsius, dur)
	}
	d.heaterC, d.heaterDur = celsius, dur
	return nil
}

func (d *I2CDriver) gasEnabled() bool {
	return d.heaterC > 0 && d.heaterDur > 0
}

// PerformReading implements Driver.
func (d *I2CDriver) PerformReading() error {
	if err := d.write(regCtrlHum, byte(d.osH)); err != nil {
		return err
	}
	if err := d.write(regConfig, byte(d.filter)<<2); err != nil {
		return err
	}
	if d.gasEnabled() {
		ambient := defaultAmbientC
		if d.haveReading {
			ambient = d.temp
		}
		if err := d.write(regResHeat0, d.cal.heaterResistance(float64(d.heaterC), ambient)); err != nil {
			return err
		}
		if err := d.write(regGasWait0, heaterDurationCode(d.heaterDur)); err != nil {
			return err
		}
		if err := d.write(regCtrlGas1, runGas); err != nil {
			return err
		}
	} else if err := d.write(regCtrlGas1, 0); err != nil {
		return err
	}
	if err := d.write(regCtrlMeas, byte(d.osT)<<5|byte(d.osP)<<2|modeForced); err != nil {
		return err
	}
	d.gate.Sleep(d.measureDuration())

	var f [fieldLen]byte
	for i := 0; ; i++ {
		if err := d.d.Tx([]byte{regFieldStatus}, f[:]); err != nil {
			return fmt.Errorf("bme680: reading data: %w", err)
		}
		if f[0]&statusNewData != 0 {
			break
		}
		if i == maxPolls {
			return ErrNoData
		}
		d.gate.Sleep(pollDelay)
	}

	adcP := uint32(f[2])<<12 | uint32(f[3])<<4 | uint32(f[4])>>4
	adcT := uint32(f[5])<<12 | uint32(f[6])<<4 | uint32(f[7])>>4
	adcH := uint16(f[8])<<8 | uint16(f[9])
	adcG := uint16(f[13])<<2 | uint16(f[14])>>6
	gasRange := f[14] & 0x0F

	tFine := d.cal.tFine(adcT)
	d.temp = tFine / 5120
	d.pres = d.cal.pressure(adcP, tFine)
	d.hum = d.cal.humidity(adcH, tFine)
	d.gas = math.NaN()
	if d.gasEnabled() && f[14]&gasValid != 0 && f[14]&heatStable != 0 {
		d.gas = d.cal.gasResistance(adcG, gasRange)
	}
	d.haveReading = true
	return nil
}

// Temperature implements Driver.
func (d *I2CDriver) Temperature() float64 { return d.temp }

// Humidity implements Driver.
func (d *I2CDriver) Humidity() float64 { return d.hum }

// Pressure implements Driver.
func (d *I2CDriver) Pressure() float64 { return d.pres }

// GasResistance implements Driver.
func (d *I2CDriver) GasResistance() float64 { return d.gas }

// Sense performs a reading and returns it as a physic.Env.
func (d *I2CDriver) Sense(e *physic.Env) error {
	if err := d.PerformReading(); err != nil {
		return err
	}
	e.Temperature = physic.ZeroCelsius + physic.Temperature(d.temp*float64(physic.Kelvin))
	e.Pressure = physic.Pressure(d.pres * float64(physic.Pascal))
	e.Humidity = physic.RelativeHumidity(d.hum * float64(physic.PercentRH))
	return nil
}

// measureDuration is the conversion time of one forced mode cycle,
// heater included.
func (d *I2CDriver) measureDuration() time.Duration {
	cycles := d.osT.cycles() + d.osP.cycles() + d.osH.cycles()
	us := cycles*1963 + 477*4 + 477*5 + 500
	dur := time.Duration(us/1000+1) * time.Millisecond
	if d.gasEnabled() {
		dur += d.heaterDur
	}
	return dur
}

func (d *I2CDriver) write(reg, v byte) error {
	if err := d.d.Tx([]byte{reg, v}, nil); err != nil {
		return fmt.Errorf("bme680: writing register %#x: %w", reg, err)
	}
	return nil
}

func (c *calibration) tFine(adc uint32) float64 {
	a := float64(adc)
	v1 := (a/16384 - float64(c.t1)/1024) * float64(c.t2)
	v2 := (a/131072 - float64(c.t1)/8192) * (a/131072 - float64(c.t1)/8192) * (float64(c.t3) * 16)
	return v1 + v2
}

func (c *calibration) pressure(adc uint32, tFine float64) float64 {
	v1 := tFine/2 - 64000
	v2 := v1 * v1 * (float64(c.p6) / 131072)
	v2 += v1 * float64(c.p5) * 2
	v2 = v2/4 + float64(c.p4)*65536
	v1 = (float64(c.p3)*v1*v1/16384 + float64(c.p2)*v1) / 524288
	v1 = (1 + v1/32768) * float64(c.p1)
	if v1 == 0 {
		return 0
	}
	p := 1048576 - float64(adc)
	p = (p - v2/4096) * 6250 / v1
	v1 = float64(c.p9) * p * p / 2147483648
	v2 = p * (float64(c.p8) / 32768)
	v3 := (p / 256) * (p / 256) * (p / 256) * (float64(c.p10) / 131072)
	return p + (v1+v2+v3+float64(c.p7)*128)/16
}

func (c *calibration) humidity(adc uint16, tFine float64) float64 {
	tc := tFine / 5120
	v1 := float64(adc) - (float64(c.h1)*16 + (float64(c.h3)/2)*tc)
	v2 := v1 * ((float64(c.h2) / 262144) * (1 + (float64(c.h4)/16384)*tc + (float64(c.h5)/1048576)*tc*tc))
	v3 := float64(c.h6) / 16384
	v4 := float64(c.h7) / 2097152
	h := v2 + (v3+v4*tc)*v2*v2
	return math.Max(0, math.Min(100, h))
}

var (
	gasK1 = [16]float64{0, 0, 0, 0, 0, -1, 0, -0.8, 0, 0, -0.2, -0.5, 0, -1, 0, 0}
	gasK2 = [16]float64{0, 0, 0, 0, 0.1, 0.7, 0, -0.8, -0.1, 0, 0, 0, 0, 0, 0, 0}
)

func (c *calibration) gasResistance(adc uint16, r byte) float64 {
	v1 := 1340 + 5*float64(c.rangeSwErr)
	v2 := v1 * (1 + gasK1[r]/100)
	v3 := 1 + gasK2[r]/100
	return 1 / (v3 * 0.000000125 * float64(uint32(1)<<r) * ((float64(adc)-512)/v2 + 1))
}

func (c *calibration) heaterResistance(target, ambient float64) byte {
	v1 := float64(c.g1)/16 + 49
	v2 := (float64(c.g2)/32768)*0.0005 + 0.00235
	v3 := float64(c.g3) / 1024
	v4 := v1 * (1 + v2*target)
	v5 := v4 + v3*ambient
	return byte(3.4 * (v5*(4/(4+float64(c.heatRange)))*(1/(1+float64(c.heatVal)*0.002)) - 25))
}

// heaterDurationCode encodes d as a 6 bit mantissa and a 2 bit multiplier
// of 1, 4, 16 or 64 ms.
func heaterDurationCode(d time.Duration) byte {
	ms := int(d / time.Millisecond)
	if ms >= 0xFC0 {
		return 0xFF
	}
	factor := 0
	for ms > 0x3F {
		ms /= 4
		factor++
	}
	return byte(ms + factor*64)
}

var _ Driver = &I2CDriver{}
