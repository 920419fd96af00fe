// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sdi12

import (
	"errors"
	"fmt"
	"time"

	"github.com/GermanBionicSystems/envsense/common"
	"github.com/GermanBionicSystems/envsense/timing"
	"github.com/GermanBionicSystems/envsense/validate"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// A device must start answering within 15ms; allow for slow adapters.
	ackTimeout = 100 * time.Millisecond
	// Quiet time after the service wait, before the data command.
	settleDelay = 30 * time.Millisecond
	// Upper bound for a full data line, including transfer time at 1200
	// baud for 75 characters.
	dataTimeout = 1800 * time.Millisecond
)

// Opts holds the configuration options for a Dev.
type Opts struct {
	// Clock defaults to the system clock.
	Clock clock.Clock
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// PollInterval is the delay between two checks of the bus while
	// waiting for a response. Default is 10ms.
	PollInterval time.Duration
}

// DefaultOpts holds the default configuration options.
var DefaultOpts = Opts{PollInterval: 10 * time.Millisecond}

// Dev is one addressed device on an SDI-12 bus.
type Dev struct {
	bus  Bus
	addr Address
	gate *timing.Gate
	log  *zap.Logger
	poll time.Duration
}

// New returns a Dev talking to addr on bus. opts may be nil.
func New(bus Bus, addr Address, opts *Opts) (*Dev, error) {
	if !addr.Valid() {
		return nil, fmt.Errorf("%w %q", ErrInvalidAddress, byte(addr))
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{
		bus:  bus,
		addr: addr,
		gate: timing.New(opts.Clock),
		log:  opts.Logger,
		poll: opts.PollInterval,
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	d.log = d.log.With(zap.Stringer("sdi12", addr))
	if d.poll <= 0 {
		d.poll = DefaultOpts.PollInterval
	}
	return d, nil
}

// Address returns the device address.
func (d *Dev) Address() Address {
	return d.addr
}

func (d *Dev) String() string {
	return "SDI12-" + d.addr.String()
}

// Acknowledge checks that the device is present and answering.
func (d *Dev) Acknowledge() (err error) {
	release, err := d.claim()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, release()) }()

	line, err := d.command("", ackTimeout)
	if err != nil {
		return err
	}
	if line != d.addr.String() {
		return fmt.Errorf("sdi12: unexpected acknowledgement %q from %s", line, d)
	}
	return nil
}

// Identify asks the device for its vendor, model and version.
func (d *Dev) Identify() (id Identification, err error) {
	release, err := d.claim()
	if err != nil {
		return id, err
	}
	defer func() { err = multierr.Append(err, release()) }()

	line, err := d.command("I", dataTimeout)
	if err != nil {
		return id, err
	}
	return ParseIdentification(line)
}

// Measure takes a measurement and returns exactly n values.
//
// It sends the measurement command, waits at most the time the device
// announced (less if the device signals it is done), then retrieves and
// parses the data. Values the device did not send are validate.Missing.
// On error the values are still returned; they are Missing from the point
// where the exchange failed.
func (d *Dev) Measure(n int) ([]float64, error) {
	return d.measure("M", n, false)
}

// MeasureCRC is Measure using the CRC protected command. A response failing
// its CRC check yields only Missing values and ErrCRC.
func (d *Dev) MeasureCRC(n int) ([]float64, error) {
	return d.measure("MC", n, true)
}

func (d *Dev) measure(cmd string, n int, crc bool) (values []float64, err error) {
	if n < 0 {
		return nil, fmt.Errorf("%w %d", ErrInvalidCount, n)
	}
	values = missing(n)
	release, err := d.claim()
	if err != nil {
		return values, err
	}
	defer func() { err = multierr.Append(err, release()) }()

	line, err := d.command(cmd, ackTimeout)
	if err != nil {
		return values, err
	}
	ack, err := ParseAck(line)
	if err != nil {
		return values, err
	}
	if ack.Address != d.addr {
		return values, &AckError{Line: line, Reason: "answered by another address"}
	}
	d.log.Debug("acknowledged", zap.Duration("wait", ack.Wait), zap.Int("count", ack.Count))
	if ack.Count == 0 {
		return values, fmt.Errorf("%w: %s", ErrNoData, d)
	}
	if ack.Count != n {
		d.log.Debug("unexpected value count", zap.Int("announced", ack.Count), zap.Int("expected", n))
	}
	d.waitForService(ack.Wait)

	line, err = d.command("D0", dataTimeout)
	if err != nil && !errors.Is(err, ErrTimeout) {
		return values, err
	}
	if len(line) == 0 {
		return values, err
	}
	if Address(line[0]) != d.addr {
		d.log.Debug("data echoed another address", zap.String("line", line))
	}
	if crc {
		body, ok := checkCRC(line)
		if !ok {
			return values, fmt.Errorf("%w in %q from %s", ErrCRC, line, d)
		}
		line = body
	}
	values = ParseValues(line[1:], n)
	d.log.Debug("data", zap.String("line", line), zap.Float64s("values", values))
	return values, err
}

// claim takes the bus unless it is already held and returns the function
// that empties and releases it.
func (d *Dev) claim() (func() error, error) {
	if !d.bus.IsActive() {
		if err := d.bus.Begin(); err != nil {
			return nil, fmt.Errorf("sdi12: claiming bus for %s: %w", d, err)
		}
	}
	d.bus.ClearBuffer()
	return func() error {
		d.bus.ClearBuffer()
		if err := d.bus.End(); err != nil {
			return fmt.Errorf("sdi12: releasing bus for %s: %w", d, err)
		}
		return nil
	}, nil
}

// command sends "<addr><cmd>!" and returns the response line without its
// terminator.
func (d *Dev) command(cmd string, timeout time.Duration) (string, error) {
	full := d.addr.String() + cmd + "!"
	d.log.Debug("command", zap.String("cmd", full))
	if err := d.bus.SendCommand(full); err != nil {
		return "", fmt.Errorf("sdi12: sending %q: %w", full, err)
	}
	line, err := d.readLine(timeout)
	d.log.Debug("response", zap.String("line", line), zap.Error(err))
	if err != nil {
		err = fmt.Errorf("%w: %q to %s", err, full, d)
	}
	return line, err
}

// readLine collects bytes until LF or until timeout. CR and LF are not
// stored. A partial line is returned along with ErrTimeout.
func (d *Dev) readLine(timeout time.Duration) (string, error) {
	var line []byte
	dl := d.gate.NewDeadline(timeout)
	for {
		for d.bus.Available() > 0 {
			c, err := d.bus.ReadByte()
			if err != nil {
				return string(line), fmt.Errorf("sdi12: read: %w", err)
			}
			switch c {
			case '\n':
				return string(line), nil
			case '\r':
			default:
				line = append(line, c)
			}
		}
		if dl.Expired() {
			if len(line) == 0 {
				return "", ErrNoResponse
			}
			return string(line), ErrTimeout
		}
		d.gate.Sleep(d.poll)
	}
}

// waitForService waits up to wait for the device to finish. The device may
// interrupt the wait with a service request once its data is ready.
func (d *Dev) waitForService(wait time.Duration) {
	dl := d.gate.NewDeadline(wait)
	for !dl.Expired() {
		if d.bus.Available() > 0 {
			d.log.Debug("service request", zap.Duration("after", dl.Elapsed()))
			break
		}
		d.gate.Sleep(d.poll)
	}
	d.gate.Sleep(settleDelay)
	d.bus.ClearBuffer()
}

// checkCRC verifies and strips the 3 character CRC of a data line.
func checkCRC(line string) (string, bool) {
	if len(line) < 4 {
		return line, false
	}
	body := line[:len(line)-3]
	enc := common.EncodeCRC(common.CRC16([]byte(body)))
	return body, string(enc[:]) == line[len(line)-3:]
}

func missing(n int) []float64 {
	return validate.Failed(n).Values
}
