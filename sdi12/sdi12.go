// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sdi12 talks to addressable sensors sharing an SDI-12 bus.
//
// Every command is prefixed with the single character address of one device
// and terminated by '!'. A measurement takes two exchanges:
//
//	-> 0M!          start a measurement on device '0'
//	<- 00082<CR><LF> device '0' needs 008 seconds and will return 2 values
//	<- 0<CR><LF>     optional service request: done early
//	-> 0D0!         retrieve the data
//	<- 0+23.5-12.0<CR><LF>
//
// Values in a data response are separated by their own sign character.
//
// The bus is a shared resource. Dev claims it at the beginning of every
// exchange and always releases it before returning, including on errors. Two
// Dev sharing a Bus must not be used concurrently; addresses must be unique
// on a bus, which this package does not check.
//
// # Protocol
//
// https://www.sdi-12.org/specification
package sdi12

import (
	"errors"
	"fmt"
)

// Bus is the byte oriented transport to an SDI-12 line.
type Bus interface {
	// Begin claims the bus. Calling it on an active bus is a no-op.
	Begin() error
	// End releases the bus.
	End() error
	// IsActive reports whether the bus is currently claimed.
	IsActive() bool
	// SendCommand wakes the line and transmits cmd.
	SendCommand(cmd string) error
	// Available returns the number of received bytes not yet read. It
	// never blocks.
	Available() int
	// ReadByte returns the next received byte.
	ReadByte() (byte, error)
	// ClearBuffer discards every received byte.
	ClearBuffer()
}

var (
	// ErrNoResponse is returned when a device did not answer at all.
	ErrNoResponse = errors.New("sdi12: no response")
	// ErrTimeout is returned when a response was not terminated in time.
	ErrTimeout = errors.New("sdi12: response timed out")
	// ErrNoData is returned when a device acknowledged a measurement that
	// produces no values.
	ErrNoData = errors.New("sdi12: device has no data")
	// ErrCRC is returned when a data response fails its CRC check.
	ErrCRC = errors.New("sdi12: crc mismatch")
	// ErrInvalidAddress is returned for characters that are not a valid
	// device address.
	ErrInvalidAddress = errors.New("sdi12: invalid address")
	// ErrInvalidCount is returned when a negative number of values is
	// requested.
	ErrInvalidCount = errors.New("sdi12: invalid value count")
)

// Address identifies one device on a bus: one of '0'-'9', 'a'-'z' or
// 'A'-'Z'.
type Address byte

// Valid reports whether a is a legal address.
func (a Address) Valid() bool {
	return (a >= '0' && a <= '9') || (a >= 'a' && a <= 'z') || (a >= 'A' && a <= 'Z')
}

func (a Address) String() string {
	return string(rune(a))
}

// ParseAddress parses a single character address.
func ParseAddress(s string) (Address, error) {
	if len(s) != 1 || !Address(s[0]).Valid() {
		return 0, fmt.Errorf("%w %q", ErrInvalidAddress, s)
	}
	return Address(s[0]), nil
}

// AddressFromInt maps 0-9 to '0'-'9', 10-35 to 'a'-'z' and 36-61 to 'A'-'Z'.
func AddressFromInt(n int) (Address, error) {
	switch {
	case n >= 0 && n <= 9:
		return Address('0' + n), nil
	case n >= 10 && n <= 35:
		return Address('a' + n - 10), nil
	case n >= 36 && n <= 61:
		return Address('A' + n - 36), nil
	}
	return 0, fmt.Errorf("%w %d", ErrInvalidAddress, n)
}
