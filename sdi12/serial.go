// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sdi12

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.bug.st/serial"
)

const (
	// A break of at least 12ms wakes every device on the line.
	breakDuration = 12 * time.Millisecond
	// Marking after the break, 8.33ms, rounded up.
	markingDuration = 9 * time.Millisecond
	// Read timeout used to poll the port without blocking for long.
	pollTimeout = time.Millisecond
)

// Mode is the SDI-12 line setting: 1200 baud, 7 data bits, even parity and
// one stop bit.
var Mode = serial.Mode{
	BaudRate: 1200,
	DataBits: 7,
	Parity:   serial.EvenParity,
	StopBits: serial.OneStopBit,
}

// SerialBus is a Bus over a serial port wired to an SDI-12 line through a
// level shifting adapter.
type SerialBus struct {
	mu     sync.Mutex
	port   serial.Port
	clk    clock.Clock
	buf    []byte
	active bool
}

// OpenSerial opens the named serial port with Mode.
func OpenSerial(name string) (*SerialBus, error) {
	m := Mode
	p, err := serial.Open(name, &m)
	if err != nil {
		return nil, fmt.Errorf("sdi12: opening %s: %w", name, err)
	}
	b, err := NewSerialBus(p, nil)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return b, nil
}

// NewSerialBus wraps an already open port. A nil clk uses the system clock.
func NewSerialBus(p serial.Port, clk clock.Clock) (*SerialBus, error) {
	if clk == nil {
		clk = clock.New()
	}
	if err := p.SetReadTimeout(pollTimeout); err != nil {
		return nil, fmt.Errorf("sdi12: setting read timeout: %w", err)
	}
	return &SerialBus{port: p, clk: clk}, nil
}

// Begin implements Bus.
func (b *SerialBus) Begin() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active {
		return nil
	}
	if err := b.port.ResetInputBuffer(); err != nil {
		return err
	}
	b.buf = b.buf[:0]
	b.active = true
	return nil
}

// End implements Bus.
func (b *SerialBus) End() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	return nil
}

// IsActive implements Bus.
func (b *SerialBus) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// SendCommand implements Bus.
func (b *SerialBus) SendCommand(cmd string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return fmt.Errorf("sdi12: sending %q on an inactive bus", cmd)
	}
	if err := b.port.Break(breakDuration); err != nil {
		return err
	}
	b.clk.Sleep(markingDuration)
	b.buf = b.buf[:0]
	if err := b.port.ResetInputBuffer(); err != nil {
		return err
	}
	if _, err := b.port.Write([]byte(cmd)); err != nil {
		return err
	}
	return b.port.Drain()
}

// Available implements Bus. It pulls whatever the port has received into
// the internal buffer.
func (b *SerialBus) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var tmp [64]byte
	for {
		n, err := b.port.Read(tmp[:])
		if n > 0 {
			b.buf = append(b.buf, tmp[:n]...)
		}
		if err != nil || n < len(tmp) {
			break
		}
	}
	return len(b.buf)
}

// ReadByte implements Bus.
func (b *SerialBus) ReadByte() (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return 0, fmt.Errorf("sdi12: read on empty buffer")
	}
	c := b.buf[0]
	b.buf = b.buf[1:]
	// Drop the parity bit some adapters pass through.
	return c & 0x7f, nil
}

// ClearBuffer implements Bus.
func (b *SerialBus) ClearBuffer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = b.buf[:0]
	_ = b.port.ResetInputBuffer()
}

// Close releases the serial port.
func (b *SerialBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	return b.port.Close()
}

var _ Bus = &SerialBus{}
