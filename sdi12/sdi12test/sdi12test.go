// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sdi12test is meant to be used to test drivers over a fake SDI-12
// bus.
package sdi12test

import (
	"sync"
	"time"

	"github.com/GermanBionicSystems/envsense/sdi12"
	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/conntest"
)

// IO registers one command and the device's answer to it.
type IO struct {
	// W is the expected command, e.g. "0M!".
	W string
	// R is what the device answers right away, terminators included. Leave
	// empty for a silent device.
	R string
	// Interrupt is sent after Delay has passed on the Playback clock, to
	// emulate a service request.
	Interrupt string
	Delay     time.Duration
}

// Playback implements sdi12.Bus and plays back a recorded exchange.
//
// Set DontPanic to true to return an error instead of panicking, which is the
// default.
type Playback struct {
	sync.Mutex
	Ops       []IO
	Count     int
	DontPanic bool
	// Clock gates Interrupt delivery. When nil, interrupts are delivered as
	// soon as the immediate answer was read.
	Clock clock.Clock

	// Begins and Ends count bus claims and releases.
	Begins int
	Ends   int

	active    bool
	buf       []byte
	interrupt []byte
	due       time.Time
}

// Close verifies that all the expected Ops have been consumed and that the
// bus was released.
func (p *Playback) Close() error {
	p.Lock()
	defer p.Unlock()
	if len(p.Ops) != p.Count {
		return errorf(p.DontPanic, "sdi12test: expected playback to be empty: I/O count %d; expected %d", p.Count, len(p.Ops))
	}
	if p.active {
		return errorf(p.DontPanic, "sdi12test: bus left active")
	}
	return nil
}

// Begin implements sdi12.Bus.
func (p *Playback) Begin() error {
	p.Lock()
	defer p.Unlock()
	p.Begins++
	p.active = true
	return nil
}

// End implements sdi12.Bus.
func (p *Playback) End() error {
	p.Lock()
	defer p.Unlock()
	p.Ends++
	p.active = false
	return nil
}

// IsActive implements sdi12.Bus.
func (p *Playback) IsActive() bool {
	p.Lock()
	defer p.Unlock()
	return p.active
}

// SendCommand implements sdi12.Bus.
func (p *Playback) SendCommand(cmd string) error {
	p.Lock()
	defer p.Unlock()
	if !p.active {
		return errorf(p.DontPanic, "sdi12test: command %q on an inactive bus", cmd)
	}
	if len(p.Ops) <= p.Count {
		return errorf(p.DontPanic, "sdi12test: unexpected command (count #%d) %q", p.Count, cmd)
	}
	op := p.Ops[p.Count]
	if op.W != cmd {
		return errorf(p.DontPanic, "sdi12test: unexpected command (count #%d) %q != %q", p.Count, cmd, op.W)
	}
	p.Count++
	p.buf = []byte(op.R)
	p.interrupt = []byte(op.Interrupt)
	if p.Clock != nil {
		p.due = p.Clock.Now().Add(op.Delay)
	}
	return nil
}

// Available implements sdi12.Bus.
func (p *Playback) Available() int {
	p.Lock()
	defer p.Unlock()
	if len(p.buf) == 0 && len(p.interrupt) != 0 && (p.Clock == nil || !p.Clock.Now().Before(p.due)) {
		p.buf, p.interrupt = p.interrupt, nil
	}
	return len(p.buf)
}

// ReadByte implements sdi12.Bus.
func (p *Playback) ReadByte() (byte, error) {
	p.Lock()
	defer p.Unlock()
	if len(p.buf) == 0 {
		return 0, errorf(p.DontPanic, "sdi12test: read on empty buffer")
	}
	c := p.buf[0]
	p.buf = p.buf[1:]
	return c, nil
}

// ClearBuffer implements sdi12.Bus.
func (p *Playback) ClearBuffer() {
	p.Lock()
	defer p.Unlock()
	p.buf = nil
}

// errorf is the internal implementation that optionally panic.
//
// If dontPanic is false, it panics instead.
func errorf(dontPanic bool, format string, a ...interface{}) error {
	err := conntest.Errorf(format, a...)
	if !dontPanic {
		panic(err)
	}
	return err
}

var _ sdi12.Bus = &Playback{}
