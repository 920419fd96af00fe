// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package timing answers "has enough time passed yet" for power-managed
// sensors without blocking the caller.
//
// Time is kept as a 32 bit count of milliseconds since the Gate was created.
// Elapsed time is always computed with unsigned subtraction, so a counter
// rollover (every ~49.7 days) does not produce a spurious result.
package timing

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Gate reads a monotonic clock and evaluates Anchors against it.
type Gate struct {
	clk   clock.Clock
	epoch time.Time
}

// New returns a Gate reading clk. A nil clk uses the system clock.
func New(clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{clk: clk, epoch: clk.Now()}
}

// Clock returns the clock the gate reads.
func (g *Gate) Clock() clock.Clock {
	return g.clk
}

// Millis returns the wrapping millisecond counter.
func (g *Gate) Millis() uint32 {
	return uint32(g.clk.Since(g.epoch) / time.Millisecond)
}

// Anchor records the moment of the most recent event of one kind (power on,
// wake or measurement request). The zero value means no event is pending.
type Anchor struct {
	ms    uint32
	armed bool
}

// Armed reports whether an event has been recorded.
func (a *Anchor) Armed() bool {
	return a.armed
}

// Clear forgets the recorded event.
func (a *Anchor) Clear() {
	*a = Anchor{}
}

// Arm records the current time in a, overwriting any previous event.
func (g *Gate) Arm(a *Anchor) {
	a.ms = g.Millis()
	a.armed = true
}

// Since returns how long ago the anchored event happened, or 0 if none is
// recorded.
func (g *Gate) Since(a Anchor) time.Duration {
	if !a.armed {
		return 0
	}
	return time.Duration(g.Millis()-a.ms) * time.Millisecond
}

// Elapsed reports whether d has passed since the anchored event. A zero
// duration has always elapsed; otherwise an unarmed anchor never has. d is
// rounded up to the next millisecond.
func (g *Gate) Elapsed(a Anchor, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	if !a.armed {
		return false
	}
	return g.Millis()-a.ms >= uint32((d+time.Millisecond-1)/time.Millisecond)
}

// Remaining returns how much of d is left to wait. It is 0 when d has
// elapsed or when no event is anchored, since there is nothing to wait for.
func (g *Gate) Remaining(a Anchor, d time.Duration) time.Duration {
	if !a.armed || g.Elapsed(a, d) {
		return 0
	}
	return d - g.Since(a)
}

// Wait blocks for the remainder of d, if any. It never sleeps longer than d.
func (g *Gate) Wait(a Anchor, d time.Duration) {
	if r := g.Remaining(a, d); r > 0 {
		g.clk.Sleep(r)
	}
}

// Sleep is a fixed, bounded delay used for bus and device turn-around.
func (g *Gate) Sleep(d time.Duration) {
	if d > 0 {
		g.clk.Sleep(d)
	}
}

// Deadline is a one-shot timeout for a bounded polling loop.
type Deadline struct {
	g *Gate
	a Anchor
	d time.Duration
}

// NewDeadline returns a Deadline expiring d from now.
func (g *Gate) NewDeadline(d time.Duration) Deadline {
	dl := Deadline{g: g, d: d}
	g.Arm(&dl.a)
	return dl
}

// Expired reports whether the deadline has passed.
func (dl Deadline) Expired() bool {
	return dl.g.Elapsed(dl.a, dl.d)
}

// Elapsed returns the time since the deadline was created.
func (dl Deadline) Elapsed() time.Duration {
	return dl.g.Since(dl.a)
}
