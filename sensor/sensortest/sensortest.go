// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensortest contains helpers to exercise sensors without hardware
// and without waiting in real time.
package sensortest

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is a mock clock where Sleep advances time instead of blocking. It
// lets warm-up, stabilization and bus timeouts run instantly in tests while
// still being observable through Now and Slept.
type Clock struct {
	*clock.Mock

	mu    sync.Mutex
	slept time.Duration
	// OnSleep, if set, is called after every Sleep with the new time. Tests
	// use it to inject bus traffic while a driver is waiting.
	OnSleep func(now time.Time)
}

// NewClock returns a Clock starting at the Unix epoch.
func NewClock() *Clock {
	return &Clock{Mock: clock.NewMock()}
}

// Sleep implements clock.Clock.
func (c *Clock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	c.Add(d)
	c.mu.Lock()
	c.slept += d
	cb := c.OnSleep
	c.mu.Unlock()
	if cb != nil {
		cb(c.Now())
	}
}

// Slept returns the sum of all durations passed to Sleep.
func (c *Clock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

var _ clock.Clock = &Clock{}
