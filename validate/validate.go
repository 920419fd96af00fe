// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package validate turns raw sensor output into scientific values.
//
// Raw values from a device are untrusted: a driver may return NaN, an
// infinity, an implausible magnitude or, when the device did not answer at
// all, a tuple of zeros. Every such value is collapsed into the Missing
// sentinel so that callers only ever see a plausible number or -9999.
package validate

import (
	"math"
)

// Missing is the value reported for a slot when no valid reading was
// obtained.
const Missing = -9999.0

// Valid reports whether v is a usable reading.
func Valid(v float64) bool {
	return v != Missing && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AllZero reports whether every value in raw is exactly zero. An empty tuple
// is not considered all zero.
func AllZero(raw []float64) bool {
	if len(raw) == 0 {
		return false
	}
	for _, v := range raw {
		if v != 0 {
			return false
		}
	}
	return true
}

// Range is a closed interval of physically plausible values.
type Range struct {
	Lo, Hi float64
}

// Any accepts every finite value.
var Any = Range{Lo: math.Inf(-1), Hi: math.Inf(1)}

// AtLeast returns a Range with no upper bound.
func AtLeast(lo float64) Range {
	return Range{Lo: lo, Hi: math.Inf(1)}
}

// Contains reports whether v is within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Lo && v <= r.Hi
}

// Field describes one raw value in the order the device reports it.
type Field struct {
	Name  string
	Range Range
	// RejectZero treats an exact zero as a non-response for this field alone.
	RejectZero bool
}

// Derived is a value computed from other slots, e.g. visible light as full
// spectrum minus infrared. It is only computed when every input is valid.
type Derived struct {
	Name string
	// Inputs are slot indexes; they may refer to raw fields or to derived
	// values declared earlier.
	Inputs  []int
	Compute func(in []float64) float64
	Range   Range
}

// Result is one validated measurement: one value per slot and whether the
// measurement as a whole is acceptable.
type Result struct {
	Values []float64
	OK     bool
}

// Failed returns a Result of n Missing values. A negative n is treated as 0.
func Failed(n int) Result {
	if n < 0 {
		n = 0
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = Missing
	}
	return Result{Values: v}
}

// Schema declares how a sensor's raw output is validated.
type Schema struct {
	Fields  []Field
	Derived []Derived
	// Primary lists the slots that must be valid for the measurement to be
	// acceptable. If empty, slot 0 is primary.
	Primary []int
	// NonResponse detects a tuple that means "the device did not answer".
	// When nil, an all-zero tuple is treated as a non-response.
	NonResponse func(raw []float64) bool
}

// Len returns the number of slots in a Result produced by s.
func (s *Schema) Len() int {
	return len(s.Fields) + len(s.Derived)
}

// Apply validates raw. raw may be shorter or longer than the declared
// fields; missing trailing values become Missing and extra values are
// ignored. The returned Result always has exactly Len() values.
func (s *Schema) Apply(raw []float64) Result {
	res := Failed(s.Len())
	n := len(s.Fields)
	tuple := make([]float64, n)
	for i := range tuple {
		tuple[i] = Missing
		if i < len(raw) {
			tuple[i] = raw[i]
		}
	}
	nonResponse := s.NonResponse
	if nonResponse == nil {
		nonResponse = AllZero
	}
	if nonResponse(tuple) {
		return res
	}
	for i, f := range s.Fields {
		v := tuple[i]
		if !Valid(v) || !f.Range.Contains(v) || (f.RejectZero && v == 0) {
			continue
		}
		res.Values[i] = v
	}
	for j, d := range s.Derived {
		in := make([]float64, len(d.Inputs))
		ok := true
		for k, idx := range d.Inputs {
			if idx < 0 || idx >= n+j || !Valid(res.Values[idx]) {
				ok = false
				break
			}
			in[k] = res.Values[idx]
		}
		if !ok {
			continue
		}
		v := d.Compute(in)
		if Valid(v) && d.Range.Contains(v) {
			res.Values[n+j] = v
		}
	}
	res.OK = true
	primary := s.Primary
	if len(primary) == 0 {
		primary = []int{0}
	}
	for _, idx := range primary {
		if idx >= len(res.Values) || !Valid(res.Values[idx]) {
			res.OK = false
		}
	}
	return res
}

// Average combines several results slot by slot. Each slot is the mean of
// its valid values, or Missing if none was valid. The average is acceptable
// if any input was.
func Average(results []Result) Result {
	if len(results) == 0 {
		return Result{}
	}
	if len(results) == 1 {
		return results[0]
	}
	width := 0
	for _, r := range results {
		if len(r.Values) > width {
			width = len(r.Values)
		}
	}
	out := Failed(width)
	for i := range out.Values {
		sum, count := 0.0, 0
		for _, r := range results {
			if i < len(r.Values) && Valid(r.Values[i]) {
				sum += r.Values[i]
				count++
			}
		}
		if count > 0 {
			out.Values[i] = sum / float64(count)
		}
	}
	for _, r := range results {
		out.OK = out.OK || r.OK
	}
	return out
}
