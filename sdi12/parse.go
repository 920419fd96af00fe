// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sdi12

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GermanBionicSystems/envsense/validate"
)

// Ack is a device's answer to a measurement command.
type Ack struct {
	Address Address
	// Wait is the time the device needs before its data can be retrieved.
	Wait time.Duration
	// Count is the number of values the device will return.
	Count int
}

// AckError describes a malformed acknowledgement.
type AckError struct {
	Line   string
	Reason string
}

func (e *AckError) Error() string {
	return fmt.Sprintf("sdi12: malformed acknowledgement %q: %s", e.Line, e.Reason)
}

// ParseAck parses "<a><ttt><n>". Line terminators must already be stripped.
func ParseAck(line string) (Ack, error) {
	if len(line) != 5 {
		return Ack{}, &AckError{Line: line, Reason: "expected 5 characters"}
	}
	a := Address(line[0])
	if !a.Valid() {
		return Ack{}, &AckError{Line: line, Reason: "invalid address"}
	}
	for i := 1; i < 5; i++ {
		if line[i] < '0' || line[i] > '9' {
			return Ack{}, &AckError{Line: line, Reason: "non digit in time or count"}
		}
	}
	secs, _ := strconv.Atoi(line[1:4])
	return Ack{
		Address: a,
		Wait:    time.Duration(secs) * time.Second,
		Count:   int(line[4] - '0'),
	}, nil
}

// Identification is a device's answer to the identify command.
type Identification struct {
	Address Address
	// Protocol is the SDI-12 version, e.g. "1.3".
	Protocol string
	Vendor   string
	Model    string
	Version  string
	// Serial holds the optional trailing field, usually a serial number.
	Serial string
}

// ParseIdentification parses "<a><ll><cccccccc><mmmmmm><vvv>[xxx...]".
func ParseIdentification(line string) (Identification, error) {
	if len(line) < 20 {
		return Identification{}, fmt.Errorf("sdi12: identification %q too short", line)
	}
	a := Address(line[0])
	if !a.Valid() {
		return Identification{}, fmt.Errorf("%w in identification %q", ErrInvalidAddress, line)
	}
	return Identification{
		Address:  a,
		Protocol: line[1:2] + "." + line[2:3],
		Vendor:   strings.TrimSpace(line[3:11]),
		Model:    strings.TrimSpace(line[11:17]),
		Version:  strings.TrimSpace(line[17:20]),
		Serial:   strings.TrimSpace(line[20:]),
	}, nil
}

// Scanner extracts decimal numbers from a data response.
//
// It is deliberately tolerant: any character that cannot start a number is
// skipped, and a '+' or '-' both ends the previous number and starts the
// next one, so "+1.5-2+3" yields 1.5, -2 and 3.
type Scanner struct {
	s string
	i int
}

// NewScanner returns a Scanner reading s.
func NewScanner(s string) *Scanner {
	return &Scanner{s: s}
}

// Next returns the next number. ok is false once the input is exhausted.
func (sc *Scanner) Next() (v float64, ok bool) {
	for sc.i < len(sc.s) {
		if !sc.startsNumber() {
			sc.i++
			continue
		}
		start := sc.i
		if c := sc.s[sc.i]; c == '+' || c == '-' {
			sc.i++
		}
		dot := false
		for sc.i < len(sc.s) {
			c := sc.s[sc.i]
			if c == '.' && !dot {
				dot = true
			} else if !isDigit(c) {
				break
			}
			sc.i++
		}
		f, err := strconv.ParseFloat(sc.s[start:sc.i], 64)
		if err == nil {
			return f, true
		}
	}
	return validate.Missing, false
}

func (sc *Scanner) startsNumber() bool {
	rest := sc.s[sc.i:]
	switch {
	case isDigit(rest[0]):
		return true
	case rest[0] == '+' || rest[0] == '-':
		rest = rest[1:]
		if len(rest) > 0 && isDigit(rest[0]) {
			return true
		}
		fallthrough
	case rest[0] == '.':
		return len(rest) > 1 && rest[0] == '.' && isDigit(rest[1])
	}
	return false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// ParseValues returns exactly n numbers from s. Values s does not contain are
// returned as validate.Missing. A negative n yields no values.
func ParseValues(s string, n int) []float64 {
	if n < 0 {
		n = 0
	}
	out := make([]float64, n)
	sc := NewScanner(s)
	for i := range out {
		out[i], _ = sc.Next()
	}
	return out
}
