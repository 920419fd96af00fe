// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package report prints sensor results to a terminal.
//
// Each sensor gets a header line led by a colored block: green when every
// value is valid, amber when the measurement is acceptable but some values
// are missing, red when it is not acceptable. Missing values are printed in
// red. Colors are only emitted when the output is a terminal.
package report

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/GermanBionicSystems/envsense/sensor"
	"github.com/GermanBionicSystems/envsense/validate"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	reset = "\033[0m"
	red   = "\033[31m"
)

var (
	colorOK      = color.NRGBA{0x00, 0xC0, 0x00, 0xFF}
	colorPartial = color.NRGBA{0xFF, 0xA0, 0x00, 0xFF}
	colorFailed  = color.NRGBA{0xE0, 0x00, 0x00, 0xFF}
)

// Opts represents the options available for a Writer.
type Opts struct {
	// Palette used for the status blocks. Defaults to ansi256.Default.
	Palette *ansi256.Palette
}

// Writer formats results.
type Writer struct {
	w       io.Writer
	color   bool
	palette ansi256.Palette
	buf     bytes.Buffer
}

// NewStdout returns a Writer printing to stdout, in color if stdout is a
// terminal. opts may be nil.
func NewStdout(opts *Opts) *Writer {
	fd := os.Stdout.Fd()
	tty := isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	return New(colorable.NewColorableStdout(), tty, opts)
}

// New returns a Writer printing to w. opts may be nil.
func New(w io.Writer, useColor bool, opts *Opts) *Writer {
	p := ansi256.Default
	if opts != nil && opts.Palette != nil {
		p = opts.Palette
	}
	if !useColor {
		w = colorable.NewNonColorable(w)
	}
	return &Writer{w: w, color: useColor, palette: *p}
}

// Result prints one sensor's result. err, if not nil, is printed below it.
func (w *Writer) Result(s sensor.Sensor, res validate.Result, err error) error {
	vars := s.Variables()
	vals := make([]float64, len(vars))
	for i, v := range vars {
		vals[i] = validate.Missing
		if v.Slot < len(res.Values) {
			vals[i] = res.Values[v.Slot]
		}
	}
	w.buf.Reset()
	w.block(res.OK, allValid(vals))
	fmt.Fprintf(&w.buf, "%s [%s]\n", s, s.Status())
	for i, v := range vars {
		text := v.Format(vals[i])
		if !validate.Valid(vals[i]) {
			text = w.paint(red, text)
		}
		fmt.Fprintf(&w.buf, "    %-28s %12s %s\n", v.Name, text, v.Unit)
	}
	if err != nil {
		fmt.Fprintf(&w.buf, "    %s\n", w.paint(red, err.Error()))
	}
	_, werr := w.buf.WriteTo(w.w)
	return werr
}

// Line prints a free form line.
func (w *Writer) Line(format string, a ...interface{}) error {
	_, err := fmt.Fprintf(w.w, format+"\n", a...)
	return err
}

func (w *Writer) block(ok, complete bool) {
	c, mark := colorOK, "ok"
	switch {
	case !ok:
		c, mark = colorFailed, "FAIL"
	case !complete:
		c, mark = colorPartial, "part"
	}
	if w.color {
		_, _ = io.WriteString(&w.buf, w.palette.Block(c))
		_, _ = io.WriteString(&w.buf, reset+" ")
		return
	}
	fmt.Fprintf(&w.buf, "%-4s ", mark)
}

func (w *Writer) paint(code, s string) string {
	if !w.color {
		return s
	}
	return code + s + reset
}

func allValid(values []float64) bool {
	for _, v := range values {
		if !validate.Valid(v) {
			return false
		}
	}
	return true
}
