// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// envpoll powers up the configured environmental sensors, measures them and
// prints the validated values.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/GermanBionicSystems/envsense/bme680"
	"github.com/GermanBionicSystems/envsense/report"
	"github.com/GermanBionicSystems/envsense/sdi12"
	"github.com/GermanBionicSystems/envsense/sensor"
	"github.com/GermanBionicSystems/envsense/terros12"
	"github.com/GermanBionicSystems/envsense/tsl2591"
	"github.com/urfave/cli/v2"
	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	flagConfig   = "config"
	flagDebug    = "debug"
	flagCount    = "count"
	flagInterval = "interval"
)

func main() {
	app := &cli.App{
		Name:  "envpoll",
		Usage: "poll power managed environmental sensors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "envpoll.yaml",
				Usage:   "configuration file",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "poll",
				Usage: "measure every configured sensor",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagCount,
						Value: 1,
						Usage: "number of rounds, 0 to run until interrupted",
					},
					&cli.DurationFlag{
						Name:  flagInterval,
						Usage: "time between the start of two rounds, overrides the configuration",
					},
				},
				Action: pollAction,
			},
			{
				Name:   "identify",
				Usage:  "print the identification of the SDI-12 probes",
				Action: identifyAction,
			},
			{
				Name:   "ports",
				Usage:  "list the serial ports",
				Action: portsAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "envpoll: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	if c.Bool(flagDebug) {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func pollAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	log, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	st, err := openStation(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, st.Close())
	}()

	interval := cfg.Interval
	if d := c.Duration(flagInterval); d > 0 {
		interval = d
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	st.setup()
	out := report.NewStdout(nil)
	count := c.Int(flagCount)
	for round := 0; count <= 0 || round < count; round++ {
		if round != 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
		if err := st.poll(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

func identifyAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c.String(flagConfig))
	if err != nil {
		return err
	}
	log, err := newLogger(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	st, err := openStation(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, st.Close())
	}()
	if len(st.probes) == 0 {
		return errors.New("no SDI-12 probe configured")
	}
	out := report.NewStdout(nil)
	for _, p := range st.probes {
		id, err := p.Identify()
		if err != nil {
			_ = out.Line("%s: %s", p, err)
			continue
		}
		_ = out.Line("%s: %s %s %s protocol %s serial %q", p, id.Vendor, id.Model, id.Version, id.Protocol, id.Serial)
	}
	return nil
}

func portsAction(c *cli.Context) error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return err
	}
	out := report.NewStdout(nil)
	for _, p := range ports {
		_ = out.Line("%s", p)
	}
	return nil
}

// station holds the opened buses and sensors.
type station struct {
	log     *zap.Logger
	sensors []sensor.Sensor
	probes  []*terros12.Dev
	closers []func() error
}

func openStation(cfg *Config, log *zap.Logger) (st *station, err error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	st = &station{log: log}
	defer func() {
		if err != nil {
			err = multierr.Append(err, st.Close())
			st = nil
		}
	}()

	var sdi *sdi12.SerialBus
	var bus i2c.BusCloser
	for i := range cfg.Sensors {
		sc := &cfg.Sensors[i]
		pin, err := powerPin(sc.PowerPin)
		if err != nil {
			return st, err
		}
		switch sc.Type {
		case typeTerros12:
			if sdi == nil {
				if sdi, err = sdi12.OpenSerial(cfg.SerialPort); err != nil {
					return st, err
				}
				st.closers = append(st.closers, sdi.Close)
			}
			addr, _ := sc.sdi12Address()
			d, err := terros12.New(sdi, addr, &terros12.Opts{
				PowerPin:              pin,
				MeasurementsToAverage: sc.Average,
				CRC:                   sc.CRC,
				Logger:                log,
			})
			if err != nil {
				return st, err
			}
			st.sensors = append(st.sensors, d)
			st.probes = append(st.probes, d)
		case typeTSL2591, typeBME680:
			if bus == nil {
				if bus, err = i2creg.Open(cfg.I2CBus); err != nil {
					return st, err
				}
				st.closers = append(st.closers, bus.Close)
			}
			if sc.Type == typeTSL2591 {
				addr, _ := sc.i2cAddress(tsl2591.DefaultAddress)
				g, _ := sc.gain()
				integ, _ := sc.integration()
				st.sensors = append(st.sensors, tsl2591.NewI2C(bus, &tsl2591.Opts{
					Address:               addr,
					Gain:                  g,
					Integration:           integ,
					PowerPin:              pin,
					MeasurementsToAverage: sc.Average,
					Logger:                log,
				}))
			} else {
				addr, _ := sc.i2cAddress(bme680.DefaultAddress)
				st.sensors = append(st.sensors, bme680.NewI2C(bus, &bme680.Opts{
					Address:               addr,
					PowerPin:              pin,
					MeasurementsToAverage: sc.Average,
					Logger:                log,
				}))
			}
		}
	}
	return st, nil
}

func powerPin(name string) (gpio.PinOut, error) {
	if name == "" {
		return nil, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown power pin %q", name)
	}
	return p, nil
}

// setup initializes every sensor. A sensor that fails stays in the list; its
// measurements are reported as failed until the next run.
func (st *station) setup() {
	for _, s := range st.sensors {
		if err := s.Setup(); err != nil {
			st.log.Error("setup failed", zap.Stringer("sensor", s), zap.Error(err))
		}
	}
}

func (st *station) poll(ctx context.Context, out *report.Writer) error {
	for _, s := range st.sensors {
		if ctx.Err() != nil {
			return nil
		}
		res, err := sensor.Update(s)
		if err := out.Result(s, res, err); err != nil {
			return err
		}
	}
	return nil
}

func (st *station) Close() error {
	var err error
	for _, s := range st.sensors {
		if s.Status().PowerOn() {
			err = multierr.Append(err, s.PowerDown())
		}
	}
	for i := len(st.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, st.closers[i]())
	}
	return err
}
