// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/GermanBionicSystems/envsense/bme680"
	"github.com/GermanBionicSystems/envsense/sdi12"
	"github.com/GermanBionicSystems/envsense/tsl2591"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Sensor types accepted in the configuration.
const (
	typeTerros12 = "terros12"
	typeTSL2591  = "tsl2591"
	typeBME680   = "bme680"
)

// Config is the content of the configuration file.
type Config struct {
	// SerialPort is the UART wired to the SDI-12 line.
	SerialPort string `yaml:"serial_port"`
	// I2CBus is the name passed to i2creg.Open. Empty selects the first bus.
	I2CBus   string         `yaml:"i2c_bus"`
	Interval time.Duration  `yaml:"interval"`
	Sensors  []SensorConfig `yaml:"sensors"`
}

// SensorConfig describes one attached sensor.
type SensorConfig struct {
	Type string `yaml:"type"`
	// Address is an SDI-12 character or an I²C address such as "0x29".
	Address string `yaml:"address"`
	// PowerPin is a gpioreg name. Empty means permanently powered.
	PowerPin string `yaml:"power_pin"`
	Average  int    `yaml:"average"`
	CRC      bool   `yaml:"crc"`
	// Gain and Integration apply to tsl2591 only.
	Gain        string        `yaml:"gain"`
	Integration time.Duration `yaml:"integration"`
}

func defaultConfig() *Config {
	return &Config{Interval: time.Minute}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("envpoll: reading config: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	c := defaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("envpoll: parsing config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if len(c.Sensors) == 0 {
		return errors.New("envpoll: no sensors configured")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("envpoll: invalid interval %s", c.Interval)
	}
	var errs []error
	for i := range c.Sensors {
		s := &c.Sensors[i]
		if err := s.validate(); err != nil {
			errs = append(errs, fmt.Errorf("envpoll: sensor #%d: %w", i, err))
			continue
		}
		if s.Type == typeTerros12 && c.SerialPort == "" {
			errs = append(errs, fmt.Errorf("envpoll: sensor #%d: serial_port is required for %s", i, s.Type))
		}
	}
	return multierr.Combine(errs...)
}

func (s *SensorConfig) validate() error {
	if s.Average < 0 {
		return fmt.Errorf("invalid average %d", s.Average)
	}
	switch s.Type {
	case typeTerros12:
		_, err := s.sdi12Address()
		return err
	case typeTSL2591:
		if _, err := s.i2cAddress(tsl2591.DefaultAddress); err != nil {
			return err
		}
		if _, err := s.gain(); err != nil {
			return err
		}
		_, err := s.integration()
		return err
	case typeBME680:
		_, err := s.i2cAddress(bme680.DefaultAddress)
		return err
	default:
		return fmt.Errorf("unknown sensor type %q", s.Type)
	}
}

func (s *SensorConfig) sdi12Address() (sdi12.Address, error) {
	if s.Address == "" {
		return '0', nil
	}
	return sdi12.ParseAddress(s.Address)
}

func (s *SensorConfig) i2cAddress(def uint16) (uint16, error) {
	if s.Address == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s.Address, 0, 7)
	if err != nil {
		return 0, fmt.Errorf("invalid I²C address %q: %w", s.Address, err)
	}
	return uint16(v), nil
}

func (s *SensorConfig) gain() (tsl2591.Gain, error) {
	switch strings.ToLower(s.Gain) {
	case "", "low", "1x":
		return tsl2591.GainLow, nil
	case "medium", "25x":
		return tsl2591.GainMedium, nil
	case "high", "428x":
		return tsl2591.GainHigh, nil
	case "max", "9876x":
		return tsl2591.GainMax, nil
	default:
		return 0, fmt.Errorf("invalid gain %q", s.Gain)
	}
}

func (s *SensorConfig) integration() (tsl2591.Integration, error) {
	if s.Integration == 0 {
		return tsl2591.Integration100ms, nil
	}
	for i := tsl2591.Integration100ms; i <= tsl2591.Integration600ms; i++ {
		if i.Duration() == s.Integration {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid integration %s", s.Integration)
}
