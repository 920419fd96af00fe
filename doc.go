// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package envsense is a container for power managed environmental sensor
// drivers.
//
// Each sensor powers up through an optional GPIO pin, waits out its warm-up,
// stabilization and measurement times and reports a fixed tuple of validated
// values, with -9999 in place of anything missing or implausible. The
// sequencing lives in package sensor; the drivers are terros12 (SDI-12),
// tsl2591 and bme680 (I²C). cmd/envpoll polls a set of them from a YAML
// configuration.
package envsense
