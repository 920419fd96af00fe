// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package tsl2591_test

import (
	"fmt"
	"log"

	"github.com/GermanBionicSystems/envsense/sensor"
	"github.com/GermanBionicSystems/envsense/tsl2591"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	// Use i2creg I²C bus registry to find the first available I²C bus.
	b, err := i2creg.Open("")
	if err != nil {
		log.Fatalf("failed to open I²C: %v", err)
	}
	defer b.Close()

	opts := tsl2591.DefaultOpts
	opts.Gain = tsl2591.GainMedium
	d := tsl2591.NewI2C(b, &opts)
	if err := d.Setup(); err != nil {
		log.Fatal(err)
	}
	res, err := sensor.Update(d)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s lux\n", tsl2591.Variables[tsl2591.Illuminance].Format(res.Values[tsl2591.Illuminance]))
}
