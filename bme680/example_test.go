// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bme680_test

import (
	"fmt"
	"log"

	"github.com/GermanBionicSystems/envsense/bme680"
	"github.com/GermanBionicSystems/envsense/sensor"
	"periph.io/x/conn/v3/gpio/gpioreg"
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

	opts := bme680.DefaultOpts
	opts.PowerPin = gpioreg.ByName("GPIO22")
	opts.MeasurementsToAverage = 3
	d := bme680.NewI2C(b, &opts)
	if err := d.Setup(); err != nil {
		log.Fatal(err)
	}
	res, err := sensor.Update(d)
	if err != nil {
		log.Fatal(err)
	}
	for _, v := range d.Variables() {
		fmt.Printf("%-20s %12s %s\n", v.Name, v.Format(res.Values[v.Slot]), v.Unit)
	}
}
