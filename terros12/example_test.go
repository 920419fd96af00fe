// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package terros12_test

import (
	"fmt"
	"log"

	"github.com/GermanBionicSystems/envsense/sdi12"
	"github.com/GermanBionicSystems/envsense/sensor"
	"github.com/GermanBionicSystems/envsense/terros12"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	bus, err := sdi12.OpenSerial("/dev/ttyUSB0")
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	// The probe supply is switched by GPIO17.
	opts := terros12.DefaultOpts
	opts.PowerPin = gpioreg.ByName("GPIO17")
	d, err := terros12.New(bus, '0', &opts)
	if err != nil {
		log.Fatal(err)
	}
	if err := d.Setup(); err != nil {
		log.Fatal(err)
	}

	res, err := sensor.Update(d)
	if err != nil {
		log.Println(err)
	}
	for _, v := range d.Variables() {
		fmt.Printf("%-28s %10s %s\n", v.Name, v.Format(res.Values[v.Slot]), v.Unit)
	}
}
