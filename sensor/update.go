// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"fmt"

	"github.com/GermanBionicSystems/envsense/validate"
	"go.uber.org/multierr"
)

// Update takes a complete, averaged measurement from s.
//
// The sensor is powered up and woken as needed, measured
// MeasurementsToAverage times, and left with the power state it had before
// the call. A sensor whose setup has not succeeded is not touched.
//
// The returned Result always has one value per variable. The error reports
// what went wrong along the way; it does not mean the Result is unusable,
// check Result.OK for that.
func Update(s Sensor) (res validate.Result, err error) {
	width := len(s.Variables())
	st := s.Status()
	if !st.SetupSuccessful() {
		return validate.Failed(width), fmt.Errorf("%w: %s", ErrNotSetUp, s)
	}
	wasOn := st.PowerOn()
	if err = s.PowerUp(); err != nil {
		return validate.Failed(width), err
	}
	if !wasOn {
		defer func() {
			err = multierr.Append(err, s.PowerDown())
		}()
	}
	s.WaitForWarmUp()
	if err = s.Wake(); err != nil {
		return validate.Failed(width), err
	}
	s.WaitForStability()

	n := s.MeasurementsToAverage()
	results := make([]validate.Result, 0, n)
	for i := 0; i < n; i++ {
		if serr := s.StartMeasurement(); serr != nil {
			err = multierr.Append(err, serr)
		} else {
			s.WaitForMeasurementCompletion()
		}
		results = append(results, s.Collect())
	}
	return validate.Average(results), err
}
