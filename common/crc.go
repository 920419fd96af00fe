// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, the CRC used to protect SDI-12 data responses.
package common

// CRC16 calculates the 16-bit CRC (polynomial 0xA001 reflected, initial value
// 0) used by SDI-12 sensors to protect their data responses.
func CRC16(bytes []byte) uint16 {
	var crc uint16
	for _, val := range bytes {
		crc ^= uint16(val)
		for range 8 {
			if crc&1 == 0 {
				crc >>= 1
			} else {
				crc = (crc >> 1) ^ 0xa001
			}
		}
	}
	return crc
}

// EncodeCRC returns the three printable characters an SDI-12 sensor appends
// to a data response to transmit crc.
func EncodeCRC(crc uint16) [3]byte {
	return [3]byte{
		0x40 | byte(crc>>12),
		0x40 | byte((crc>>6)&0x3f),
		0x40 | byte(crc&0x3f),
	}
}
