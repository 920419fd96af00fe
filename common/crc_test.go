// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import "testing"

func TestCRC16(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result uint16
	}{
		{bytes: []byte("123456789"), result: 0xbb3d},
		{bytes: []byte{}, result: 0x0000},
		{bytes: []byte{0x01}, result: 0xc0c1},
	}
	for _, test := range tests {
		res := CRC16(test.bytes)
		if res != test.result {
			t.Errorf("CRC16(%#v)!=0x%04x received 0x%04x", test.bytes, test.result, res)
		}
	}
}

func TestEncodeCRC(t *testing.T) {
	enc := EncodeCRC(0xbb3d)
	// 0xbb3d = 1011 101100 111101
	if enc != [3]byte{0x40 | 0x0b, 0x40 | 0x2c, 0x40 | 0x3d} {
		t.Errorf("EncodeCRC(0xbb3d)=%q", enc[:])
	}
	for _, c := range EncodeCRC(0xffff) {
		if c < 0x40 || c > 0x7f {
			t.Errorf("EncodeCRC produced non printable %#x", c)
		}
	}
}
