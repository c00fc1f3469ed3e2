// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdepaper

// LUT contains the waveform that is used to program the display.
type LUT []byte

// LUTChannel is one waveform table together with the command that loads it.
type LUTChannel struct {
	Command byte
	Table   LUT
}

// LUTSet is everything written to the controller to switch the refresh
// waveform. Single-table panels use one channel, five-channel panels one per
// transition (VCOM, white to white, black to white, white to black, black to
// black).
type LUTSet []LUTChannel

// Len returns the number of table bytes in the set.
func (s LUTSet) Len() int {
	n := 0
	for _, ch := range s {
		n += len(ch.Table)
	}
	return n
}

// writeLUTSet streams every channel: its command, then its table.
func writeLUTSet(ctrl controller, set LUTSet) {
	for _, ch := range set {
		ctrl.sendCommand(ch.Command)
		ctrl.sendData(ch.Table)
	}
}

// Single combined tables for GDEP0154.
var (
	fullUpdateLUT = LUT{
		0x01, 0x05, 0x05, 0x05, 0x05, 0x01, 0x01,
		0x01, 0x05, 0x05, 0x05, 0x05, 0x01, 0x01,
		0x01, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	partialUpdateLUT = LUT{
		0x01, 0x04, 0x04, 0x03, 0x01, 0x01, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)

// Per-transition tables for GDEW0154M09. Each row is one phase: the level
// selection byte, four frame counts and the repeat count.
var (
	m09FullVCOM = LUT{
		0x00, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x00, 0x0F, 0x0F, 0x00, 0x00, 0x01,
		0x00, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	m09FullWW = LUT{
		0x50, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x90, 0x0F, 0x0F, 0x00, 0x00, 0x01,
		0xA0, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	m09FullBW = LUT{
		0x50, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x90, 0x0F, 0x0F, 0x00, 0x00, 0x01,
		0xA0, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	m09FullWB = LUT{
		0xA0, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x90, 0x0F, 0x0F, 0x00, 0x00, 0x01,
		0x50, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	m09FullBB = LUT{
		0x20, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x90, 0x0F, 0x0F, 0x00, 0x00, 0x01,
		0x10, 0x08, 0x08, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}

	m09PartialVCOM = LUT{
		0x00, 0x1E, 0x05, 0x1E, 0x05, 0x01,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	m09PartialWW = LUT{
		0x18, 0x1E, 0x05, 0x1E, 0x05, 0x01,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	m09PartialBW = LUT{
		0x5A, 0x1E, 0x05, 0x1E, 0x05, 0x01,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	m09PartialWB = LUT{
		0xA5, 0x1E, 0x05, 0x1E, 0x05, 0x01,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	m09PartialBB = LUT{
		0x24, 0x1E, 0x05, 0x1E, 0x05, 0x01,
		0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
)
