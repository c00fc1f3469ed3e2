// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdepaper

import (
	"bytes"
	"encoding/binary"
)

type controller interface {
	sendCommand(byte)
	sendData([]byte)
	// waitUntilIdle blocks until the busy line is released. It returns false
	// when the panel did not become idle in time.
	waitUntilIdle() bool
}

// cadence decides, frame by frame, whether the full waveform is due and
// whether the loaded LUT has to change.
type cadence struct {
	every uint32
	at    uint32
}

// next returns whether this frame is a full refresh and whether the LUT set
// must be reprogrammed, then advances the counter.
func (c *cadence) next() (full, reprogram bool) {
	full = c.at == 0
	prevFull := c.at == 1

	if c.every >= 1 {
		reprogram = full != prevFull
		c.at = (c.at + 1) % c.every
	}

	return full, reprogram
}

func (c *cadence) reset() {
	c.at = 0
}

// initDisplay runs the bring-up sequence and loads the full waveform.
func initDisplay(ctrl controller, m *Model) bool {
	if !runSteps(ctrl, m.bringUp) {
		return false
	}

	writeLUTSet(ctrl, m.fullLUT)

	return true
}

// setRAMWindow selects the whole panel as RAM target and moves the address
// counters to the origin. X is addressed in bytes, Y in pixels.
func setRAMWindow(ctrl controller, width, height int) {
	ctrl.sendCommand(setRAMXAddressStartEndPosition)
	ctrl.sendData([]byte{0x00, byte((width - 1) >> 3)})

	y := make([]byte, 4)
	binary.LittleEndian.PutUint16(y[2:], uint16(height-1))
	ctrl.sendCommand(setRAMYAddressStartEndPosition)
	ctrl.sendData(y)

	ctrl.sendCommand(setRAMXAddressCounter)
	ctrl.sendData([]byte{0x00})

	ctrl.sendCommand(setRAMYAddressCounter)
	ctrl.sendData([]byte{0x00, 0x00})
}

// writeRAM streams a frame, preceded by the previous one on models that keep
// both planes.
func writeRAM(ctrl controller, m *Model, frame, prev []byte) {
	if m.hasOldRAM {
		ctrl.sendCommand(m.oldRAMCommand)
		ctrl.sendData(prev)
	}

	ctrl.sendCommand(m.ramCommand)
	ctrl.sendData(frame)
}

// activate starts the physical refresh. The panel raises busy until done.
func activate(ctrl controller, m *Model) {
	if m.updateControl != nil {
		ctrl.sendCommand(displayUpdateControl2)
		ctrl.sendData(m.updateControl)
	}

	for _, cmd := range m.activation {
		ctrl.sendCommand(cmd)
	}
}

// displayFrame pushes one frame. ok is false if the panel stayed busy, in
// which case no RAM data was streamed.
func displayFrame(ctrl controller, m *Model, c *cadence, frame, prev []byte) (full, ok bool) {
	if !ctrl.waitUntilIdle() {
		return false, false
	}

	full, reprogram := c.next()
	if reprogram {
		writeLUTSet(ctrl, m.lut(full))
	}

	if m.window {
		setRAMWindow(ctrl, m.Width, m.Height)
	}

	if !ctrl.waitUntilIdle() {
		return full, false
	}

	writeRAM(ctrl, m, frame, prev)
	activate(ctrl, m)

	return full, true
}

// prime drives the whole panel to white and then to black to clear the
// charge left by the factory test pattern. Nothing is sent while the panel
// is still busy with a previous refresh.
func prime(ctrl controller, m *Model) bool {
	if !ctrl.waitUntilIdle() {
		return false
	}

	size := m.frameSize()
	white := bytes.Repeat([]byte{fillByte(Off)}, size)
	black := bytes.Repeat([]byte{fillByte(On)}, size)

	for _, pass := range [][2][]byte{{white, black}, {black, white}} {
		if m.window {
			setRAMWindow(ctrl, m.Width, m.Height)
		}
		writeRAM(ctrl, m, pass[0], pass[1])
		activate(ctrl, m)

		if !ctrl.waitUntilIdle() {
			return false
		}
	}

	return true
}

// enterDeepSleep floats the border, turns the charge pumps off and enters
// deep sleep. 0xA5 is the check code the controller requires. The sleep
// command is sent even if power off does not complete in time. Only a
// hardware reset wakes the panel up again.
func enterDeepSleep(ctrl controller) bool {
	ctrl.sendCommand(vcomDataIntervalSetting)
	ctrl.sendData([]byte{0xF7})

	ctrl.sendCommand(powerOff)
	idle := ctrl.waitUntilIdle()

	ctrl.sendCommand(deepSleep)
	ctrl.sendData([]byte{0xA5})

	return idle
}
