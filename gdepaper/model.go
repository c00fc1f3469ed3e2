// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdepaper

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LUTFamily tells how a controller takes its refresh waveform.
type LUTFamily uint8

const (
	// SingleTable panels take one combined table per refresh mode.
	SingleTable LUTFamily = iota
	// FiveChannel panels take one table per pixel transition.
	FiveChannel
)

func (f LUTFamily) String() string {
	switch f {
	case SingleTable:
		return "single-table"
	case FiveChannel:
		return "five-channel"
	}
	return fmt.Sprintf("LUTFamily(%d)", uint8(f))
}

// step is one command of a fixed sequence, optionally followed by waiting
// for the panel to become idle.
type step struct {
	cmd  byte
	data []byte
	wait bool
}

func runSteps(ctrl controller, steps []step) bool {
	for _, s := range steps {
		ctrl.sendCommand(s.cmd)
		if len(s.data) > 0 {
			ctrl.sendData(s.data)
		}
		if s.wait && !ctrl.waitUntilIdle() {
			return false
		}
	}
	return true
}

// Model describes one supported panel. Everything that differs between
// panels is data in this struct; the sequencer has a single code path.
type Model struct {
	Name   string
	Width  int
	Height int
	Family LUTFamily

	// IdleTimeout bounds how long the busy line is polled.
	IdleTimeout time.Duration

	bringUp    []step
	fullLUT    LUTSet
	partialLUT LUTSet

	// window programs the SSD-style RAM address window before RAM writes.
	window bool

	// oldRAMCommand, when set, receives the previously shown frame ahead of
	// the new one so the controller can compute per-pixel transitions.
	hasOldRAM     bool
	oldRAMCommand byte
	ramCommand    byte

	// updateControl is sent as displayUpdateControl2 data; nil skips it.
	updateControl []byte
	activation    []byte

	// primeOnInit clears the panel to white, then black, once after
	// bring-up to remove factory ghosting.
	primeOnInit bool
}

func (m *Model) String() string {
	return m.Name
}

// lut returns the table set for the refresh mode.
func (m *Model) lut(full bool) LUTSet {
	if full {
		return m.fullLUT
	}
	return m.partialLUT
}

// frameSize is the framebuffer length in bytes.
func (m *Model) frameSize() int {
	return m.Width * m.Height / 8
}

// GDEP0154 is the 200x200 1.54 inch panel programmed with a single combined
// waveform table.
var GDEP0154 = Model{
	Name:        "1.54in",
	Width:       200,
	Height:      200,
	Family:      SingleTable,
	IdleTimeout: time.Second,
	bringUp: []step{
		{cmd: panelSetting, data: []byte{0xFF, 0x0E}},
		{cmd: powerSetting, data: []byte{0x03, 0x06, 0x2A, 0x2A}},
		{cmd: internalCode4D, data: []byte{0x55}},
		{cmd: internalCodeAA, data: []byte{0x0F}},
		{cmd: internalCodeE9, data: []byte{0x02}},
		{cmd: internalCodeB6, data: []byte{0x11}},
		{cmd: internalCodeF3, data: []byte{0x0A}},
		{cmd: boosterSoftStart, data: []byte{0xC7, 0x0C, 0x0C}},
		{cmd: resolutionSetting, data: []byte{0xC8, 0x00, 0xC8}},
		{cmd: tconSetting, data: []byte{0x00}},
		{cmd: vcmDCSetting, data: []byte{0x12}},
		{cmd: pllControl, data: []byte{0x3C}},
		{cmd: vcomDataIntervalSetting, data: []byte{0x97}},
		{cmd: powerSaving, data: []byte{0x00}},
	},
	fullLUT:       LUTSet{{Command: writeLUTRegister, Table: fullUpdateLUT}},
	partialLUT:    LUTSet{{Command: writeLUTRegister, Table: partialUpdateLUT}},
	window:        true,
	ramCommand:    writeRAMBW,
	updateControl: []byte{0xC4},
	activation:    []byte{masterActivation, terminateFrameReadWrite},
}

// GDEW0154M09 is the 200x200 1.54 inch panel with a JD79653 controller and
// per-transition waveform tables.
var GDEW0154M09 = Model{
	Name:        "1.54in-m09",
	Width:       200,
	Height:      200,
	Family:      FiveChannel,
	IdleTimeout: time.Second,
	bringUp: []step{
		{cmd: panelSetting, data: []byte{0xFF, 0x0E}},
		{cmd: internalCode4D, data: []byte{0x55}},
		{cmd: internalCodeAA, data: []byte{0x0F}},
		{cmd: internalCodeE9, data: []byte{0x02}},
		{cmd: internalCodeB6, data: []byte{0x11}},
		{cmd: internalCodeF3, data: []byte{0x0A}},
		{cmd: resolutionSetting, data: []byte{0xC8, 0x00, 0xC8}},
		{cmd: tconSetting, data: []byte{0x00}},
		{cmd: vcomDataIntervalSetting, data: []byte{0x97}},
		{cmd: powerSaving, data: []byte{0x00}},
		{cmd: powerOn, wait: true},
	},
	fullLUT: LUTSet{
		{Command: lutVCOM, Table: m09FullVCOM},
		{Command: lutWW, Table: m09FullWW},
		{Command: lutBW, Table: m09FullBW},
		{Command: lutWB, Table: m09FullWB},
		{Command: lutBB, Table: m09FullBB},
	},
	partialLUT: LUTSet{
		{Command: lutVCOM, Table: m09PartialVCOM},
		{Command: lutWW, Table: m09PartialWW},
		{Command: lutBW, Table: m09PartialBW},
		{Command: lutWB, Table: m09PartialWB},
		{Command: lutBB, Table: m09PartialBB},
	},
	hasOldRAM:     true,
	oldRAMCommand: dataStartTransmission1,
	ramCommand:    dataStartTransmission2,
	activation:    []byte{displayRefresh},
	primeOnInit:   true,
}

var models = map[string]*Model{
	GDEP0154.Name:    &GDEP0154,
	GDEW0154M09.Name: &GDEW0154M09,
}

// ModelByName returns the model registered under name, ignoring case.
func ModelByName(name string) (*Model, error) {
	if m, ok := models[strings.ToLower(name)]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("gdepaper: unknown model %q (known: %s)", name, strings.Join(ModelNames(), ", "))
}

// ModelNames lists the registered model names in sorted order.
func ModelNames() []string {
	names := make([]string, 0, len(models))
	for n := range models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
