// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdepaper

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type record struct {
	cmd  byte
	data []byte
}

// fakeController records the command stream. busy scripts the results of
// successive waits; once exhausted the panel is idle.
type fakeController struct {
	records []record
	busy    []bool
	waits   int
}

func (r *fakeController) sendCommand(cmd byte) {
	r.records = append(r.records, record{
		cmd: cmd,
	})
}

func (r *fakeController) sendData(data []byte) {
	cur := &r.records[len(r.records)-1]
	cur.data = append(cur.data, data...)
}

func (r *fakeController) waitUntilIdle() bool {
	i := r.waits
	r.waits++
	return i >= len(r.busy) || !r.busy[i]
}

func diffRecords(got, want []record) string {
	return cmp.Diff(got, want, cmpopts.EquateEmpty(), cmp.AllowUnexported(record{}))
}

func windowRecords(width, height int) []record {
	return []record{
		{cmd: setRAMXAddressStartEndPosition, data: []byte{0x00, byte((width - 1) >> 3)}},
		{cmd: setRAMYAddressStartEndPosition, data: []byte{0x00, 0x00, byte(height - 1), byte((height - 1) >> 8)}},
		{cmd: setRAMXAddressCounter, data: []byte{0x00}},
		{cmd: setRAMYAddressCounter, data: []byte{0x00, 0x00}},
	}
}

func lutRecords(set LUTSet) []record {
	var r []record
	for _, ch := range set {
		r = append(r, record{cmd: ch.Command, data: ch.Table})
	}
	return r
}

func concat(parts ...[]record) []record {
	var r []record
	for _, p := range parts {
		r = append(r, p...)
	}
	return r
}

func TestInitDisplay(t *testing.T) {
	for _, tc := range []struct {
		name      string
		model     *Model
		want      []record
		wantWaits int
	}{
		{
			name:  "1.54in",
			model: &GDEP0154,
			want: []record{
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
				{cmd: writeLUTRegister, data: fullUpdateLUT},
			},
		},
		{
			name:  "1.54in-m09",
			model: &GDEW0154M09,
			want: concat([]record{
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
				{cmd: powerOn},
			}, lutRecords(GDEW0154M09.fullLUT)),
			wantWaits: 1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController

			if !initDisplay(&got, tc.model) {
				t.Fatal("initDisplay() failed")
			}

			if diff := diffRecords(got.records, tc.want); diff != "" {
				t.Errorf("initDisplay() difference (-got +want):\n%s", diff)
			}
			if got.waits != tc.wantWaits {
				t.Errorf("initDisplay() waited %d times, want %d", got.waits, tc.wantWaits)
			}
		})
	}
}

func TestInitDisplayPowerOnTimeout(t *testing.T) {
	got := fakeController{busy: []bool{true}}

	if initDisplay(&got, &GDEW0154M09) {
		t.Fatal("initDisplay() succeeded with a stuck panel")
	}

	last := got.records[len(got.records)-1]
	if last.cmd != powerOn {
		t.Errorf("last command = %#x, want power on", last.cmd)
	}
}

func TestLUTTableSizes(t *testing.T) {
	for _, tc := range []struct {
		name     string
		set      LUTSet
		channels int
		size     int
	}{
		{name: "single full", set: GDEP0154.fullLUT, channels: 1, size: 56},
		{name: "single partial", set: GDEP0154.partialLUT, channels: 1, size: 56},
		{name: "five-channel full", set: GDEW0154M09.fullLUT, channels: 5, size: 42},
		{name: "five-channel partial", set: GDEW0154M09.partialLUT, channels: 5, size: 42},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if len(tc.set) != tc.channels {
				t.Fatalf("got %d channels, want %d", len(tc.set), tc.channels)
			}
			for _, ch := range tc.set {
				if len(ch.Table) != tc.size {
					t.Errorf("channel %#x has %d bytes, want %d", ch.Command, len(ch.Table), tc.size)
				}
			}
			if got, want := tc.set.Len(), tc.channels*tc.size; got != want {
				t.Errorf("Len() = %d, want %d", got, want)
			}
		})
	}
}

func TestSetRAMWindow(t *testing.T) {
	for _, tc := range []struct {
		name          string
		width, height int
		want          []record
	}{
		{
			name:  "200x200",
			width: 200, height: 200,
			want: []record{
				{cmd: setRAMXAddressStartEndPosition, data: []byte{0x00, 24}},
				{cmd: setRAMYAddressStartEndPosition, data: []byte{0x00, 0x00, 199, 0x00}},
				{cmd: setRAMXAddressCounter, data: []byte{0x00}},
				{cmd: setRAMYAddressCounter, data: []byte{0x00, 0x00}},
			},
		},
		{
			name:  "tall",
			width: 128, height: 296,
			want: []record{
				{cmd: setRAMXAddressStartEndPosition, data: []byte{0x00, 15}},
				{cmd: setRAMYAddressStartEndPosition, data: []byte{0x00, 0x00, 0x27, 0x01}},
				{cmd: setRAMXAddressCounter, data: []byte{0x00}},
				{cmd: setRAMYAddressCounter, data: []byte{0x00, 0x00}},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController

			setRAMWindow(&got, tc.width, tc.height)

			if diff := diffRecords(got.records, tc.want); diff != "" {
				t.Errorf("setRAMWindow() difference (-got +want):\n%s", diff)
			}
		})
	}
}

func TestCadence(t *testing.T) {
	for _, tc := range []struct {
		name          string
		every         uint32
		wantFull      []bool
		wantReprogram []bool
	}{
		{
			name:          "every 3",
			every:         3,
			wantFull:      []bool{true, false, false, true, false, false, true},
			wantReprogram: []bool{true, true, false, true, true, false, true},
		},
		{
			name:          "every frame",
			every:         1,
			wantFull:      []bool{true, true, true},
			wantReprogram: []bool{true, true, true},
		},
		{
			name:          "disabled",
			every:         0,
			wantFull:      []bool{true, true, true, true},
			wantReprogram: []bool{false, false, false, false},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := cadence{every: tc.every}

			var gotFull, gotReprogram []bool
			for range tc.wantFull {
				full, reprogram := c.next()
				gotFull = append(gotFull, full)
				gotReprogram = append(gotReprogram, reprogram)
			}

			if diff := cmp.Diff(gotFull, tc.wantFull); diff != "" {
				t.Errorf("full difference (-got +want):\n%s", diff)
			}
			if diff := cmp.Diff(gotReprogram, tc.wantReprogram); diff != "" {
				t.Errorf("reprogram difference (-got +want):\n%s", diff)
			}
		})
	}
}

func TestDisplayFrame(t *testing.T) {
	frame := bytes.Repeat([]byte{0xA5}, 5000)
	prev := bytes.Repeat([]byte{0xFF}, 5000)

	single := func(lut []record) []record {
		return concat(lut, windowRecords(200, 200), []record{
			{cmd: writeRAMBW, data: frame},
			{cmd: displayUpdateControl2, data: []byte{0xC4}},
			{cmd: masterActivation},
			{cmd: terminateFrameReadWrite},
		})
	}
	fiveChannel := func(lut []record) []record {
		return concat(lut, []record{
			{cmd: dataStartTransmission1, data: prev},
			{cmd: dataStartTransmission2, data: frame},
			{cmd: displayRefresh},
		})
	}

	for _, tc := range []struct {
		name     string
		model    *Model
		at       uint32
		wantFull bool
		want     []record
	}{
		{
			name:     "single full",
			model:    &GDEP0154,
			at:       0,
			wantFull: true,
			want:     single(lutRecords(GDEP0154.fullLUT)),
		},
		{
			name:  "single first partial",
			model: &GDEP0154,
			at:    1,
			want:  single(lutRecords(GDEP0154.partialLUT)),
		},
		{
			name:  "single steady partial",
			model: &GDEP0154,
			at:    2,
			want:  single(nil),
		},
		{
			name:     "five-channel full",
			model:    &GDEW0154M09,
			at:       0,
			wantFull: true,
			want:     fiveChannel(lutRecords(GDEW0154M09.fullLUT)),
		},
		{
			name:  "five-channel first partial",
			model: &GDEW0154M09,
			at:    1,
			want:  fiveChannel(lutRecords(GDEW0154M09.partialLUT)),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController
			c := cadence{every: 30, at: tc.at}

			full, ok := displayFrame(&got, tc.model, &c, frame, prev)
			if !ok {
				t.Fatal("displayFrame() failed")
			}
			if full != tc.wantFull {
				t.Errorf("displayFrame() full = %v, want %v", full, tc.wantFull)
			}
			if c.at != tc.at+1 {
				t.Errorf("cadence at %d, want %d", c.at, tc.at+1)
			}
			if got.waits != 2 {
				t.Errorf("waited %d times, want 2", got.waits)
			}
			if diff := diffRecords(got.records, tc.want); diff != "" {
				t.Errorf("displayFrame() difference (-got +want):\n%s", diff)
			}
		})
	}
}

func TestDisplayFrameBusy(t *testing.T) {
	frame := bytes.Repeat([]byte{0x00}, 5000)

	t.Run("first wait", func(t *testing.T) {
		got := fakeController{busy: []bool{true}}
		c := cadence{every: 30}

		if _, ok := displayFrame(&got, &GDEP0154, &c, frame, frame); ok {
			t.Fatal("displayFrame() succeeded")
		}
		if len(got.records) != 0 {
			t.Errorf("sent %d commands, want none", len(got.records))
		}
		if c.at != 0 {
			t.Errorf("cadence advanced to %d", c.at)
		}
	})

	t.Run("second wait", func(t *testing.T) {
		got := fakeController{busy: []bool{false, true}}
		c := cadence{every: 30}

		if _, ok := displayFrame(&got, &GDEP0154, &c, frame, frame); ok {
			t.Fatal("displayFrame() succeeded")
		}

		want := concat(lutRecords(GDEP0154.fullLUT), windowRecords(200, 200))
		if diff := diffRecords(got.records, want); diff != "" {
			t.Errorf("displayFrame() difference (-got +want):\n%s", diff)
		}
		if c.at != 1 {
			t.Errorf("cadence at %d, want 1", c.at)
		}
	})
}

func TestPrime(t *testing.T) {
	white := bytes.Repeat([]byte{0xFF}, 5000)
	black := bytes.Repeat([]byte{0x00}, 5000)

	for _, tc := range []struct {
		name  string
		model *Model
		want  []record
	}{
		{
			name:  "five-channel",
			model: &GDEW0154M09,
			want: []record{
				{cmd: dataStartTransmission1, data: black},
				{cmd: dataStartTransmission2, data: white},
				{cmd: displayRefresh},
				{cmd: dataStartTransmission1, data: white},
				{cmd: dataStartTransmission2, data: black},
				{cmd: displayRefresh},
			},
		},
		{
			name:  "single",
			model: &GDEP0154,
			want: concat(
				windowRecords(200, 200),
				[]record{
					{cmd: writeRAMBW, data: white},
					{cmd: displayUpdateControl2, data: []byte{0xC4}},
					{cmd: masterActivation},
					{cmd: terminateFrameReadWrite},
				},
				windowRecords(200, 200),
				[]record{
					{cmd: writeRAMBW, data: black},
					{cmd: displayUpdateControl2, data: []byte{0xC4}},
					{cmd: masterActivation},
					{cmd: terminateFrameReadWrite},
				},
			),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var got fakeController

			if !prime(&got, tc.model) {
				t.Fatal("prime() failed")
			}
			if got.waits != 3 {
				t.Errorf("waited %d times, want 3", got.waits)
			}
			if diff := diffRecords(got.records, tc.want); diff != "" {
				t.Errorf("prime() difference (-got +want):\n%s", diff)
			}
		})
	}
}

func TestPrimeWhileBusy(t *testing.T) {
	for _, m := range []*Model{&GDEP0154, &GDEW0154M09} {
		got := fakeController{busy: []bool{true}}

		if prime(&got, m) {
			t.Errorf("%s: prime() succeeded on a busy panel", m.Name)
		}
		if len(got.records) != 0 {
			t.Errorf("%s: prime() sent %d commands while busy", m.Name, len(got.records))
		}
	}
}

func TestEnterDeepSleep(t *testing.T) {
	want := []record{
		{cmd: vcomDataIntervalSetting, data: []byte{0xF7}},
		{cmd: powerOff},
		{cmd: deepSleep, data: []byte{0xA5}},
	}

	for _, tc := range []struct {
		name string
		busy []bool
		want bool
	}{
		{name: "idle", want: true},
		{name: "stuck", busy: []bool{true}, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := fakeController{busy: tc.busy}

			if idle := enterDeepSleep(&got); idle != tc.want {
				t.Errorf("enterDeepSleep() = %v, want %v", idle, tc.want)
			}
			if diff := diffRecords(got.records, want); diff != "" {
				t.Errorf("enterDeepSleep() difference (-got +want):\n%s", diff)
			}
		})
	}
}
