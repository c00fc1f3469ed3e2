// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package panelsim

import (
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// BusyPin reads high for ReadsPerRefresh reads after every operation that
// keeps the controller busy. With Stuck set it never goes low.
type BusyPin struct {
	*gpiotest.Pin

	ReadsPerRefresh int

	mu        sync.Mutex
	stuck     bool
	remaining int
	reads     int
}

// SetStuck makes the line read high until cleared.
func (b *BusyPin) SetStuck(stuck bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stuck = stuck
}

// Reads returns how often the line was sampled.
func (b *BusyPin) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

func (b *BusyPin) start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = b.ReadsPerRefresh
}

// Read implements gpio.PinIn.
func (b *BusyPin) Read() gpio.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++
	if b.stuck {
		return gpio.High
	}
	if b.remaining > 0 {
		b.remaining--
		return gpio.High
	}
	return gpio.Low
}

// ResetPin counts reset pulses and wakes the panel on each of them.
type ResetPin struct {
	*gpiotest.Pin

	panel  *Panel
	mu     sync.Mutex
	pulses int
}

// Out implements gpio.PinOut.
func (r *ResetPin) Out(l gpio.Level) error {
	prev := r.Pin.Read()
	if err := r.Pin.Out(l); err != nil {
		return err
	}
	if prev == gpio.Low && l == gpio.High {
		r.mu.Lock()
		r.pulses++
		r.mu.Unlock()
		r.panel.wake()
	}
	return nil
}

// Pulses returns the number of completed reset pulses.
func (r *ResetPin) Pulses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulses
}

var (
	_ gpio.PinIn  = &BusyPin{}
	_ gpio.PinOut = &ResetPin{}
)
