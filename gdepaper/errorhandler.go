// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdepaper

import (
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// errorHandler is a wrapper for error management. The first transport error
// is kept and every later operation becomes a no-op. A busy timeout only
// marks the handler; the sequence decides whether to go on.
type errorHandler struct {
	d        *Dev
	err      error
	timedOut bool
}

// result returns the transport error, or ErrBusyTimeout if the panel did
// not become idle at some point.
func (eh *errorHandler) result() error {
	if eh.err != nil {
		return eh.err
	}
	if eh.timedOut {
		return ErrBusyTimeout
	}
	return nil
}

func (eh *errorHandler) rstOut(l gpio.Level) {
	if eh.err != nil || eh.d.rst == nil {
		return
	}
	eh.err = eh.d.rst.Out(l)
}

// cTx writes w, split into chunks when the connection limits the transfer
// size.
func (eh *errorHandler) cTx(w []byte) {
	if eh.err != nil {
		return
	}

	chunk := len(w)
	if l, ok := eh.d.c.(conn.Limits); ok {
		if m := l.MaxTxSize(); m > 0 && m < chunk {
			chunk = m
		}
	}

	for len(w) > 0 && eh.err == nil {
		n := min(chunk, len(w))
		eh.err = eh.d.c.Tx(w[:n], nil)
		w = w[n:]
	}
}

func (eh *errorHandler) dcOut(l gpio.Level) {
	if eh.err != nil {
		return
	}
	eh.err = eh.d.dc.Out(l)
}

// csOut is a no-op when chip select is driven by the SPI port itself.
func (eh *errorHandler) csOut(l gpio.Level) {
	if eh.err != nil || eh.d.cs == nil {
		return
	}
	eh.err = eh.d.cs.Out(l)
}

func (eh *errorHandler) waitUntilIdle() bool {
	if eh.err != nil {
		return false
	}
	if err := eh.d.awaitReady(); err != nil {
		eh.timedOut = true
		return false
	}
	return true
}

func (eh *errorHandler) sendCommand(cmd byte) {
	if eh.err != nil {
		return
	}

	eh.dcOut(gpio.Low)
	eh.csOut(gpio.Low)
	eh.cTx([]byte{cmd})
	eh.csOut(gpio.High)
}

func (eh *errorHandler) sendData(data []byte) {
	if eh.err != nil {
		return
	}

	eh.dcOut(gpio.High)
	eh.csOut(gpio.Low)
	eh.cTx(data)
	eh.csOut(gpio.High)
}
