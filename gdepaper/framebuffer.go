// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdepaper

import "bytes"

// Color is the state of one pixel.
type Color bool

const (
	// On is ink (black).
	On Color = true
	// Off is bare paper (white).
	Off Color = false
)

func (c Color) String() string {
	if c {
		return "On"
	}
	return "Off"
}

// framebuffer packs one pixel per bit, MSB first, eight horizontal pixels
// per byte, rows one after the other.
//
// The panel reads a cleared bit as ink, so On clears and Off sets.
type framebuffer struct {
	width  int
	height int
	buf    []byte
}

func newFramebuffer(width, height int) *framebuffer {
	return &framebuffer{
		width:  width,
		height: height,
		buf:    bytes.Repeat([]byte{0xFF}, width*height/8),
	}
}

// fillByte returns the byte value that paints eight pixels with c.
func fillByte(c Color) byte {
	if c == On {
		return 0x00
	}
	return 0xFF
}

func (fb *framebuffer) fill(c Color) {
	v := fillByte(c)
	for i := range fb.buf {
		fb.buf[i] = v
	}
}

func (fb *framebuffer) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < fb.width && y < fb.height
}

func (fb *framebuffer) setPixel(x, y int, c Color) {
	if !fb.inBounds(x, y) {
		return
	}

	pos := (x + y*fb.width) / 8
	mask := byte(0x80) >> (x & 0x07)

	if c == On {
		fb.buf[pos] &^= mask
	} else {
		fb.buf[pos] |= mask
	}
}

func (fb *framebuffer) pixel(x, y int) Color {
	if !fb.inBounds(x, y) {
		return Off
	}
	mask := byte(0x80) >> (x & 0x07)
	return fb.buf[(x+y*fb.width)/8]&mask == 0
}
