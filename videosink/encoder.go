// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package videosink

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"

	"periph.io/x/devices/v3/ssd1306/image1bit"
)

type pngEncoderBufferPool sync.Pool

func (p *pngEncoderBufferPool) Get() *png.EncoderBuffer {
	buf, _ := (*sync.Pool)(p).Get().(*png.EncoderBuffer)
	return buf
}

func (p *pngEncoderBufferPool) Put(buf *png.EncoderBuffer) {
	(*sync.Pool)(p).Put(buf)
}

type pngEncoderManager struct {
	mu   sync.Mutex
	pool pngEncoderBufferPool
	enc  map[png.CompressionLevel]*png.Encoder
}

var pngEncoder pngEncoderManager

// get returns a PNG encoder with a globally shared buffer pool.
func (m *pngEncoderManager) get(level png.CompressionLevel) *png.Encoder {
	m.mu.Lock()
	defer m.mu.Unlock()

	enc := m.enc[level]
	if enc == nil {
		if m.enc == nil {
			// The vast majority of use cases will involve exactly one
			// compression level.
			m.enc = make(map[png.CompressionLevel]*png.Encoder, 1)
		}

		enc = &png.Encoder{
			CompressionLevel: level,
			BufferPool:       &m.pool,
		}

		m.enc[level] = enc
	}

	return enc
}

// toGray expands a 1-bit picture so the standard encoders take their fast
// path.
func toGray(src *image1bit.VerticalLSB) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if src.BitAt(x, y) == image1bit.On {
				dst.SetGray(x, y, color.Gray{Y: 0xFF})
			}
		}
	}
	return dst
}

// packRaw returns the picture in panel wire format: rows of MSB-first bytes
// where a cleared bit is ink. Row padding reads as paper.
func packRaw(src *image1bit.VerticalLSB) []byte {
	b := src.Bounds()
	stride := (b.Dx() + 7) / 8
	out := bytes.Repeat([]byte{0xFF}, stride*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if src.BitAt(b.Min.X+x, b.Min.Y+y) == image1bit.Off {
				out[y*stride+x/8] &^= 0x80 >> (x & 7)
			}
		}
	}
	return out
}
