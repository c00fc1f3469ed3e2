// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package videosink

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

func TestNewHalt(t *testing.T) {
	d := New(&Options{Width: 100, Height: 100})

	if err := d.Halt(); err != nil {
		t.Errorf("Halt() failed: %v", err)
	}
}

func TestNewIsBlank(t *testing.T) {
	d := New(&Options{Width: 8, Height: 2})

	if diff := cmp.Diff(packRaw(d.buffer), []byte{0xFF, 0xFF}); diff != "" {
		t.Errorf("blank picture difference (-got +want):\n%s", diff)
	}
	if d.Frames() != 0 {
		t.Errorf("Frames() = %d, want 0", d.Frames())
	}
}

func TestShow(t *testing.T) {
	d := New(&Options{Width: 10, Height: 2})

	frame := image1bit.NewVerticalLSB(image.Rect(0, 0, 10, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 10; x++ {
			frame.SetBit(x, y, image1bit.On)
		}
	}
	frame.SetBit(0, 0, image1bit.Off)
	frame.SetBit(9, 1, image1bit.Off)

	d.Show(frame)
	d.Show(frame)

	if got := d.Frames(); got != 2 {
		t.Errorf("Frames() = %d, want 2", got)
	}
	want := []byte{0x7F, 0xFF, 0xFF, 0xBF}
	if diff := cmp.Diff(packRaw(d.buffer), want); diff != "" {
		t.Errorf("packRaw() difference (-got +want):\n%s", diff)
	}
}

func TestToGray(t *testing.T) {
	src := image1bit.NewVerticalLSB(image.Rect(0, 0, 2, 1))
	src.SetBit(1, 0, image1bit.On)

	got := toGray(src)
	if diff := cmp.Diff(got.Pix, []byte{0x00, 0xFF}); diff != "" {
		t.Errorf("toGray() difference (-got +want):\n%s", diff)
	}
}

func TestPackRawPadding(t *testing.T) {
	// All ink, three pixels wide.
	src := image1bit.NewVerticalLSB(image.Rect(0, 0, 3, 2))

	if diff := cmp.Diff(packRaw(src), []byte{0x1F, 0x1F}); diff != "" {
		t.Errorf("packRaw() difference (-got +want):\n%s", diff)
	}
}
