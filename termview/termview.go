// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package termview implements a display.Drawer that previews a monochrome
// e-paper picture on the terminal using ANSI color codes.
//
// Each terminal cell shows one pixel out of a Scale x 2*Scale block since
// terminal cells are about twice as tall as wide.
package termview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Opts represents the options available for this display.
type Opts struct {
	Width  int
	Height int
	// Scale is the number of pixels per terminal column. Defaults to 1.
	Scale   int
	Palette *ansi256.Palette
	// Home moves the cursor to the top left corner before every picture so
	// it is redrawn in place.
	Home bool
	// W defaults to a colorable stdout.
	W io.Writer

	_ struct{}
}

// Dev is an e-paper emulator that outputs to the console.
type Dev struct {
	w       io.Writer
	scale   int
	home    bool
	palette ansi256.Palette

	img *image1bit.VerticalLSB
	buf bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) *Dev {
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	w := opts.W
	if w == nil {
		w = colorable.NewColorableStdout()
	}
	scale := opts.Scale
	if scale < 1 {
		scale = 1
	}
	d := &Dev{
		w:       w,
		scale:   scale,
		home:    opts.Home,
		palette: *p,
		img:     image1bit.NewVerticalLSB(image.Rect(0, 0, opts.Width, opts.Height)),
	}
	draw.Src.Draw(d.img, d.img.Bounds(), &image.Uniform{C: image1bit.On}, image.Point{})
	return d
}

func (d *Dev) String() string {
	return fmt.Sprintf("TermView{%dx%d}", d.img.Bounds().Dx(), d.img.Bounds().Dy())
}

// Halt implements conn.Resource.
//
// It resets the terminal colors.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\033[0m\n"))
	return err
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return d.img.Bounds()
}

// Draw implements display.Drawer.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	draw.Src.Draw(d.img, r, src, sp)
	return d.refresh()
}

// Show draws a whole frame, as produced by a panel refresh.
func (d *Dev) Show(frame image.Image) error {
	return d.Draw(d.Bounds(), frame, frame.Bounds().Min)
}

var (
	paper = color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF}
	ink   = color.NRGBA{0x00, 0x00, 0x00, 0xFF}
)

func (d *Dev) refresh() error {
	b := d.img.Bounds()
	d.buf.Reset()
	if d.home {
		_, _ = d.buf.WriteString("\033[H")
	}

	white := d.palette.Block(paper)
	black := d.palette.Block(ink)
	for y := b.Min.Y; y < b.Max.Y; y += 2 * d.scale {
		_, _ = d.buf.WriteString("\033[0m")
		for x := b.Min.X; x < b.Max.X; x += d.scale {
			if d.img.BitAt(x, y) == image1bit.On {
				_, _ = d.buf.WriteString(white)
			} else {
				_, _ = d.buf.WriteString(black)
			}
		}
		_, _ = d.buf.WriteString("\033[0m\n")
	}

	_, err := d.buf.WriteTo(d.w)
	return err
}

var _ display.Drawer = &Dev{}
var _ fmt.Stringer = &Dev{}
