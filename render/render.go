// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package render composes the pages shown on the panel and reduces them to
// 1-bit pictures.
//
// Text is drawn with github.com/fogleman/gg using the Go regular TrueType
// face, or the fixed 7x13 bitmap face when no font size is set. Photos are
// fitted with github.com/disintegration/imaging and dithered with
// github.com/MaxHalford/halfgone.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/MaxHalford/halfgone"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/jonboulle/clockwork"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Page is the content of one panel update.
type Page struct {
	Title string
	Lines []string
	// Image is the path of a picture drawn below the title.
	Image string
	// ShowClock prints the time of rendering in the bottom right corner.
	ShowClock bool
}

// Empty reports whether the page has nothing to draw.
func (p *Page) Empty() bool {
	return p.Title == "" && len(p.Lines) == 0 && p.Image == "" && !p.ShowClock
}

// Opts configures a Renderer.
type Opts struct {
	Width, Height int
	// FontSize in points for the TrueType face. Zero selects the 7x13 bitmap
	// face.
	FontSize float64
	// Margin around the page in pixels.
	Margin int
	Clock  clockwork.Clock
}

// Renderer draws pages of a fixed size.
type Renderer struct {
	width, height int
	margin        float64
	face          font.Face
	clock         clockwork.Clock
}

// New returns a Renderer for pictures of opts.Width by opts.Height pixels.
func New(opts *Opts) (*Renderer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("render: invalid size %dx%d", opts.Width, opts.Height)
	}
	if opts.FontSize < 0 {
		return nil, fmt.Errorf("render: invalid font size %g", opts.FontSize)
	}
	var face font.Face = basicfont.Face7x13
	if opts.FontSize > 0 {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		face = truetype.NewFace(f, &truetype.Options{Size: opts.FontSize})
	}
	clk := opts.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Renderer{
		width:  opts.Width,
		height: opts.Height,
		margin: float64(opts.Margin),
		face:   face,
		clock:  clk,
	}, nil
}

// Bounds returns the size of rendered pictures.
func (r *Renderer) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.width, r.height)
}

// Render draws p and returns the 1-bit picture.
func (r *Renderer) Render(p *Page) (*image1bit.VerticalLSB, error) {
	dc := gg.NewContext(r.width, r.height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.SetFontFace(r.face)
	lh := dc.FontHeight() * 1.4

	y := r.margin
	if p.Title != "" {
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(p.Title, float64(r.width)/2, y, 0.5, 1)
		y += lh
		dc.SetLineWidth(1)
		dc.DrawLine(r.margin, y-lh*0.2, float64(r.width)-r.margin, y-lh*0.2)
		dc.Stroke()
	}

	photo := false
	if p.Image != "" {
		src, err := imaging.Open(p.Image)
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		area := image.Rect(int(r.margin), int(y), r.width-int(r.margin), r.height-int(r.margin))
		if area.Empty() {
			return nil, errors.New("render: no room left for the image")
		}
		fitted := imaging.Fit(src, area.Dx(), area.Dy(), imaging.Lanczos)
		dc.DrawImageAnchored(fitted, area.Min.X+area.Dx()/2, area.Min.Y, 0.5, 0)
		y += float64(fitted.Bounds().Dy()) + lh*0.4
		photo = true
	}

	dc.SetColor(color.Black)
	for _, line := range p.Lines {
		if y+lh > float64(r.height) {
			break
		}
		dc.DrawStringAnchored(line, r.margin, y, 0, 1)
		y += lh
	}

	if p.ShowClock {
		now := r.clock.Now().Format("15:04")
		dc.DrawStringAnchored(now, float64(r.width)-r.margin, float64(r.height)-r.margin, 1, 0)
	}

	if photo {
		return Dither(dc.Image(), r.Bounds()), nil
	}
	return Threshold(dc.Image(), r.Bounds()), nil
}

// Dither fits img into bounds, keeping its aspect ratio and centering it on
// a white background, then reduces it to 1 bit with Floyd-Steinberg error
// diffusion.
func Dither(img image.Image, bounds image.Rectangle) *image1bit.VerticalLSB {
	gray := fit(img, bounds)
	return toBits(halfgone.FloydSteinbergDitherer{}.Apply(gray))
}

// Threshold is like Dither but maps every pixel on its own, which keeps
// anti-aliased text crisp.
func Threshold(img image.Image, bounds image.Rectangle) *image1bit.VerticalLSB {
	gray := fit(img, bounds)
	return toBits(halfgone.ThresholdDitherer{Threshold: 127}.Apply(gray))
}

func fit(img image.Image, bounds image.Rectangle) *image.Gray {
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if img.Bounds().Size() == bounds.Size() {
		draw.Draw(gray, bounds, img, img.Bounds().Min, draw.Src)
		return gray
	}
	scaled := imaging.Fit(img, bounds.Dx(), bounds.Dy(), imaging.Lanczos)
	off := image.Pt((bounds.Dx()-scaled.Bounds().Dx())/2, (bounds.Dy()-scaled.Bounds().Dy())/2)
	draw.Draw(gray, scaled.Bounds().Add(bounds.Min).Add(off), scaled, scaled.Bounds().Min, draw.Over)
	return gray
}

func toBits(gray *image.Gray) *image1bit.VerticalLSB {
	out := image1bit.NewVerticalLSB(gray.Bounds())
	draw.Src.Draw(out, out.Bounds(), gray, gray.Bounds().Min)
	return out
}
