// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package videosink mirrors a monochrome e-paper picture over HTTP. Client
// requests get an initial snapshot of the picture and are updated further on
// every panel refresh.
//
// The protocol used is "MJPEG" (https://en.wikipedia.org/wiki/Motion_JPEG)
// which is often used by IP cameras. PNG is used by default as it suits
// 1-bit graphics. JPEG and the raw panel wire format can be selected via
// Options.Format or the "format" URL parameter. With "once" set the handler
// returns a single image instead of a stream.
package videosink

import (
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/display"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// Logger receives request errors.
type Logger interface {
	Error(msg string, err error, kv ...any)
}

// Options for videosink devices.
type Options struct {
	// Width and height of the panel.
	Width, Height int

	// Format specifies the image format to send to clients.
	Format ImageFormat

	// Keepalive resends the current picture when nothing changed for this
	// long. Zero disables it.
	Keepalive time.Duration

	Clock  clockwork.Clock
	Logger Logger
}

// Display is a display.Drawer whose content is served over HTTP.
type Display struct {
	defaultFormat ImageFormat
	keepalive     time.Duration
	clock         clockwork.Clock
	log           Logger

	mu       sync.Mutex
	buffer   *image1bit.VerticalLSB
	frames   int
	clients  map[*client]struct{}
	snapshot map[imageConfig][]byte
}

var _ display.Drawer = (*Display)(nil)
var _ http.Handler = (*Display)(nil)

// New creates a new videosink device instance. The picture starts blank.
func New(opt *Options) *Display {
	buffer := image1bit.NewVerticalLSB(image.Rect(0, 0, opt.Width, opt.Height))
	draw.Src.Draw(buffer, buffer.Bounds(), &image.Uniform{C: image1bit.On}, image.Point{})

	d := &Display{
		buffer:        buffer,
		clients:       map[*client]struct{}{},
		snapshot:      map[imageConfig][]byte{},
		defaultFormat: opt.Format,
		keepalive:     opt.Keepalive,
		clock:         opt.Clock,
		log:           opt.Logger,
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	return d
}

// String returns the name of the device.
func (d *Display) String() string {
	return "VideoSink"
}

// Halt implements conn.Resource and terminates all running client requests
// asynchronously.
func (d *Display) Halt() error {
	d.mu.Lock()
	d.terminateClientsLocked()
	d.mu.Unlock()

	return nil
}

// ColorModel implements display.Drawer.
func (d *Display) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds implements display.Drawer.
func (d *Display) Bounds() image.Rectangle {
	return d.buffer.Bounds()
}

// Draw implements display.Drawer.
func (d *Display) Draw(dstRect image.Rectangle, src image.Image, srcPts image.Point) error {
	d.mu.Lock()
	draw.Src.Draw(d.buffer, dstRect, src, srcPts)
	d.frames++
	d.bufferChangedLocked()
	d.mu.Unlock()

	return nil
}

// Show replaces the whole picture. It matches the panel refresh hook.
func (d *Display) Show(frame *image1bit.VerticalLSB) {
	_ = d.Draw(d.Bounds(), frame, frame.Bounds().Min)
}

// Frames returns the number of pictures drawn so far.
func (d *Display) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Clients returns the number of connected streaming clients.
func (d *Display) Clients() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}
