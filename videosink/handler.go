// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package videosink

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
	"mime"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// bufferPool stores reusable []byte instances.
var bufferPool = sync.Pool{
	New: func() any {
		return []byte(nil)
	},
}

// Pictures are two-tone so a high quality avoids ringing around glyphs.
var jpegOptions = jpeg.Options{Quality: 95}

type imageConfig struct {
	format ImageFormat
}

func (d *Display) configFromQuery(values url.Values) (imageConfig, bool, error) {
	cfg := imageConfig{
		format: d.defaultFormat,
	}

	if value := values.Get("format"); value != "" {
		format, err := ImageFormatFromString(value)
		if err != nil {
			return imageConfig{}, false, err
		}
		cfg.format = format
	}

	once := false
	if value := values.Get("once"); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return imageConfig{}, false, fmt.Errorf("invalid once value %q", value)
		}
		once = b
	}

	return cfg, once, nil
}

type client struct {
	refresh   chan struct{}
	terminate chan struct{}
}

func (d *Display) bufferChangedLocked() {
	for cfg, buffer := range d.snapshot {
		if buffer != nil {
			//lint:ignore SA6002 buffer is []byte and thus pointer-like
			bufferPool.Put(buffer)
		}

		delete(d.snapshot, cfg)
	}

	for c := range d.clients {
		select {
		case c.refresh <- struct{}{}:
		default:
		}
	}
}

func (d *Display) terminateClientsLocked() {
	for c := range d.clients {
		select {
		case c.terminate <- struct{}{}:
		default:
		}
	}
}

func (d *Display) encodeBufferLocked(format ImageFormat) ([]byte, error) {
	buf := bytes.NewBuffer(bufferPool.Get().([]byte)[:0])

	switch format {
	case PNG:
		if err := pngEncoder.get(png.BestSpeed).Encode(buf, toGray(d.buffer)); err != nil {
			return nil, err
		}

	case JPEG:
		if err := jpeg.Encode(buf, toGray(d.buffer), &jpegOptions); err != nil {
			return nil, err
		}

	case Raw:
		buf.Write(packRaw(d.buffer))

	default:
		return nil, fmt.Errorf("unhandled image format %s", format)
	}

	return buf.Bytes(), nil
}

func (d *Display) grabSnapshot(cfg imageConfig) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	encoded, ok := d.snapshot[cfg]
	if !ok {
		var err error

		encoded, err = d.encodeBufferLocked(cfg.format)
		if err != nil {
			return nil, err
		}
		d.snapshot[cfg] = encoded
	}

	return append(bufferPool.Get().([]byte)[:0], encoded...), nil
}

func (d *Display) logError(msg string, err error, kv ...any) {
	if d.log != nil {
		d.log.Error(msg, err, kv...)
	}
}

// serveOnce replies with the current picture as a plain image.
func (d *Display) serveOnce(w http.ResponseWriter, cfg imageConfig) {
	payload, err := d.grabSnapshot(cfg)
	if err != nil {
		d.logError("encoding picture failed", err, "format", cfg.format)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	//lint:ignore SA6002 buffer is []byte and thus pointer-like
	defer bufferPool.Put(payload)

	w.Header().Set("Content-Type", cfg.format.mimeType())
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	if _, err := w.Write(payload); err != nil {
		d.logError("writing picture failed", err)
	}
}

// ServeHTTP handles HTTP GET requests and sends a stream of images
// representing the panel in response. The display options control the
// default format and clients can explicitly request a format using the
// "format" parameter ("?format=png", "?format=jpeg", "?format=raw"). With
// "?once=1" a single image is returned.
func (d *Display) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.Body.Close(); err != nil {
		d.logError("closing request body failed", err)
	}

	if r.Method != http.MethodGet {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}

	cfg, once, err := d.configFromQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if once {
		d.serveOnce(w, cfg)
		return
	}

	pw := makePartWriter(w)

	w.Header().Set("Content-Type",
		mime.FormatMediaType("multipart/x-mixed-replace", map[string]string{
			"boundary": pw.boundary,
		}))

	c := &client{
		refresh:   make(chan struct{}, 1),
		terminate: make(chan struct{}, 1),
	}

	d.mu.Lock()
	d.clients[c] = struct{}{}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.clients, c)
		d.mu.Unlock()
	}()

	partHeaders := make(textproto.MIMEHeader)
	partHeaders.Set("Content-Type", cfg.format.mimeType())
	partHeaders.Set("Content-Transfer-Encoding", "binary")

	for {
		payload, err := d.grabSnapshot(cfg)
		if err != nil {
			d.logError("encoding picture failed", err, "format", cfg.format)
			return
		}

		err = pw.writeFrame(partHeaders, payload)

		//lint:ignore SA6002 buffer is []byte and thus pointer-like
		bufferPool.Put(payload)

		if err != nil {
			// Errors cause the request to be silently terminated. There's no
			// good way to deliver an error message to the client within an
			// image stream.
			return
		}

		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		var keepalive <-chan time.Time
		if d.keepalive > 0 {
			keepalive = d.clock.After(d.keepalive)
		}

		select {
		case <-c.refresh:
		case <-keepalive:
		case <-c.terminate:
			return
		case <-r.Context().Done():
			return
		}
	}
}
