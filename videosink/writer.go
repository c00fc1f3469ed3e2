// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package videosink

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/textproto"
	"sort"
	"strconv"
)

// randomBoundary generates a MIME multipart boundary compatible with RFC 2046
// (section 5.1.1).
func randomBoundary() string {
	var buf [30]byte
	if _, err := io.ReadFull(rand.Reader, buf[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}

// partWriter writes a never ending multipart stream. "mime/multipart".Writer
// only emits the closing boundary of a part when the next one starts, which
// leaves clients one picture behind.
type partWriter struct {
	u        io.Writer
	boundary string
	started  bool
	buf      bytes.Buffer
}

func makePartWriter(u io.Writer) *partWriter {
	return &partWriter{
		u:        u,
		boundary: randomBoundary(),
	}
}

// writeFrame sends a single part followed by its closing boundary line.
// Headers are written in sorted order. Content-Length is set on the caller's
// header.
func (w *partWriter) writeFrame(header textproto.MIMEHeader, body []byte) error {
	header.Set("Content-Length", strconv.Itoa(len(body)))

	w.buf.Reset()
	if !w.started {
		fmt.Fprintf(&w.buf, "--%s\r\n", w.boundary)
		w.started = true
	}

	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range header[name] {
			fmt.Fprintf(&w.buf, "%s: %s\r\n", name, value)
		}
	}
	w.buf.WriteString("\r\n")
	w.buf.Write(body)
	fmt.Fprintf(&w.buf, "\r\n--%s\r\n", w.boundary)

	_, err := w.buf.WriteTo(w.u)
	return err
}
