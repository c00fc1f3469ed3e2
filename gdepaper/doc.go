// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gdepaper controls Good Display 1.54 inch monochrome e-paper panels.
//
// The panel is driven over SPI with a data/command select line. Reset and
// busy lines are optional. The driver keeps a 1-bit framebuffer, streams it
// to the panel RAM and alternates full and partial refreshes: every
// FullUpdateEvery frames the full-waveform LUT is loaded, the frames in
// between use the faster partial LUT.
//
// Two controller families are supported. GDEP0154 takes a single combined
// waveform table and is addressed through a RAM window. GDEW0154M09 (JD79653)
// takes five per-transition tables and two RAM planes.
//
// Datasheets
//
// https://www.good-display.com/product/206.html
//
// https://www.good-display.com/product/207.html
package gdepaper
