// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package epaper is a container for the Good Display e-paper driver and the
// tooling around it.
//
// The driver lives in package gdepaper. Packages panelsim, termview and
// videosink let the driver run without hardware, and cmd/gdepaper is a small
// host that keeps a page rendered on the panel.
package epaper
