// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package panelsim emulates a Good Display e-paper panel on the far side of
// an SPI port.
//
// The Panel decodes the command stream using the level of its DC pin at the
// time of each transfer, keeps the controller RAM and the picture shown
// after the last refresh, and drives a busy line the way the real
// controller does. It is used by tests and by the command line tool when no
// hardware is attached.
package panelsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/GermanBionicSystems/epaper/gdepaper"
)

// Flavor selects the command set the panel understands.
type Flavor uint8

const (
	// SSD uses a RAM address window, writes RAM with 0x24 and refreshes on
	// master activation (0x20 without parameters).
	SSD Flavor = iota
	// JD79653 keeps an old and a new RAM plane (0x10, 0x13), takes five LUT
	// channels (0x20 to 0x24) and refreshes with 0x12.
	JD79653
)

func (f Flavor) String() string {
	switch f {
	case SSD:
		return "ssd"
	case JD79653:
		return "jd79653"
	}
	return fmt.Sprintf("Flavor(%d)", uint8(f))
}

// ErrAsleep is returned for transfers while the panel is in deep sleep.
var ErrAsleep = errors.New("panelsim: panel is in deep sleep")

// Transaction is one command with all data bytes sent after it.
type Transaction struct {
	Cmd  byte
	Data []byte
}

// Window is the RAM address window, X in bytes and Y in pixels.
type Window struct {
	XStart, XEnd int
	YStart, YEnd int
}

// Panel implements spi.PortCloser and spi.Conn.
type Panel struct {
	// DC is the data/command line. The driver writes it.
	DC *gpiotest.Pin
	// Busy is the line read by the driver.
	Busy *BusyPin
	// Reset is the reset line. A low to high transition wakes the panel.
	Reset *ResetPin

	// MaxTx, when positive, is reported through conn.Limits.
	MaxTx int
	// OnRefresh is called, without locks held, after every refresh.
	OnRefresh func(frame *image1bit.VerticalLSB)

	mu        sync.Mutex
	width     int
	height    int
	flavor    Flavor
	freq      physic.Frequency
	connected bool
	asleep    bool

	log     []Transaction
	pending bool // last command still accepts data

	window   Window
	xCounter int
	yCounter int
	ram      []byte
	old      []byte
	shown    []byte

	lutLoads  int
	refreshes int
}

// New returns a panel of the given size. RAM starts blank (all bits set).
func New(width, height int, f Flavor) *Panel {
	p := &Panel{
		DC:     &gpiotest.Pin{N: "DC"},
		width:  width,
		height: height,
		flavor: f,
		ram:    blank(width * height / 8),
		old:    blank(width * height / 8),
		shown:  blank(width * height / 8),
	}
	p.Busy = &BusyPin{Pin: &gpiotest.Pin{N: "BUSY"}, ReadsPerRefresh: 3}
	p.Reset = &ResetPin{Pin: &gpiotest.Pin{N: "RST", L: gpio.High}, panel: p}
	return p
}

// ForModel returns a panel matching m.
func ForModel(m *gdepaper.Model) *Panel {
	f := SSD
	if m.Family == gdepaper.FiveChannel {
		f = JD79653
	}
	return New(m.Width, m.Height, f)
}

func blank(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// String implements conn.Resource.
func (p *Panel) String() string {
	return fmt.Sprintf("panelsim(%dx%d %s)", p.width, p.height, p.flavor)
}

// Close implements spi.PortCloser.
func (p *Panel) Close() error {
	return nil
}

// LimitSpeed implements spi.PortCloser.
func (p *Panel) LimitSpeed(f physic.Frequency) error {
	return nil
}

// Connect implements spi.Port.
func (p *Panel) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil, errors.New("panelsim: Connect cannot be called twice")
	}
	if mode != spi.Mode0 || bits != 8 {
		return nil, fmt.Errorf("panelsim: unsupported mode %s with %d bits", mode, bits)
	}
	p.connected = true
	p.freq = f
	return p, nil
}

// Duplex implements conn.Conn.
func (p *Panel) Duplex() conn.Duplex {
	return conn.Half
}

// MaxTxSize implements conn.Limits.
func (p *Panel) MaxTxSize() int {
	return p.MaxTx
}

// TxPackets implements spi.Conn.
func (p *Panel) TxPackets(pkts []spi.Packet) error {
	for _, pkt := range pkts {
		if err := p.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

// Tx implements conn.Conn. A transfer while DC is low is a command, one
// byte per command; otherwise it is data for the last command.
func (p *Panel) Tx(w, r []byte) error {
	if len(r) != 0 {
		return errors.New("panelsim: reads are not supported")
	}
	if p.MaxTx > 0 && len(w) > p.MaxTx {
		return fmt.Errorf("panelsim: transfer of %d bytes exceeds %d", len(w), p.MaxTx)
	}

	isCmd := p.DC.Read() == gpio.Low

	p.mu.Lock()
	if p.asleep {
		p.mu.Unlock()
		return ErrAsleep
	}
	refreshes := p.refreshes
	if isCmd {
		for _, c := range w {
			p.command(c)
		}
	} else {
		p.data(w)
	}
	var frame *image1bit.VerticalLSB
	if p.refreshes != refreshes && p.OnRefresh != nil {
		frame = p.frameLocked()
	}
	p.mu.Unlock()

	if frame != nil {
		p.OnRefresh(frame)
	}
	return nil
}

func (p *Panel) command(c byte) {
	if p.pending {
		p.pending = false
		p.exec(&p.log[len(p.log)-1])
	}

	p.log = append(p.log, Transaction{Cmd: c})
	p.pending = true
	p.maybeExec()
}

func (p *Panel) data(d []byte) {
	if len(p.log) == 0 {
		return
	}
	t := &p.log[len(p.log)-1]
	t.Data = append(t.Data, d...)
	if p.pending {
		p.maybeExec()
	}
}

// maybeExec runs the last command right away when its parameter count is
// fixed and complete.
func (p *Panel) maybeExec() {
	t := &p.log[len(p.log)-1]
	n, ok := fixedParams[p.flavor][t.Cmd]
	if p.flavor == SSD && t.Cmd == 0x20 && len(t.Data) > 0 {
		// Master activation takes no parameters, so data means a LUT.
		n, ok = ssdLUTSize, true
	}
	if !ok || len(t.Data) < n {
		return
	}
	p.pending = false
	p.exec(t)
}

const (
	ssdLUTSize       = 56
	jdLUTChannelSize = 42
)

var fixedParams = map[Flavor]map[byte]int{
	SSD: {
		0x02: 0, 0x04: 0, 0x07: 1,
		0x22: 1, 0x44: 2, 0x45: 4, 0x4E: 1, 0x4F: 2, 0xFF: 0,
	},
	JD79653: {
		0x02: 0, 0x04: 0, 0x07: 1, 0x12: 0,
		0x20: jdLUTChannelSize, 0x21: jdLUTChannelSize, 0x22: jdLUTChannelSize,
		0x23: jdLUTChannelSize, 0x24: jdLUTChannelSize,
	},
}

// exec applies a complete transaction.
func (p *Panel) exec(t *Transaction) {
	if n, ok := fixedParams[p.flavor][t.Cmd]; ok && len(t.Data) < n {
		// Truncated parameters are ignored like the controller does.
		return
	}

	switch {
	case t.Cmd == 0x02 || t.Cmd == 0x04:
		// Power off and power on take a moment.
		p.Busy.start()
	case t.Cmd == 0x07:
		if len(t.Data) > 0 && t.Data[0] == 0xA5 {
			p.asleep = true
		}
	case p.flavor == SSD:
		p.execSSD(t)
	default:
		p.execJD(t)
	}
}

func (p *Panel) execSSD(t *Transaction) {
	switch t.Cmd {
	case 0x20:
		if len(t.Data) > 0 {
			p.lutLoads++
		} else {
			p.refresh()
		}
	case 0x24:
		off := p.yCounter*(p.width/8) + p.xCounter
		if off < len(p.ram) {
			copy(p.ram[off:], t.Data)
		}
	case 0x44:
		p.window.XStart = int(t.Data[0])
		p.window.XEnd = int(t.Data[1])
	case 0x45:
		p.window.YStart = int(binary.LittleEndian.Uint16(t.Data[0:2]))
		p.window.YEnd = int(binary.LittleEndian.Uint16(t.Data[2:4]))
	case 0x4E:
		p.xCounter = int(t.Data[0])
	case 0x4F:
		p.yCounter = int(binary.LittleEndian.Uint16(t.Data[0:2]))
	}
}

func (p *Panel) execJD(t *Transaction) {
	switch t.Cmd {
	case 0x10:
		copy(p.old, t.Data)
	case 0x13:
		copy(p.ram, t.Data)
	case 0x12:
		p.refresh()
	case 0x20, 0x21, 0x22, 0x23, 0x24:
		if len(t.Data) > 0 {
			p.lutLoads++
		}
	}
}

func (p *Panel) refresh() {
	copy(p.shown, p.ram)
	p.refreshes++
	p.Busy.start()
}

// wake handles a reset pulse.
func (p *Panel) wake() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.asleep = false
	p.pending = false
}

// Transactions returns a copy of everything received so far.
func (p *Panel) Transactions() []Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Transaction, len(p.log))
	for i, t := range p.log {
		out[i] = Transaction{Cmd: t.Cmd, Data: append([]byte(nil), t.Data...)}
	}
	return out
}

// ClearLog forgets the recorded transactions and counters. RAM and the
// shown picture are kept.
func (p *Panel) ClearLog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending {
		p.pending = false
		p.exec(&p.log[len(p.log)-1])
	}
	p.log = nil
	p.lutLoads = 0
	p.refreshes = 0
}

// LUTLoads returns the number of waveform table writes. On JD79653 every
// channel counts.
func (p *Panel) LUTLoads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lutLoads
}

// Refreshes returns the number of refreshes triggered.
func (p *Panel) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// Window returns the last programmed RAM window.
func (p *Panel) Window() Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window
}

// Asleep reports whether the panel is in deep sleep.
func (p *Panel) Asleep() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.asleep
}

// Frequency returns the clock requested in Connect.
func (p *Panel) Frequency() physic.Frequency {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freq
}

// RAM returns a copy of the new-frame RAM plane in wire format.
func (p *Panel) RAM() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.ram...)
}

// OldRAM returns a copy of the previous-frame plane (JD79653 only).
func (p *Panel) OldRAM() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.old...)
}

// Bounds returns the panel size.
func (p *Panel) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.width, p.height)
}

// Frame returns the picture shown after the last refresh. Ink is
// image1bit.Off.
func (p *Panel) Frame() *image1bit.VerticalLSB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameLocked()
}

func (p *Panel) frameLocked() *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, p.width, p.height))
	stride := p.width / 8
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			b := p.shown[y*stride+x/8] & (0x80 >> (x & 7))
			img.SetBit(x, y, image1bit.Bit(b != 0))
		}
	}
	return img
}

var (
	_ spi.PortCloser = &Panel{}
	_ spi.Conn       = &Panel{}
	_ conn.Limits    = &Panel{}
)
