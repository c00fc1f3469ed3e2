// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gdepaper

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3/rpi"

	"github.com/GermanBionicSystems/epaper/internal/log"
)

// Commands
const (
	panelSetting            byte = 0x00
	powerSetting            byte = 0x01
	powerOff                byte = 0x02
	powerOn                 byte = 0x04
	boosterSoftStart        byte = 0x06
	deepSleep               byte = 0x07
	dataStartTransmission1  byte = 0x10
	displayRefresh          byte = 0x12
	dataStartTransmission2  byte = 0x13
	writeLUTRegister        byte = 0x20
	lutVCOM                 byte = 0x20
	lutWW                   byte = 0x21
	lutBW                   byte = 0x22
	lutWB                   byte = 0x23
	lutBB                   byte = 0x24
	pllControl              byte = 0x30
	internalCode4D          byte = 0x4D
	vcomDataIntervalSetting byte = 0x50
	tconSetting             byte = 0x60
	resolutionSetting       byte = 0x61
	vcmDCSetting            byte = 0x82
	internalCodeAA          byte = 0xAA
	internalCodeB6          byte = 0xB6
	powerSaving             byte = 0xE3
	internalCodeE9          byte = 0xE9
	internalCodeF3          byte = 0xF3

	// SSD-style RAM access, used by the single-table panel.
	masterActivation               byte = 0x20
	displayUpdateControl2          byte = 0x22
	writeRAMBW                     byte = 0x24
	setRAMXAddressStartEndPosition byte = 0x44
	setRAMYAddressStartEndPosition byte = 0x45
	setRAMXAddressCounter          byte = 0x4E
	setRAMYAddressCounter          byte = 0x4F
	terminateFrameReadWrite        byte = 0xFF
)

const (
	defaultResetDuration   = 200 * time.Millisecond
	resetRecovery          = 200 * time.Millisecond
	busyPollInterval       = 10 * time.Millisecond
	defaultFullUpdateEvery = 30
	defaultSpeed           = 5 * physic.MegaHertz
)

var (
	// ErrBusyTimeout is returned when the busy line is not released within
	// the configured timeout. The frame is dropped; the next call retries.
	ErrBusyTimeout = errors.New("gdepaper: panel busy timeout")
	// ErrNotReady is returned when the panel is used before Init or after
	// DeepSleep.
	ErrNotReady = errors.New("gdepaper: panel not initialized")
)

// Logger receives the driver's diagnostics.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
}

// Prime selects when the white/black priming pass runs.
type Prime uint8

const (
	// PrimeDefault follows the model.
	PrimeDefault Prime = iota
	// PrimeNever skips priming.
	PrimeNever
	// PrimeOnInit primes once after bring-up.
	PrimeOnInit
	// PrimeEveryFrame primes after bring-up and before every frame. Slow.
	PrimeEveryFrame
)

var primeNames = [...]string{"default", "never", "init", "every-frame"}

func (p Prime) String() string {
	if int(p) < len(primeNames) {
		return primeNames[p]
	}
	return fmt.Sprintf("Prime(%d)", uint8(p))
}

// ParsePrime converts a name as returned by String back to a Prime.
func ParsePrime(s string) (Prime, error) {
	if s == "" {
		return PrimeDefault, nil
	}
	for i, n := range primeNames {
		if n == s {
			return Prime(i), nil
		}
	}
	return PrimeDefault, fmt.Errorf("gdepaper: unknown prime mode %q", s)
}

// State is the lifecycle state of the panel.
type State uint8

const (
	// Uninitialized is the state before the first Init.
	Uninitialized State = iota
	// Ready accepts Display and DeepSleep.
	Ready
	// Updating is held for the duration of Display.
	Updating
	// Sleeping is deep sleep. Init wakes the panel up.
	Sleeping
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Updating:
		return "updating"
	case Sleeping:
		return "sleeping"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Status reports whether the last frame reached the panel.
type Status uint8

const (
	StatusOK Status = iota
	// StatusWarning is set when a frame was dropped because the panel stayed
	// busy. It clears on the next successful frame.
	StatusWarning
)

func (s Status) String() string {
	if s == StatusWarning {
		return "warning"
	}
	return "ok"
}

// Opts defines the structure of the display configuration.
type Opts struct {
	Model *Model

	// ResetDuration is how long reset is held low. Zero means 200ms.
	ResetDuration time.Duration
	// FullUpdateEvery is the number of frames per full refresh. Zero loads
	// the full waveform once at Init and never switches.
	FullUpdateEvery uint32
	// BusyTimeout bounds every wait on the busy line. Zero means the model's
	// IdleTimeout.
	BusyTimeout time.Duration
	Prime       Prime
	// MaxSpeed is the SPI clock. Zero means 5MHz.
	MaxSpeed physic.Frequency

	// Clock defaults to the real clock.
	Clock clockwork.Clock
	// Logger defaults to the process logger.
	Logger Logger
}

// DefaultOpts returns the options recommended for m.
func DefaultOpts(m *Model) *Opts {
	return &Opts{
		Model:           m,
		ResetDuration:   defaultResetDuration,
		FullUpdateEvery: defaultFullUpdateEvery,
		BusyTimeout:     m.IdleTimeout,
		MaxSpeed:        defaultSpeed,
	}
}

// Dev defines the handler which is used to access the display.
type Dev struct {
	c conn.Conn

	dc   gpio.PinOut
	cs   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn

	model         *Model
	resetDuration time.Duration
	busyTimeout   time.Duration
	prime         Prime
	clock         clockwork.Clock
	log           Logger

	fb      *framebuffer
	prev    []byte
	cadence cadence
	state   State
	status  Status
}

// New creates new handler which is used to access the display.
//
// dc is required. cs may be nil when the SPI port drives chip select, rst may
// be nil when reset is not wired and busy may be nil in which case the panel
// is assumed to be always ready. gpio.INVALID counts as not wired.
func New(p spi.Port, dc, cs, rst gpio.PinOut, busy gpio.PinIn, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = DefaultOpts(&GDEP0154)
	}
	if opts.Model == nil {
		return nil, errors.New("gdepaper: no panel model")
	}
	if dc = wiredOut(dc); dc == nil {
		return nil, errors.New("gdepaper: dc pin is required")
	}
	cs = wiredOut(cs)
	rst = wiredOut(rst)
	if busy == nil || busy == gpio.INVALID {
		busy = nil
	}

	speed := opts.MaxSpeed
	if speed == 0 {
		speed = defaultSpeed
	}
	c, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		return nil, err
	}

	d := &Dev{
		c:             c,
		dc:            dc,
		cs:            cs,
		rst:           rst,
		busy:          busy,
		model:         opts.Model,
		resetDuration: opts.ResetDuration,
		busyTimeout:   opts.BusyTimeout,
		prime:         opts.Prime,
		clock:         opts.Clock,
		log:           opts.Logger,
		fb:            newFramebuffer(opts.Model.Width, opts.Model.Height),
		cadence:       cadence{every: opts.FullUpdateEvery},
	}
	if d.resetDuration == 0 {
		d.resetDuration = defaultResetDuration
	}
	if d.busyTimeout == 0 {
		d.busyTimeout = d.model.IdleTimeout
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	if d.log == nil {
		d.log = log.Default()
	}
	d.prev = append([]byte(nil), d.fb.buf...)

	if err := dc.Out(gpio.Low); err != nil {
		return nil, err
	}
	if cs != nil {
		if err := cs.Out(gpio.High); err != nil {
			return nil, err
		}
	}
	if rst != nil {
		if err := rst.Out(gpio.High); err != nil {
			return nil, err
		}
	}
	if busy != nil {
		if err := busy.In(gpio.Float, gpio.NoEdge); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// NewHat creates new handler which is used to access the display. The pin
// assignment of the Waveshare style Raspberry Pi adapter is used.
func NewHat(p spi.Port, opts *Opts) (*Dev, error) {
	dc := rpi.P1_22
	cs := rpi.P1_24
	rst := rpi.P1_11
	busy := rpi.P1_18
	return New(p, dc, cs, rst, busy, opts)
}

func wiredOut(p gpio.PinOut) gpio.PinOut {
	if p == nil || p == gpio.INVALID {
		return nil
	}
	return p
}

// Init resets the panel, runs its bring-up sequence and loads the full
// waveform. It also wakes the panel from deep sleep.
func (d *Dev) Init() error {
	if err := d.Reset(); err != nil {
		return err
	}

	eh := errorHandler{d: d}

	if initDisplay(&eh, d.model) && d.primeOnInit() && prime(&eh, d.model) {
		d.afterPrime()
	}

	if err := eh.result(); err != nil {
		d.state = Uninitialized
		return d.failed("init", err)
	}

	d.cadence.reset()
	d.state = Ready
	d.log.Info("panel initialized", "model", d.model.Name, "full_update_every", d.cadence.every)

	return nil
}

func (d *Dev) primeOnInit() bool {
	switch d.prime {
	case PrimeNever:
		return false
	case PrimeOnInit, PrimeEveryFrame:
		return true
	}
	return d.model.primeOnInit
}

// afterPrime records that the panel now shows the last priming pass.
func (d *Dev) afterPrime() {
	v := fillByte(On)
	for i := range d.prev {
		d.prev[i] = v
	}
}

// Reset pulses the hardware reset line. It is a no-op if reset is not wired.
func (d *Dev) Reset() error {
	if d.rst == nil {
		return nil
	}

	eh := errorHandler{d: d}

	eh.rstOut(gpio.Low)
	d.clock.Sleep(d.resetDuration)
	eh.rstOut(gpio.High)
	d.clock.Sleep(resetRecovery)

	return eh.err
}

// Display sends the framebuffer to the panel and starts a refresh. Every
// FullUpdateEvery frames the full waveform is used, the partial one
// otherwise.
//
// When the panel stays busy the frame is dropped, Status turns to
// StatusWarning and an error wrapping ErrBusyTimeout is returned. The
// framebuffer is left untouched so the next call retries.
func (d *Dev) Display() error {
	if d.state != Ready {
		return fmt.Errorf("gdepaper: display while %s: %w", d.state, ErrNotReady)
	}

	d.state = Updating
	defer func() { d.state = Ready }()

	eh := errorHandler{d: d}

	if d.prime == PrimeEveryFrame {
		if !prime(&eh, d.model) {
			return d.failed("prime", eh.result())
		}
		d.afterPrime()
	}

	full, ok := displayFrame(&eh, d.model, &d.cadence, d.fb.buf, d.prev)
	if err := eh.result(); !ok || err != nil {
		return d.failed("display", err)
	}

	copy(d.prev, d.fb.buf)
	d.status = StatusOK
	d.log.Debug("frame sent", "full", full, "bytes", len(d.fb.buf))

	return nil
}

// Update is Display, named after the host's periodic update hook.
func (d *Dev) Update() error {
	return d.Display()
}

// failed turns a sequence result into the returned error and updates Status.
func (d *Dev) failed(op string, err error) error {
	if errors.Is(err, ErrBusyTimeout) {
		d.status = StatusWarning
		return fmt.Errorf("gdepaper: %s aborted: %w", op, err)
	}
	return err
}

// DeepSleep powers the panel down. It can be woken up by calling Init again.
func (d *Dev) DeepSleep() error {
	if d.state == Sleeping {
		return nil
	}
	if d.state != Ready {
		return fmt.Errorf("gdepaper: deep sleep while %s: %w", d.state, ErrNotReady)
	}

	eh := errorHandler{d: d}
	enterDeepSleep(&eh)

	if eh.err != nil {
		return eh.err
	}
	d.state = Sleeping
	if eh.timedOut {
		return d.failed("power off", ErrBusyTimeout)
	}
	d.log.Info("panel in deep sleep")

	return nil
}

// Halt puts the panel into deep sleep if it is running. The image stays
// visible.
func (d *Dev) Halt() error {
	if d.state != Ready {
		return nil
	}
	return d.DeepSleep()
}

// awaitReady polls the busy line until it is released.
func (d *Dev) awaitReady() error {
	if d.busy == nil {
		return nil
	}

	start := d.clock.Now()
	for d.busy.Read() == gpio.High {
		if d.clock.Since(start) > d.busyTimeout {
			d.log.Error("timeout waiting for panel", ErrBusyTimeout, "timeout", d.busyTimeout)
			return ErrBusyTimeout
		}
		d.clock.Sleep(busyPollInterval)
	}

	return nil
}

// Fill sets every pixel of the framebuffer to c.
func (d *Dev) Fill(c Color) {
	d.fb.fill(c)
}

// SetPixel sets one framebuffer pixel. Coordinates outside the panel are
// ignored.
func (d *Dev) SetPixel(x, y int, c Color) {
	d.fb.setPixel(x, y, c)
}

// Pixel returns the framebuffer pixel at x, y.
func (d *Dev) Pixel(x, y int) Color {
	return d.fb.pixel(x, y)
}

// Bytes returns a copy of the framebuffer in panel wire format.
func (d *Dev) Bytes() []byte {
	return append([]byte(nil), d.fb.buf...)
}

// ColorModel returns a 1Bit color model.
func (d *Dev) ColorModel() color.Model {
	return image1bit.BitModel
}

// Bounds returns the bounds for the configurated display.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.model.Width, d.model.Height)
}

// DrawBuffer copies src into the framebuffer without refreshing the panel.
// White maps to paper, everything else to ink, as decided by
// image1bit.BitModel.
func (d *Dev) DrawBuffer(dstRect image.Rectangle, src image.Image, sp image.Point) {
	r := dstRect.Intersect(d.Bounds())
	delta := sp.Sub(dstRect.Min)

	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			b := image1bit.BitModel.Convert(src.At(x+delta.X, y+delta.Y)).(image1bit.Bit)
			d.fb.setPixel(x, y, Color(b == image1bit.Off))
		}
	}
}

// Draw draws the given image into the framebuffer and displays it.
func (d *Dev) Draw(dstRect image.Rectangle, src image.Image, sp image.Point) error {
	d.DrawBuffer(dstRect, src, sp)
	return d.Display()
}

// Model returns the panel model.
func (d *Dev) Model() *Model {
	return d.model
}

// State returns the lifecycle state.
func (d *Dev) State() State {
	return d.state
}

// Status returns StatusWarning if the last frame was dropped.
func (d *Dev) Status() Status {
	return d.status
}

// String returns a string containing configuration information.
func (d *Dev) String() string {
	return fmt.Sprintf("gdepaper.Dev{%s, %s, %s}", d.c, d.dc, d.model)
}

var _ display.Drawer = &Dev{}
