// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/epaper/config"
	"github.com/GermanBionicSystems/epaper/gdepaper"
	"github.com/GermanBionicSystems/epaper/internal/log"
	"github.com/GermanBionicSystems/epaper/panelsim"
	"github.com/GermanBionicSystems/epaper/render"
	"github.com/GermanBionicSystems/epaper/termview"
	"github.com/GermanBionicSystems/epaper/videosink"
)

// appOpts are the knobs that do not come from the configuration file.
type appOpts struct {
	// sim drives an in-memory panel instead of the SPI bus.
	sim bool
	// clock is used by the driver and the renderer. Nil means real time.
	clock clockwork.Clock
	// term receives the terminal preview. Nil means stdout.
	term io.Writer
	log  *log.Logger
}

type app struct {
	cfg *config.Config
	log *log.Logger

	port  spi.PortCloser
	panel *panelsim.Panel
	dev   *gdepaper.Dev

	renderer *render.Renderer
	term     *termview.Dev
	sink     *videosink.Display

	// mu serializes panel access between the scheduler and shutdown.
	mu sync.Mutex
}

func newApp(cfg *config.Config, o *appOpts) (*app, error) {
	opts, err := cfg.DriverOpts()
	if err != nil {
		return nil, err
	}
	opts.Clock = o.clock
	opts.Logger = o.log

	a := &app{cfg: cfg, log: o.log}

	var dc, cs, rst gpio.PinOut
	var busy gpio.PinIn
	if o.sim {
		a.panel = panelsim.ForModel(opts.Model)
		a.panel.OnRefresh = a.publish
		a.port = a.panel
		dc, rst, busy = a.panel.DC, a.panel.Reset, a.panel.Busy
	} else {
		if a.port, dc, cs, rst, busy, err = openHardware(cfg); err != nil {
			return nil, err
		}
	}

	if a.dev, err = gdepaper.New(a.port, dc, cs, rst, busy, opts); err != nil {
		a.port.Close()
		return nil, err
	}

	ro := cfg.RenderOpts(opts.Model.Width, opts.Model.Height)
	ro.Clock = o.clock
	if a.renderer, err = render.New(ro); err != nil {
		a.port.Close()
		return nil, err
	}

	if cfg.Preview.Terminal {
		a.term = termview.New(&termview.Opts{
			Width:  opts.Model.Width,
			Height: opts.Model.Height,
			Scale:  cfg.Preview.Scale,
			Home:   true,
			W:      o.term,
		})
	}
	if cfg.Preview.Listen != "" {
		format, err := videosink.ImageFormatFromString(cfg.Preview.Format)
		if err != nil {
			a.port.Close()
			return nil, err
		}
		a.sink = videosink.New(&videosink.Options{
			Width:     opts.Model.Width,
			Height:    opts.Model.Height,
			Format:    format,
			Keepalive: cfg.Preview.Keepalive,
			Clock:     o.clock,
			Logger:    o.log,
		})
	}
	return a, nil
}

// openHardware initializes periph and looks up the SPI port and pins named
// in cfg.
func openHardware(cfg *config.Config) (port spi.PortCloser, dc, cs, rst gpio.PinOut, busy gpio.PinIn, err error) {
	if _, err = host.Init(); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if dc, err = lookupPin(cfg.Pins.DC); err == nil && dc == nil {
		err = errors.New("pins.dc is required")
	}
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if cs, err = lookupPin(cfg.Pins.CS); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if rst, err = lookupPin(cfg.Pins.Reset); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	var b gpio.PinIO
	if b, err = lookupPin(cfg.Pins.Busy); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if b != nil {
		busy = b
	}
	if port, err = spireg.Open(cfg.SPI); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	return port, dc, cs, rst, busy, nil
}

// lookupPin returns nil for an empty name.
func lookupPin(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("unknown pin %q", name)
	}
	return p, nil
}

// publish mirrors a picture to the enabled previews.
func (a *app) publish(frame *image1bit.VerticalLSB) {
	if a.term != nil {
		if err := a.term.Show(frame); err != nil {
			a.log.Error("terminal preview failed", err)
		}
	}
	if a.sink != nil {
		a.sink.Show(frame)
	}
}

func (a *app) initPanel() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.dev.Init(); err != nil {
		return err
	}
	a.log.Info("panel ready", "dev", a.dev, "full_update_every", *a.cfg.FullUpdateEvery)
	return nil
}

// update renders the configured page and shows it.
func (a *app) update() error {
	start := time.Now()
	img, err := a.renderer.Render(a.cfg.RenderPage())
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev.State() == gdepaper.Sleeping {
		if err := a.dev.Init(); err != nil {
			return err
		}
	}
	a.dev.DrawBuffer(a.dev.Bounds(), img, image.Point{})
	if err := a.dev.Update(); err != nil {
		return err
	}
	if a.panel == nil {
		// The simulator reports its own refreshes.
		a.publish(img)
	}
	a.log.Debug("panel updated", "took", time.Since(start), "status", a.dev.Status())
	return nil
}

// halt puts the panel to sleep and releases the previews and the bus.
func (a *app) halt() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	if a.sink != nil {
		errs = append(errs, a.sink.Halt())
	}
	errs = append(errs, a.dev.Halt())
	if a.term != nil {
		errs = append(errs, a.term.Halt())
	}
	errs = append(errs, a.port.Close())
	return errors.Join(errs...)
}

// cronLogger routes scheduler events to the application log.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug("cron: "+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error("cron: "+msg, err, kv...)
}

// run shows the page once, then on every tick of the schedule until ctx is
// done. It always halts the panel before returning.
func (a *app) run(ctx context.Context, once bool) (err error) {
	defer func() {
		if herr := a.halt(); herr != nil && err == nil {
			err = herr
		}
	}()

	if err := a.initPanel(); err != nil {
		return err
	}
	if err := a.update(); err != nil {
		if !errors.Is(err, gdepaper.ErrBusyTimeout) || once {
			return err
		}
		a.log.Error("update failed", err)
	}
	if once {
		return nil
	}

	cl := cronLogger{a.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(a.cfg.Schedule, func() {
		if err := a.update(); err != nil {
			a.log.Error("update failed", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", a.cfg.Schedule, err)
	}
	c.Start()
	a.log.Info("scheduled updates", "schedule", a.cfg.Schedule)

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.sink != nil {
		mux := http.NewServeMux()
		mux.Handle("/", a.sink)
		srv = &http.Server{Addr: a.cfg.Preview.Listen, Handler: mux}
		go func() {
			serveErr <- srv.ListenAndServe()
		}()
		a.log.Info("serving preview", "listen", a.cfg.Preview.Listen, "format", a.cfg.Preview.Format)
	}

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	<-c.Stop().Done()
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Streams only end on Halt, which closes them first.
		a.sink.Halt()
		if serr := srv.Shutdown(sctx); serr != nil && err == nil {
			err = serr
		}
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}
