// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// gdepaper shows a page on a Good Display e-paper panel and refreshes it on
// a schedule.
//
// With -sim no hardware is touched: the panel is emulated in memory and its
// refreshes can be watched in the terminal or over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GermanBionicSystems/epaper/config"
	"github.com/GermanBionicSystems/epaper/internal/log"
)

func mainImpl() error {
	configPath := flag.String("config", "gdepaper.yaml", "path to the configuration file, created if missing")
	sim := flag.Bool("sim", false, "emulate the panel instead of using the SPI bus")
	once := flag.Bool("once", false, "show the page once, put the panel to sleep and exit")
	listen := flag.String("listen", "", "serve the panel picture over HTTP on this address, overrides the configuration")
	terminal := flag.Bool("terminal", false, "print every refresh on the terminal")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()
	if flag.NArg() != 0 {
		return fmt.Errorf("unexpected argument: %v", flag.Args())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Preview.Listen = *listen
	}
	if *terminal {
		cfg.Preview.Terminal = true
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if *verbose {
		level = log.LevelDebug
	}
	lg := log.Default()
	lg.SetLevel(level)
	lg.Info("starting", "config", *configPath, "model", cfg.Model, "sim", *sim, "once", *once)

	a, err := newApp(cfg, &appOpts{sim: *sim, log: lg})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := a.run(ctx, *once); err != nil {
		return err
	}
	lg.Info("exiting")
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "gdepaper: %s.\n", err)
		os.Exit(1)
	}
}
