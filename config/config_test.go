// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epaper/gdepaper"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gdepaper.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "gdepaper.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if diff := cmp.Diff(cfg, DefaultConfig()); diff != "" {
		t.Errorf("Load() difference (-got +want):\n%s", diff)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := fi.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("second Load() failed: %v", err)
	}
	if diff := cmp.Diff(again, cfg); diff != "" {
		t.Errorf("reloaded difference (-got +want):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %v", entries)
	}
}

func TestLoadPartial(t *testing.T) {
	path := writeFile(t, `
model: 1.54in-m09
pins:
  dc: GPIO5
  busy: GPIO6
full_update_every: 0
busy_timeout: 3s
prime: every-frame
page:
  title: Hello
  lines: [one, two]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	want := DefaultConfig()
	want.Model = "1.54in-m09"
	want.Pins = Pins{DC: "GPIO5", Busy: "GPIO6"}
	zero := uint32(0)
	want.FullUpdateEvery = &zero
	want.BusyTimeout = 3 * time.Second
	want.Prime = "every-frame"
	want.Page = Page{Title: "Hello", Lines: []string{"one", "two"}}

	if diff := cmp.Diff(cfg, want); diff != "" {
		t.Errorf("Load() difference (-got +want):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
		want    string
	}{
		{name: "yaml", content: "model: [", want: "config:"},
		{name: "model", content: "model: 2.9in", want: "unknown"},
		{name: "prime", content: "prime: sometimes", want: "sometimes"},
		{name: "schedule", content: "schedule: every minute", want: "schedule"},
		{name: "duration", content: "busy_timeout: -1s", want: "busy_timeout"},
		{name: "long reset", content: "reset_duration: 501ms", want: "reset_duration"},
		{name: "format", content: "preview: {format: gif}", want: "preview.format"},
		{name: "log level", content: "log_level: loud", want: "loud"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.content))
			if err == nil {
				t.Fatal("Load() succeeded")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load() error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("Load(\"\") succeeded")
	}
	if err := Save("", DefaultConfig()); err == nil {
		t.Error("Save(\"\") succeeded")
	}
	if err := Save(filepath.Join(t.TempDir(), "x.yaml"), nil); err == nil {
		t.Error("Save(nil) succeeded")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gdepaper.yaml")
	cfg := DefaultConfig()
	cfg.Preview.Listen = ":8080"
	cfg.Preview.Format = "raw"
	cfg.ResetDuration = 10 * time.Millisecond
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "reset_duration: 10ms") {
		t.Errorf("durations are not written as strings:\n%s", data)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, cfg); diff != "" {
		t.Errorf("round trip difference (-got +want):\n%s", diff)
	}
}

func TestDriverOpts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model = "1.54IN-M09"
	cfg.Prime = "never"
	cfg.SpeedHz = 2000000
	every := uint32(0)
	cfg.FullUpdateEvery = &every

	opts, err := cfg.DriverOpts()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Model != &gdepaper.GDEW0154M09 {
		t.Errorf("Model = %v", opts.Model)
	}
	if opts.Prime != gdepaper.PrimeNever {
		t.Errorf("Prime = %v", opts.Prime)
	}
	if opts.FullUpdateEvery != 0 {
		t.Errorf("FullUpdateEvery = %d, want 0", opts.FullUpdateEvery)
	}
	if opts.MaxSpeed != 2*physic.MegaHertz {
		t.Errorf("MaxSpeed = %v", opts.MaxSpeed)
	}
	if opts.BusyTimeout != time.Second || opts.ResetDuration != 200*time.Millisecond {
		t.Errorf("timings = %v, %v", opts.BusyTimeout, opts.ResetDuration)
	}

	cfg.Model = "nope"
	if _, err := cfg.DriverOpts(); err == nil {
		t.Error("DriverOpts() with an unknown model succeeded")
	}
}

func TestRenderPage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Page.Lines = []string{"a"}
	p := cfg.RenderPage()
	p.Lines[0] = "b"
	if cfg.Page.Lines[0] != "a" {
		t.Error("RenderPage() shares the lines slice")
	}
	if !p.ShowClock || p.Title != "gdepaper" {
		t.Errorf("RenderPage() = %+v", p)
	}
	o := cfg.RenderOpts(200, 100)
	if o.Width != 200 || o.Height != 100 || o.FontSize != 18 {
		t.Errorf("RenderOpts() = %+v", o)
	}
}
