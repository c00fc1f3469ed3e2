// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config holds the YAML configuration of the gdepaper command.
//
// A missing file is created with the defaults on first load, readable by the
// owner only.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/epaper/gdepaper"
	"github.com/GermanBionicSystems/epaper/internal/log"
	"github.com/GermanBionicSystems/epaper/render"
	"github.com/GermanBionicSystems/epaper/videosink"
)

// Pins names the GPIO lines as known to gpioreg. An empty CS means the SPI
// port drives chip select; an empty Reset or Busy means the line is not
// wired.
type Pins struct {
	DC    string `yaml:"dc"`
	CS    string `yaml:"cs"`
	Reset string `yaml:"reset"`
	Busy  string `yaml:"busy"`
}

// Page is the content drawn on every scheduled update.
type Page struct {
	Title string   `yaml:"title"`
	Lines []string `yaml:"lines"`
	// Image is a picture file drawn below the title, dithered.
	Image string `yaml:"image"`
	// FontSize in points. Zero uses the built-in 7x13 bitmap font.
	FontSize  float64 `yaml:"font_size"`
	ShowClock bool    `yaml:"show_clock"`
}

// Preview mirrors panel refreshes away from the panel.
type Preview struct {
	// Terminal prints every refresh with ANSI colors.
	Terminal bool `yaml:"terminal"`
	// Scale is the number of pixels per terminal column.
	Scale int `yaml:"scale"`
	// Listen is the HTTP address of the picture stream. Empty disables it.
	Listen string `yaml:"listen"`
	// Format is the default stream format: png, jpeg or raw.
	Format    string        `yaml:"format"`
	Keepalive time.Duration `yaml:"keepalive"`
}

// Config is the top-level configuration.
type Config struct {
	// Model is the panel name, see gdepaper.ModelNames.
	Model string `yaml:"model"`
	// SPI is the spireg port name. Empty selects the first port.
	SPI     string `yaml:"spi"`
	SpeedHz int64  `yaml:"speed_hz"`
	Pins    Pins   `yaml:"pins"`

	ResetDuration time.Duration `yaml:"reset_duration"`
	// FullUpdateEvery is the number of frames per full refresh. Zero keeps
	// the partial waveform after the first frame. Unset means 30.
	FullUpdateEvery *uint32       `yaml:"full_update_every"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
	// Prime is one of default, never, init or every-frame.
	Prime string `yaml:"prime"`

	LogLevel string `yaml:"log_level"`

	// Schedule is a cron expression, descriptors such as "@every 1m" are
	// accepted.
	Schedule string `yaml:"schedule"`

	Page    Page    `yaml:"page"`
	Preview Preview `yaml:"preview"`
}

const (
	defaultModel         = "1.54in"
	defaultSpeedHz       = 5000000
	defaultDC            = "GPIO25"
	defaultResetDuration = 200 * time.Millisecond
	maxResetDuration     = 500 * time.Millisecond
	defaultFullUpdate    = 30
	defaultBusyTimeout   = time.Second
	defaultSchedule      = "@every 1m"
	defaultScale         = 2
	defaultFormat        = "png"
	defaultKeepalive     = 30 * time.Second
)

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	every := uint32(defaultFullUpdate)
	return &Config{
		Model:   defaultModel,
		SpeedHz: defaultSpeedHz,
		Pins: Pins{
			DC:    defaultDC,
			Reset: "GPIO17",
			Busy:  "GPIO24",
		},
		ResetDuration:   defaultResetDuration,
		FullUpdateEvery: &every,
		BusyTimeout:     defaultBusyTimeout,
		Prime:           gdepaper.PrimeDefault.String(),
		LogLevel:        "info",
		Schedule:        defaultSchedule,
		Page: Page{
			Title:     "gdepaper",
			Lines:     []string{},
			FontSize:  18,
			ShowClock: true,
		},
		Preview: Preview{
			Scale:     defaultScale,
			Format:    defaultFormat,
			Keepalive: defaultKeepalive,
		},
	}
}

// Normalize fills unset values with the defaults so partially written files
// behave like complete ones. Pins other than DC are left alone since empty
// means not wired.
func (c *Config) Normalize() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.SpeedHz == 0 {
		c.SpeedHz = defaultSpeedHz
	}
	if c.Pins.DC == "" {
		c.Pins.DC = defaultDC
	}
	if c.ResetDuration == 0 {
		c.ResetDuration = defaultResetDuration
	}
	if c.FullUpdateEvery == nil {
		every := uint32(defaultFullUpdate)
		c.FullUpdateEvery = &every
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.Prime == "" {
		c.Prime = gdepaper.PrimeDefault.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if c.Page.Lines == nil {
		c.Page.Lines = []string{}
	}
	if c.Preview.Scale == 0 {
		c.Preview.Scale = defaultScale
	}
	if c.Preview.Format == "" {
		c.Preview.Format = defaultFormat
	}
	if c.Preview.Keepalive == 0 {
		c.Preview.Keepalive = defaultKeepalive
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := gdepaper.ModelByName(c.Model); err != nil {
		return err
	}
	if _, err := gdepaper.ParsePrime(c.Prime); err != nil {
		return err
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.SpeedHz <= 0 {
		return fmt.Errorf("config: speed_hz must be positive, got %d", c.SpeedHz)
	}
	if c.Pins.DC == "" {
		return errors.New("config: pins.dc is required")
	}
	for name, d := range map[string]time.Duration{
		"reset_duration":    c.ResetDuration,
		"busy_timeout":      c.BusyTimeout,
		"preview.keepalive": c.Preview.Keepalive,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative, got %s", name, d)
		}
	}
	if c.ResetDuration > maxResetDuration {
		return fmt.Errorf("config: reset_duration must be at most %s, got %s", maxResetDuration, c.ResetDuration)
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("config: schedule %q: %w", c.Schedule, err)
	}
	if c.Page.FontSize < 0 {
		return fmt.Errorf("config: page.font_size must not be negative, got %g", c.Page.FontSize)
	}
	if c.Preview.Scale < 1 {
		return fmt.Errorf("config: preview.scale must be at least 1, got %d", c.Preview.Scale)
	}
	if _, err := videosink.ImageFormatFromString(c.Preview.Format); err != nil {
		return fmt.Errorf("config: preview.format: %w", err)
	}
	return nil
}

// DriverOpts returns the panel driver options. Clock and Logger are left for
// the caller.
func (c *Config) DriverOpts() (*gdepaper.Opts, error) {
	m, err := gdepaper.ModelByName(c.Model)
	if err != nil {
		return nil, err
	}
	p, err := gdepaper.ParsePrime(c.Prime)
	if err != nil {
		return nil, err
	}
	opts := gdepaper.DefaultOpts(m)
	opts.ResetDuration = c.ResetDuration
	if c.FullUpdateEvery != nil {
		opts.FullUpdateEvery = *c.FullUpdateEvery
	}
	opts.BusyTimeout = c.BusyTimeout
	opts.Prime = p
	opts.MaxSpeed = physic.Frequency(c.SpeedHz) * physic.Hertz
	return opts, nil
}

// RenderPage returns the page as understood by the renderer.
func (c *Config) RenderPage() *render.Page {
	return &render.Page{
		Title:     c.Page.Title,
		Lines:     append([]string(nil), c.Page.Lines...),
		Image:     c.Page.Image,
		ShowClock: c.Page.ShowClock,
	}
}

// RenderOpts returns the renderer options for a panel of the given size.
func (c *Config) RenderOpts(width, height int) *render.Opts {
	return &render.Opts{
		Width:    width,
		Height:   height,
		FontSize: c.Page.FontSize,
		Margin:   4,
	}
}

// Load reads the configuration at path. When the file does not exist it is
// created with DefaultConfig, along with its directory. The returned
// configuration is normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// The defaults are still usable.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically with mode 0600, through a temporary
// file in the same directory.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config: path is empty")
	}
	if cfg == nil {
		return errors.New("config: nil config")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".gdepaper-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save writes c to path, see Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
