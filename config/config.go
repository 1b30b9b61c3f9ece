// Package config loads the daemon configuration from a TOML file,
// filling in defaults for anything the file leaves out.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// GPIO selects the pin driver backend.
type GPIO struct {
	// Driver is "rpio" for real hardware or "sim" for the in-memory
	// simulator.
	Driver string `toml:"driver"`
}

// Pins maps the control lines to BCM pin numbers.
type Pins struct {
	StepX uint8 `toml:"step_x"`
	DirX  uint8 `toml:"dir_x"`
	StepY uint8 `toml:"step_y"`
	DirY  uint8 `toml:"dir_y"`

	LimitX uint8 `toml:"limit_x"`
	LimitY uint8 `toml:"limit_y"`
	Fire   uint8 `toml:"fire"`
	Estop  uint8 `toml:"estop"`
}

// Motion holds the kinematic limits shared by both axes.
type Motion struct {
	MaxSpeed        float64  `toml:"max_speed"`         // steps/s
	MaxAccel        float64  `toml:"max_accel"`         // steps/s^2
	MinStepInterval duration `toml:"min_step_interval"` // driver floor
	DefaultJogSteps int64    `toml:"default_jog_steps"`
	InvertDirX      bool     `toml:"invert_dir_x"`
	InvertDirY      bool     `toml:"invert_dir_y"`
}

// Homing tunes the homing sequencer.
type Homing struct {
	SeekInterval duration `toml:"seek_interval"`
	BackoffSteps int64    `toml:"backoff_steps"`
	Budget       int64    `toml:"budget"`
}

// Fire tunes the marker output pulse.
type Fire struct {
	Pulse duration `toml:"pulse"`
}

// Sentry tunes the sentry scan and correction geometry.
type Sentry struct {
	StepsPerPixel float64 `toml:"steps_per_pixel"`
	MaxCorrection int64   `toml:"max_correction"`
	ScanStepSteps int64   `toml:"scan_step_steps"`
	ScanHalfWidth int64   `toml:"scan_half_width"`
}

// Server configures the control surface.
type Server struct {
	Listen string `toml:"listen"`
}

// Store configures calibration persistence.
type Store struct {
	Path string `toml:"path"`
}

// Config is the full daemon configuration.
type Config struct {
	GPIO   GPIO   `toml:"gpio"`
	Pins   Pins   `toml:"pins"`
	Motion Motion `toml:"motion"`
	Homing Homing `toml:"homing"`
	Fire   Fire   `toml:"fire"`
	Sentry Sentry `toml:"sentry"`
	Server Server `toml:"server"`
	Store  Store  `toml:"store"`
}

// Default returns the configuration matching the reference wiring:
// BCM pin numbers on a Raspberry Pi header, limit switches NC to
// ground, e-stop NO to ground.
func Default() Config {
	return Config{
		GPIO: GPIO{Driver: "rpio"},
		Pins: Pins{
			StepX:  23,
			DirX:   24,
			StepY:  20,
			DirY:   21,
			LimitX: 17,
			LimitY: 27,
			Fire:   18,
			Estop:  25,
		},
		Motion: Motion{
			MaxSpeed:        1250, // one pulse per 0.8ms
			MaxAccel:        4000,
			MinStepInterval: duration{200 * time.Microsecond},
			DefaultJogSteps: 400,
		},
		Homing: Homing{
			SeekInterval: duration{time.Millisecond},
			BackoffSteps: 80,
			Budget:       20000,
		},
		Fire: Fire{
			Pulse: duration{150 * time.Millisecond},
		},
		Sentry: Sentry{
			StepsPerPixel: 2,
			MaxCorrection: 2000,
			ScanStepSteps: 100,
			ScanHalfWidth: 2000,
		},
		Server: Server{Listen: ":8080"},
		Store:  Store{Path: "turret.db"},
	}
}

// Load reads path and merges it over the defaults. A missing file is
// not an error; the defaults stand alone.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, cfg.validate()
}

// applyDefaults backfills zero values after a partial file overwrote
// the defaults with Go zero values.
func (c *Config) applyDefaults() {
	def := Default()
	if c.GPIO.Driver == "" {
		c.GPIO.Driver = def.GPIO.Driver
	}
	if c.Motion.MaxSpeed <= 0 {
		c.Motion.MaxSpeed = def.Motion.MaxSpeed
	}
	if c.Motion.MaxAccel <= 0 {
		c.Motion.MaxAccel = def.Motion.MaxAccel
	}
	if c.Motion.MinStepInterval.Duration <= 0 {
		c.Motion.MinStepInterval = def.Motion.MinStepInterval
	}
	if c.Motion.DefaultJogSteps <= 0 {
		c.Motion.DefaultJogSteps = def.Motion.DefaultJogSteps
	}
	if c.Homing.SeekInterval.Duration <= 0 {
		c.Homing.SeekInterval = def.Homing.SeekInterval
	}
	if c.Homing.BackoffSteps <= 0 {
		c.Homing.BackoffSteps = def.Homing.BackoffSteps
	}
	if c.Homing.Budget <= 0 {
		c.Homing.Budget = def.Homing.Budget
	}
	if c.Fire.Pulse.Duration <= 0 {
		c.Fire.Pulse = def.Fire.Pulse
	}
	if c.Sentry.StepsPerPixel <= 0 {
		c.Sentry.StepsPerPixel = def.Sentry.StepsPerPixel
	}
	if c.Sentry.MaxCorrection <= 0 {
		c.Sentry.MaxCorrection = def.Sentry.MaxCorrection
	}
	if c.Sentry.ScanStepSteps <= 0 {
		c.Sentry.ScanStepSteps = def.Sentry.ScanStepSteps
	}
	if c.Sentry.ScanHalfWidth <= 0 {
		c.Sentry.ScanHalfWidth = def.Sentry.ScanHalfWidth
	}
	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
}

func (c *Config) validate() error {
	if c.GPIO.Driver != "rpio" && c.GPIO.Driver != "sim" {
		return fmt.Errorf("gpio.driver: unknown driver %q", c.GPIO.Driver)
	}
	pins := map[string]uint8{
		"step_x":  c.Pins.StepX,
		"dir_x":   c.Pins.DirX,
		"step_y":  c.Pins.StepY,
		"dir_y":   c.Pins.DirY,
		"limit_x": c.Pins.LimitX,
		"limit_y": c.Pins.LimitY,
		"fire":    c.Pins.Fire,
		"estop":   c.Pins.Estop,
	}
	seen := make(map[uint8]string, len(pins))
	for name, pin := range pins {
		if other, dup := seen[pin]; dup {
			return fmt.Errorf("pins: %s and %s both use BCM %d", other, name, pin)
		}
		seen[pin] = name
	}
	return nil
}

// duration unmarshals TOML strings like "150ms" into a time.Duration.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
