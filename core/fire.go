package core

import (
	"fmt"
	"sync/atomic"
	"time"
)

// fireSlice bounds how long the fire pulse sleeps between abort checks.
const fireSlice = 5 * time.Millisecond

// FireConfig describes the marker output.
type FireConfig struct {
	Pin      GPIOPin
	Pulse    time.Duration // default pulse length
	MinPulse time.Duration // floor applied to requested pulses
}

// FireController owns the marker relay line. Firing is the system's one
// irreversible external effect: a call asserts the output for the pulse
// duration, deasserts, and never fires twice for one request.
type FireController struct {
	cfg  FireConfig
	gpio GPIODriver
	mon  *Monitor
	trig *Trigger

	firing atomic.Bool
}

// NewFireController configures the marker output pin.
func NewFireController(gpio GPIODriver, mon *Monitor, trig *Trigger, cfg FireConfig) (*FireController, error) {
	if err := gpio.ConfigureOutput(cfg.Pin); err != nil {
		return nil, fmt.Errorf("fire pin: %w", err)
	}
	if cfg.Pulse <= 0 {
		cfg.Pulse = 150 * time.Millisecond
	}
	if cfg.MinPulse <= 0 {
		cfg.MinPulse = 10 * time.Millisecond
	}
	return &FireController{cfg: cfg, gpio: gpio, mon: mon, trig: trig}, nil
}

// Fire asserts the marker output for the given pulse duration, then
// deasserts. Zero or negative duration selects the configured default.
// Refuses with ErrInterlocked when the interlock monitor reports unsafe
// and with ErrFireBusy when a pulse is already in flight. The pulse
// sleeps in short slices so an abort trip deasserts the output early.
func (f *FireController) Fire(pulse time.Duration) error {
	if !f.firing.CompareAndSwap(false, true) {
		return ErrFireBusy
	}
	defer f.firing.Store(false)

	if state := f.mon.Poll(); !state.Safe() {
		return fmt.Errorf("fire refused: %w", ErrInterlocked)
	}
	if reason, tripped := f.trig.Tripped(); tripped {
		return fmt.Errorf("fire refused (%s): %w", reason, ErrAborted)
	}

	if pulse <= 0 {
		pulse = f.cfg.Pulse
	}
	if pulse < f.cfg.MinPulse {
		pulse = f.cfg.MinPulse
	}

	Debugf("fire: pulse %s", pulse)
	if err := f.gpio.SetPin(f.cfg.Pin, true); err != nil {
		return fmt.Errorf("fire assert: %w", err)
	}
	// The output must drop no matter how the pulse ends.
	defer func() { _ = f.gpio.SetPin(f.cfg.Pin, false) }()

	remaining := pulse
	for remaining > 0 {
		slice := fireSlice
		if slice > remaining {
			slice = remaining
		}
		time.Sleep(slice)
		remaining -= slice

		if reason, tripped := f.trig.Tripped(); tripped {
			return fmt.Errorf("fire pulse cut short (%s): %w", reason, ErrAborted)
		}
	}
	return nil
}

// Firing reports whether a pulse is currently asserted.
func (f *FireController) Firing() bool {
	return f.firing.Load()
}
