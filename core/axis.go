package core

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Direction of axis travel. Positive drives the direction line high,
// which on this rig is away from the home switch.
type Direction int

const (
	DirNegative Direction = -1
	DirPositive Direction = 1
)

func (d Direction) String() string {
	if d == DirNegative {
		return "negative"
	}
	return "positive"
}

// AxisConfig describes one stepper axis.
type AxisConfig struct {
	Name      string
	StepPin   GPIOPin
	DirPin    GPIOPin
	InvertDir bool
	MaxSpeed  float64 // steps/s, bound for planned profiles
	MaxAccel  float64 // steps/s^2
}

// AxisState is a read snapshot of an axis. Position is authoritative
// only once Homed is true.
type AxisState struct {
	Name     string
	Position int64
	Homed    bool
	Moving   bool
	MaxSpeed float64
	MaxAccel float64
}

// Axis owns one stepper motor's step/direction lines and its position
// estimate. All pulse emission for the axis goes through Step, and the
// supervisor is the only caller, so the hardware has a single writer
// without locking around the pins themselves.
type Axis struct {
	cfg  AxisConfig
	gpio GPIODriver
	trig *Trigger

	position   atomic.Int64
	homed      atomic.Bool
	stepping   atomic.Bool
	speedScale atomic.Uint64 // float64 bits

	mu sync.Mutex // serializes Step on the output pins
}

// NewAxis configures the step and direction pins for one axis.
func NewAxis(gpio GPIODriver, trig *Trigger, cfg AxisConfig) (*Axis, error) {
	if err := gpio.ConfigureOutput(cfg.StepPin); err != nil {
		return nil, fmt.Errorf("axis %s step pin: %w", cfg.Name, err)
	}
	if err := gpio.ConfigureOutput(cfg.DirPin); err != nil {
		return nil, fmt.Errorf("axis %s dir pin: %w", cfg.Name, err)
	}
	a := &Axis{cfg: cfg, gpio: gpio, trig: trig}
	a.SetSpeedScale(1.0)
	return a, nil
}

// Step emits one pulse per entry of delays in the given direction,
// updating the position estimate as each pulse completes. The abort
// trigger is checked before every pulse: on a trip the move stops with
// ErrAborted and the position reflects exactly the pulses emitted.
// Returns the number of pulses completed.
func (a *Axis) Step(dir Direction, delays []time.Duration) (int, error) {
	a.mu.Lock()
	a.stepping.Store(true)
	defer func() {
		a.stepping.Store(false)
		a.mu.Unlock()
	}()

	scale := a.SpeedScale()
	level := dir == DirPositive
	if a.cfg.InvertDir {
		level = !level
	}
	if err := a.gpio.SetPin(a.cfg.DirPin, level); err != nil {
		return 0, fmt.Errorf("axis %s dir: %w", a.cfg.Name, err)
	}

	for i, delay := range delays {
		if reason, tripped := a.trig.Tripped(); tripped {
			Debugf("axis %s aborted (%s) at pulse %d/%d", a.cfg.Name, reason, i, len(delays))
			return i, fmt.Errorf("axis %s pulse %d/%d (%s): %w",
				a.cfg.Name, i, len(delays), reason, ErrAborted)
		}

		scaled := time.Duration(float64(delay) * scale)
		if err := a.pulse(scaled); err != nil {
			return i, err
		}
		a.position.Add(int64(dir))
	}
	return len(delays), nil
}

// pulse drives one step edge pair, spending the delay split across the
// high and low phases as the drivers expect.
func (a *Axis) pulse(delay time.Duration) error {
	if err := a.gpio.SetPin(a.cfg.StepPin, true); err != nil {
		return fmt.Errorf("axis %s step high: %w", a.cfg.Name, err)
	}
	time.Sleep(delay / 2)
	if err := a.gpio.SetPin(a.cfg.StepPin, false); err != nil {
		return fmt.Errorf("axis %s step low: %w", a.cfg.Name, err)
	}
	time.Sleep(delay - delay/2)
	return nil
}

// StopNow forces the step output low. Idempotent; safe to call whether
// or not a move is in flight, since any in-flight move will already
// have observed the tripped trigger by its next pulse.
func (a *Axis) StopNow() {
	_ = a.gpio.SetPin(a.cfg.StepPin, false)
}

// ResetHome declares the current physical position to be origin. Only
// the homing sequencer calls this.
func (a *Axis) ResetHome(origin int64) {
	a.position.Store(origin)
	a.homed.Store(true)
	Debugf("axis %s homed, origin=%d", a.cfg.Name, origin)
}

// MarkUnhomed invalidates the zero reference, e.g. after a failed
// homing attempt left the true position unknown.
func (a *Axis) MarkUnhomed() {
	a.homed.Store(false)
}

// Position returns the current step count from home. Meaningful only
// when Homed reports true.
func (a *Axis) Position() int64 {
	return a.position.Load()
}

// Homed reports whether a zero reference has been established.
func (a *Axis) Homed() bool {
	return a.homed.Load()
}

// Moving reports whether a Step call is currently emitting pulses.
func (a *Axis) Moving() bool {
	return a.stepping.Load()
}

// SetSpeedScale sets the runtime delay multiplier (higher is slower),
// clamped to 0.1..10.
func (a *Axis) SetSpeedScale(scale float64) {
	if scale < 0.1 {
		scale = 0.1
	}
	if scale > 10 {
		scale = 10
	}
	a.speedScale.Store(math.Float64bits(scale))
}

// SpeedScale returns the current delay multiplier.
func (a *Axis) SpeedScale() float64 {
	return math.Float64frombits(a.speedScale.Load())
}

// Snapshot returns a read copy of the axis state.
func (a *Axis) Snapshot() AxisState {
	return AxisState{
		Name:     a.cfg.Name,
		Position: a.position.Load(),
		Homed:    a.homed.Load(),
		Moving:   a.stepping.Load(),
		MaxSpeed: a.cfg.MaxSpeed,
		MaxAccel: a.cfg.MaxAccel,
	}
}

// Config returns the axis configuration.
func (a *Axis) Config() AxisConfig {
	return a.cfg
}
