package core

import (
	"errors"
	"sync"
)

// SimDriver is an in-memory GPIODriver used by tests and by the daemon's
// bench mode. Inputs are set directly; output edges are counted so tests
// can verify exactly how many step pulses a move produced.
type SimDriver struct {
	mu      sync.Mutex
	levels  map[GPIOPin]bool
	outputs map[GPIOPin]bool
	rising  map[GPIOPin]int
	failing map[GPIOPin]bool
	edgeFn  func(pin GPIOPin, level bool)
	closed  bool
}

// ErrSimReadFailure is returned by ReadPin for pins put into a failing
// state with FailPin. Used to exercise the interlock fail-safe path.
var ErrSimReadFailure = errors.New("simulated pin read failure")

func NewSimDriver() *SimDriver {
	return &SimDriver{
		levels:  make(map[GPIOPin]bool),
		outputs: make(map[GPIOPin]bool),
		rising:  make(map[GPIOPin]int),
		failing: make(map[GPIOPin]bool),
	}
}

func (d *SimDriver) ConfigureOutput(pin GPIOPin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs[pin] = true
	d.levels[pin] = false
	return nil
}

func (d *SimDriver) ConfigureInputPullUp(pin GPIOPin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	// An open switch against a pull-up reads high.
	d.levels[pin] = true
	return nil
}

func (d *SimDriver) SetPin(pin GPIOPin, value bool) error {
	d.mu.Lock()
	prev := d.levels[pin]
	d.levels[pin] = value
	if value && !prev {
		d.rising[pin]++
	}
	fn := d.edgeFn
	d.mu.Unlock()

	// Edge hooks run unlocked so they may flip inputs in response.
	if fn != nil && value != prev {
		fn(pin, value)
	}
	return nil
}

func (d *SimDriver) ReadPin(pin GPIOPin) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failing[pin] {
		return false, ErrSimReadFailure
	}
	return d.levels[pin], nil
}

func (d *SimDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// SetInput forces the level seen on an input pin.
func (d *SimDriver) SetInput(pin GPIOPin, level bool) {
	d.mu.Lock()
	d.levels[pin] = level
	d.mu.Unlock()
}

// FailPin makes subsequent reads of pin return an error.
func (d *SimDriver) FailPin(pin GPIOPin, fail bool) {
	d.mu.Lock()
	d.failing[pin] = fail
	d.mu.Unlock()
}

// Level reports the current level on a pin.
func (d *SimDriver) Level(pin GPIOPin) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[pin]
}

// Rising reports how many rising edges have been driven on an output.
// One step pulse is one rising edge.
func (d *SimDriver) Rising(pin GPIOPin) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rising[pin]
}

// OnEdge installs a hook invoked after every output level change. Tests
// use it to emulate the mechanics: count step pulses, watch the
// direction line and trip a limit switch at a simulated position.
func (d *SimDriver) OnEdge(fn func(pin GPIOPin, level bool)) {
	d.mu.Lock()
	d.edgeFn = fn
	d.mu.Unlock()
}
