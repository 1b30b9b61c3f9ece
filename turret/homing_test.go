package turret

import (
	"errors"
	"sync"
	"testing"
	"time"

	"vppturret/core"
)

const (
	homeStepPin  core.GPIOPin = 23
	homeDirPin   core.GPIOPin = 24
	homeLimitPin core.GPIOPin = 17
	homeEstopPin core.GPIOPin = 25
)

// homeBench emulates one axis of mechanics: step pulses move a
// simulated carriage, and the limit switch input follows its position.
// The switch trips (reads high, NC contact opened) at position zero and
// below.
type homeBench struct {
	sim  *core.SimDriver
	mon  *core.Monitor
	axis *core.Axis

	mu  sync.Mutex
	pos int64
}

func newHomeBench(t *testing.T, startPos int64) *homeBench {
	t.Helper()
	sim := core.NewSimDriver()
	for _, pin := range []core.GPIOPin{homeLimitPin, homeEstopPin} {
		if err := sim.ConfigureInputPullUp(pin); err != nil {
			t.Fatalf("configure pin %d: %v", pin, err)
		}
	}
	sim.SetInput(homeLimitPin, startPos <= 0)

	trig := core.NewTrigger()
	axis, err := core.NewAxis(sim, trig, core.AxisConfig{
		Name:     "x",
		StepPin:  homeStepPin,
		DirPin:   homeDirPin,
		MaxSpeed: 50000,
		MaxAccel: 1e7,
	})
	if err != nil {
		t.Fatalf("NewAxis: %v", err)
	}

	b := &homeBench{
		sim: sim,
		mon: core.NewMonitor(sim, core.InterlockConfig{
			EstopPin:  homeEstopPin,
			XLimitPin: homeLimitPin,
			YLimitPin: 99, // unused input, reads idle low
		}),
		axis: axis,
		pos:  startPos,
	}
	sim.OnEdge(func(pin core.GPIOPin, level bool) {
		if pin != homeStepPin || !level {
			return
		}
		b.mu.Lock()
		if sim.Level(homeDirPin) {
			b.pos++
		} else {
			b.pos--
		}
		sim.SetInput(homeLimitPin, b.pos <= 0)
		b.mu.Unlock()
	})
	return b
}

func (b *homeBench) position() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

func testHomingConfig() HomingConfig {
	return HomingConfig{
		SeekInterval: 50 * time.Microsecond,
		BackoffSteps: 8,
		Budget:       500,
	}
}

func TestHomingEstablishesZeroClearOfSwitch(t *testing.T) {
	b := newHomeBench(t, 40)

	seq := newSequencer(b.axis, b.mon, AxisX, testHomingConfig())
	if err := seq.run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !b.axis.Homed() {
		t.Fatal("axis not homed after a successful run")
	}
	if seq.phase != phaseHomed {
		t.Errorf("phase = %s, want homed", seq.phase)
	}
	// Zero is taken at the parked position, a couple of steps clear of
	// the switch, so a later move back to zero never trips the guard.
	if got := b.axis.Position(); got != 0 {
		t.Errorf("axis position after homing = %d, want 0", got)
	}
	if b.position() <= 0 {
		t.Errorf("bench position %d, want parked clear of the switch", b.position())
	}
	if b.sim.Level(homeLimitPin) {
		t.Error("limit switch still tripped after parking")
	}
}

func TestHomingFromOnTopOfSwitch(t *testing.T) {
	b := newHomeBench(t, 0)

	seq := newSequencer(b.axis, b.mon, AxisX, testHomingConfig())
	if err := seq.run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !b.axis.Homed() {
		t.Fatal("axis not homed")
	}
	if got := b.axis.Position(); got != 0 {
		t.Errorf("axis position after homing = %d, want 0", got)
	}
	if b.position() <= 0 {
		t.Errorf("bench position %d, want parked clear of the switch", b.position())
	}
}

func TestHomingBudgetExhausted(t *testing.T) {
	cfg := testHomingConfig()
	cfg.Budget = 100
	b := newHomeBench(t, 500) // farther than the budget allows

	seq := newSequencer(b.axis, b.mon, AxisX, cfg)
	err := seq.run()
	if !errors.Is(err, ErrSwitchNotFound) {
		t.Fatalf("err = %v, want ErrSwitchNotFound", err)
	}
	if seq.phase != phaseFailed {
		t.Errorf("phase = %s, want failed", seq.phase)
	}
	if b.axis.Homed() {
		t.Error("axis claims homed after a failed run")
	}
}

func TestHomingAbortsOnEstop(t *testing.T) {
	b := newHomeBench(t, 40)

	// Press the e-stop after ten seek pulses.
	pulses := 0
	b.sim.OnEdge(func(pin core.GPIOPin, level bool) {
		if pin != homeStepPin || !level {
			return
		}
		b.mu.Lock()
		if b.sim.Level(homeDirPin) {
			b.pos++
		} else {
			b.pos--
		}
		b.sim.SetInput(homeLimitPin, b.pos <= 0)
		b.mu.Unlock()
		pulses++
		if pulses == 10 {
			b.sim.SetInput(homeEstopPin, false)
		}
	})

	seq := newSequencer(b.axis, b.mon, AxisX, testHomingConfig())
	err := seq.run()
	if !errors.Is(err, core.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if seq.phase != phaseFailed {
		t.Errorf("phase = %s, want failed", seq.phase)
	}
	if b.axis.Homed() {
		t.Error("axis claims homed after an aborted run")
	}
}
