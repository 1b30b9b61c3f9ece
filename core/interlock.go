package core

import (
	"sync"
	"time"
)

// Input wiring, matching the turret's switch hardware:
//
//   e-stop: NO aux contact to ground, pull-up enabled.
//           Idle reads high; pressed closes to ground and reads low.
//   limits: NC switches to ground, pull-up enabled.
//           Idle (closed) reads low; tripped opens and reads high.
//
// An unreadable safety input is reported as an active e-stop: a sensor
// we cannot read must gate motion the same way a pressed switch does.

// estopSamples is the number of rapid reads taken per poll; the e-stop
// is considered pressed only on a majority of low reads, which rejects
// electrical glitches coupled in during stepping.
const estopSamples = 5

// InterlockState is one evaluated snapshot of the safety inputs.
type InterlockState struct {
	EstopActive  bool      `json:"estop_active"`
	XLimitActive bool      `json:"x_limit_active"`
	YLimitActive bool      `json:"y_limit_active"`
	ReadFailed   bool      `json:"read_failed"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// Safe reports whether motion and fire are currently permitted.
func (s InterlockState) Safe() bool {
	return !s.EstopActive && !s.XLimitActive && !s.YLimitActive
}

// InterlockConfig names the safety input pins.
type InterlockConfig struct {
	EstopPin  GPIOPin
	XLimitPin GPIOPin
	YLimitPin GPIOPin
}

// Monitor samples the safety inputs. Poll has no side effects and is
// bounded by a handful of pin reads, so it can gate every hazardous
// operation inline as well as run from the background watcher.
type Monitor struct {
	gpio GPIODriver
	cfg  InterlockConfig
}

func NewMonitor(gpio GPIODriver, cfg InterlockConfig) *Monitor {
	return &Monitor{gpio: gpio, cfg: cfg}
}

// Poll evaluates the safety inputs once. Any read failure yields a
// fail-safe snapshot with EstopActive set.
func (m *Monitor) Poll() InterlockState {
	state := InterlockState{EvaluatedAt: time.Now()}

	lows := 0
	for i := 0; i < estopSamples; i++ {
		level, err := m.gpio.ReadPin(m.cfg.EstopPin)
		if err != nil {
			return failSafe(state)
		}
		if !level {
			lows++
		}
	}
	state.EstopActive = lows > estopSamples/2

	xLevel, err := m.gpio.ReadPin(m.cfg.XLimitPin)
	if err != nil {
		return failSafe(state)
	}
	yLevel, err := m.gpio.ReadPin(m.cfg.YLimitPin)
	if err != nil {
		return failSafe(state)
	}
	// NC to ground: a high level means the circuit opened, i.e. tripped.
	state.XLimitActive = xLevel
	state.YLimitActive = yLevel
	return state
}

func failSafe(state InterlockState) InterlockState {
	state.ReadFailed = true
	state.EstopActive = true
	return state
}

// Watcher polls a Monitor at a fixed cadence from its own goroutine and
// trips the shared Trigger on an active interlock. It never touches the
// motor or fire outputs; actual stopping happens in the single loop
// that owns them, within one pulse of the trip.
type Watcher struct {
	mon      *Monitor
	trig     *Trigger
	interval time.Duration

	mu          sync.Mutex
	last        InterlockState
	guardLimits bool

	stop chan struct{}
	done chan struct{}
}

// NewWatcher creates a watcher polling at the given interval.
func NewWatcher(mon *Monitor, trig *Trigger, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	return &Watcher{
		mon:      mon,
		trig:     trig,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the polling goroutine.
func (w *Watcher) Start() {
	go w.run()
}

// Stop terminates the polling goroutine and waits for it to exit.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

// GuardLimits controls whether a tripped limit switch aborts motion.
// Normal moves run guarded; the homing sequencer disarms the guard
// because driving into the switch is exactly what homing does.
func (w *Watcher) GuardLimits(on bool) {
	w.mu.Lock()
	w.guardLimits = on
	w.mu.Unlock()
}

// Last returns the most recent snapshot taken by the poll loop.
func (w *Watcher) Last() InterlockState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}

		state := w.mon.Poll()
		w.mu.Lock()
		w.last = state
		guard := w.guardLimits
		w.mu.Unlock()

		if state.EstopActive {
			w.trig.Trip(ReasonEstop)
			continue
		}
		if guard && state.XLimitActive {
			w.trig.Trip(ReasonLimitX)
		}
		if guard && state.YLimitActive {
			w.trig.Trip(ReasonLimitY)
		}
	}
}
