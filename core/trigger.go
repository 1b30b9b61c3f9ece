package core

import (
	"sync"
	"sync/atomic"
)

// TripReason identifies why the abort trigger fired.
type TripReason uint8

const (
	ReasonNone TripReason = iota
	ReasonEstop
	ReasonLimitX
	ReasonLimitY
	ReasonOperator
	ReasonShutdown
)

func (r TripReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonEstop:
		return "estop"
	case ReasonLimitX:
		return "limit-x"
	case ReasonLimitY:
		return "limit-y"
	case ReasonOperator:
		return "operator-stop"
	case ReasonShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Trigger is the shared abort signal for in-flight hardware operations.
// The interlock watcher and the operator stop command trip it; the axis
// drivers and fire controller poll it between pulses, so a trip takes
// effect within one step interval. The trigger never issues motor or
// fire commands itself; it just makes the owning loop stop.
type Trigger struct {
	tripped atomic.Uint32 // 0 = armed, otherwise TripReason

	mu      sync.Mutex
	signals []func(TripReason)
}

func NewTrigger() *Trigger {
	return &Trigger{}
}

// Trip latches the trigger with the given reason. The first trip wins,
// with one exception: an e-stop supersedes any lesser latched reason,
// so its signal callbacks always run even when the trigger was already
// tripped by a stop or limit. Registered signal callbacks run on the
// tripping goroutine.
func (t *Trigger) Trip(reason TripReason) {
	if reason == ReasonNone {
		return
	}
	for {
		cur := t.tripped.Load()
		if cur != 0 && (TripReason(cur) == ReasonEstop || reason != ReasonEstop) {
			return
		}
		if t.tripped.CompareAndSwap(cur, uint32(reason)) {
			break
		}
	}
	Debugf("trigger tripped: %s", reason)

	t.mu.Lock()
	signals := make([]func(TripReason), len(t.signals))
	copy(signals, t.signals)
	t.mu.Unlock()
	for _, fn := range signals {
		fn(reason)
	}
}

// Tripped reports whether the trigger has fired, and why. This is the
// per-pulse fast path.
func (t *Trigger) Tripped() (TripReason, bool) {
	v := t.tripped.Load()
	return TripReason(v), v != 0
}

// Arm clears a previous trip so a new command can run. The caller must
// verify the interlock state first; an active e-stop will simply trip
// the trigger again on the watcher's next poll.
func (t *Trigger) Arm() {
	t.tripped.Store(0)
}

// AddSignal registers a callback invoked once per trip.
func (t *Trigger) AddSignal(fn func(TripReason)) {
	t.mu.Lock()
	t.signals = append(t.signals, fn)
	t.mu.Unlock()
}
