// Package turret contains the supervisor state machine that owns the
// turret hardware: it accepts external commands, arbitrates them
// against the safety interlocks, and sequences the axis drivers,
// motion planner, homing sequencer and fire controller.
package turret

import (
	"errors"
	"fmt"
	"strings"

	"vppturret/core"
)

// State is the supervisor's externally visible state.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateHoming
	StateMoving
	StateFiring
	StateEmergency
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateHoming:
		return "homing"
	case StateMoving:
		return "moving"
	case StateFiring:
		return "firing"
	case StateEmergency:
		return "emergency"
	}
	return "unknown"
}

// AxisID selects one of the turret's two axes.
type AxisID int

const (
	AxisX AxisID = iota
	AxisY
)

func (a AxisID) String() string {
	if a == AxisX {
		return "x"
	}
	return "y"
}

// ParseAxis maps a command-surface axis name to an AxisID.
func ParseAxis(name string) (AxisID, error) {
	switch strings.ToLower(name) {
	case "x":
		return AxisX, nil
	case "y":
		return AxisY, nil
	}
	return 0, fmt.Errorf("unknown axis %q", name)
}

// Pose is a step-space position for both axes.
type Pose struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// Status is the polled health surface exposed to the UI layer.
type Status struct {
	State     string              `json:"state"`
	Pose      Pose                `json:"pose"`
	Homed     bool                `json:"homed"`
	Forward   Pose                `json:"forward"`
	Interlock core.InterlockState `json:"interlock"`
	SafeMode  bool                `json:"safe_mode"`
	Tracking  bool                `json:"tracking"`
	Autofire  bool                `json:"autofire"`
	Sentry    bool                `json:"sentry"`
	LastError string              `json:"last_error,omitempty"`
}

var (
	// ErrBusy reports a command arriving while another is in flight.
	// There is no command queue: a single-turret rig should discard a
	// stale request, not execute it late.
	ErrBusy = errors.New("command in flight")

	// ErrNotReady reports a command before initialization completed.
	ErrNotReady = errors.New("supervisor not initialized")

	// ErrEmergency reports a command while the supervisor is latched in
	// the emergency state; only an explicit estop reset clears it.
	ErrEmergency = errors.New("emergency stop latched")

	// ErrSwitchNotFound reports a homing seek that exhausted its step
	// budget without the limit switch triggering, a wiring or hardware
	// fault that needs operator attention, never an automatic retry.
	ErrSwitchNotFound = errors.New("limit switch not found within budget")

	// ErrSentryDisabled reports a sentry fire request while the
	// tracking or autofire gate is off.
	ErrSentryDisabled = errors.New("tracking/autofire not enabled")
)
