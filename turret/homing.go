package turret

import (
	"errors"
	"fmt"
	"time"

	"vppturret/core"
	"vppturret/planner"
)

// Homing runs each axis through a fixed phase sequence against its
// normally-closed limit switch:
//
//	seeking    drive toward the switch until it trips
//	backoff    retreat so the switch releases, never resting on the edge
//	confirming creep back in slowly for a repeatable contact point
//	homed      retreat clear of the switch and zero the axis there
//
// An interlock emergency in any phase aborts to failed. Failed homing
// is never retried automatically: a seek that exhausts its budget means
// a wiring fault, and blind retries against that risk mechanical
// damage.

type homingPhase int

const (
	phaseIdle homingPhase = iota
	phaseSeeking
	phaseBackoff
	phaseConfirming
	phaseHomed
	phaseFailed
)

func (p homingPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseSeeking:
		return "seeking"
	case phaseBackoff:
		return "backoff"
	case phaseConfirming:
		return "confirming"
	case phaseHomed:
		return "homed"
	case phaseFailed:
		return "failed"
	}
	return "unknown"
}

// HomingConfig tunes the sequencer.
type HomingConfig struct {
	SeekInterval    time.Duration // per-step delay while seeking
	ConfirmInterval time.Duration // slower delay for the confirm pass
	BackoffSteps    int64         // fixed retreat after the first trip
	Budget          int64         // max seek steps before declaring a fault
}

func (c HomingConfig) withDefaults() HomingConfig {
	if c.SeekInterval <= 0 {
		c.SeekInterval = time.Millisecond
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = 2 * c.SeekInterval
	}
	if c.BackoffSteps <= 0 {
		c.BackoffSteps = 80
	}
	if c.Budget <= 0 {
		c.Budget = 20000
	}
	return c
}

// sequencer homes a single axis.
type sequencer struct {
	axis  *core.Axis
	mon   *core.Monitor
	limit func(core.InterlockState) bool
	cfg   HomingConfig
	phase homingPhase
}

func newSequencer(axis *core.Axis, mon *core.Monitor, id AxisID, cfg HomingConfig) *sequencer {
	limit := func(s core.InterlockState) bool { return s.XLimitActive }
	if id == AxisY {
		limit = func(s core.InterlockState) bool { return s.YLimitActive }
	}
	return &sequencer{
		axis:  axis,
		mon:   mon,
		limit: limit,
		cfg:   cfg.withDefaults(),
		phase: phaseIdle,
	}
}

// run executes the full sequence. On success the axis is homed at
// position zero, parked just clear of the switch. Zero sits off the
// switch on purpose: if it sat at the contact point, any move back to
// zero would trip the limit guard and strand the axis.
func (s *sequencer) run() error {
	s.axis.MarkUnhomed()

	if err := s.seek(); err != nil {
		return s.fail(err)
	}
	if err := s.backoff(); err != nil {
		return s.fail(err)
	}
	if err := s.confirm(); err != nil {
		return s.fail(err)
	}
	if err := s.park(); err != nil {
		return s.fail(err)
	}
	s.axis.ResetHome(0)
	s.phase = phaseHomed
	return nil
}

func (s *sequencer) fail(err error) error {
	s.phase = phaseFailed
	s.axis.MarkUnhomed()
	return fmt.Errorf("homing %s: %w", s.axis.Config().Name, err)
}

// seek drives toward the switch until it trips. Starting already on the
// switch is fine: the trip is observed immediately and backoff handles
// clearing it.
func (s *sequencer) seek() error {
	s.phase = phaseSeeking
	return s.stepUntil(core.DirNegative, s.cfg.Budget, s.cfg.SeekInterval, true)
}

// backoff retreats a fixed distance, then keeps going until the switch
// actually releases in case the fixed retreat was not enough.
func (s *sequencer) backoff() error {
	s.phase = phaseBackoff
	delays := planner.Constant(s.cfg.BackoffSteps, s.cfg.SeekInterval)
	if _, err := s.axis.Step(core.DirPositive, delays); err != nil {
		return err
	}
	return s.stepUntil(core.DirPositive, s.cfg.Budget/2, s.cfg.SeekInterval, false)
}

// confirm creeps back toward the switch at the slow interval so the
// contact point is repeatable and low-energy.
func (s *sequencer) confirm() error {
	s.phase = phaseConfirming
	return s.stepUntil(core.DirNegative, s.cfg.Budget, s.cfg.ConfirmInterval, true)
}

// park retreats from the confirmed contact until the switch releases,
// plus a small margin, so guarded motion can resume without the freshly
// homed axis reading as a limit fault. The run zeroes the axis here,
// making the whole commanded envelope reachable without touching the
// switch. The confirm contact still anchors repeatability: the retreat
// is a fixed count from it.
func (s *sequencer) park() error {
	if err := s.stepUntil(core.DirPositive, s.cfg.Budget/2, s.cfg.SeekInterval, false); err != nil {
		return err
	}
	margin := s.cfg.BackoffSteps / 4
	if margin < 1 {
		margin = 1
	}
	_, err := s.axis.Step(core.DirPositive, planner.Constant(margin, s.cfg.SeekInterval))
	return err
}

// stepUntil pulses one step at a time until the limit switch reaches
// the wanted state, polling the interlock monitor before every pulse.
func (s *sequencer) stepUntil(dir core.Direction, budget int64, interval time.Duration, wantTripped bool) error {
	single := []time.Duration{interval}
	for i := int64(0); i < budget; i++ {
		state := s.mon.Poll()
		if state.EstopActive {
			return fmt.Errorf("interlock during %s: %w", s.phase, core.ErrAborted)
		}
		if s.limit(state) == wantTripped {
			return nil
		}
		if _, err := s.axis.Step(dir, single); err != nil {
			return err
		}
	}
	if wantTripped {
		return ErrSwitchNotFound
	}
	return errors.New("limit switch did not release")
}
