package turret

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"vppturret/core"
	"vppturret/planner"
)

// Calibration is the persisted tuning record: the forward reference
// pose and the per-axis speed scales.
type Calibration struct {
	Forward     Pose
	XSpeedScale float64
	YSpeedScale float64
}

// CalibrationStore persists calibration across sessions. Persistence is
// a collaborator, not part of the motion core; a nil store just means
// calibration lives only as long as the process.
type CalibrationStore interface {
	Load() (Calibration, bool, error)
	Save(Calibration) error
}

// Config tunes the supervisor.
type Config struct {
	MinStepInterval time.Duration // driver floor between pulses
	DefaultJogSteps int64         // jog size when the caller passes none
	Homing          HomingConfig
	Sentry          SentryConfig
}

func (c Config) withDefaults() Config {
	if c.MinStepInterval <= 0 {
		c.MinStepInterval = 200 * time.Microsecond
	}
	if c.DefaultJogSteps <= 0 {
		c.DefaultJogSteps = 400
	}
	c.Sentry = c.Sentry.withDefaults()
	return c
}

// Deps collects the hardware-facing collaborators the supervisor owns.
type Deps struct {
	X     *core.Axis
	Y     *core.Axis
	Fire  *core.FireController
	Mon   *core.Monitor
	Trig  *core.Trigger
	Watch *core.Watcher
	Store CalibrationStore // optional
	Scan  ScanPattern      // optional, defaults to SweepPattern
}

// Supervisor is the single owner of all hardware-touching calls. One
// command runs at a time; a command arriving while another is in
// flight is rejected with ErrBusy rather than queued. The interlock
// watcher runs concurrently but only trips the abort trigger, so every
// motor and fire line has exactly one writer.
type Supervisor struct {
	deps Deps
	cfg  Config

	busy atomic.Bool

	mu       sync.Mutex
	state    State
	forward  Pose
	tracking bool
	autofire bool
	sentry   bool
	lastErr  string
}

// New builds a supervisor in the uninitialized state.
func New(deps Deps, cfg Config) *Supervisor {
	s := &Supervisor{
		deps:  deps,
		cfg:   cfg.withDefaults(),
		state: StateUninitialized,
	}
	if s.deps.Scan == nil {
		s.deps.Scan = NewSweepPattern(s.cfg.Sentry.ScanStepSteps, s.cfg.Sentry.ScanHalfWidth)
	}
	return s
}

// Init loads persisted calibration, starts the interlock watcher and
// moves to Idle. An e-stop observed at any point after this latches the
// Emergency state until an explicit reset.
func (s *Supervisor) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return fmt.Errorf("init: already initialized")
	}

	if s.deps.Store != nil {
		cal, ok, err := s.deps.Store.Load()
		if err != nil {
			return fmt.Errorf("load calibration: %w", err)
		}
		if ok {
			s.forward = cal.Forward
			s.deps.X.SetSpeedScale(cal.XSpeedScale)
			s.deps.Y.SetSpeedScale(cal.YSpeedScale)
			log.Printf("supervisor: calibration loaded, forward=(%d,%d)", cal.Forward.X, cal.Forward.Y)
		}
	}

	// An e-stop with no command in flight still latches Emergency.
	s.deps.Trig.AddSignal(func(reason core.TripReason) {
		if reason != core.ReasonEstop {
			return
		}
		s.mu.Lock()
		if s.state != StateUninitialized {
			s.state = StateEmergency
		}
		s.mu.Unlock()
	})

	if s.deps.Watch != nil {
		s.deps.Watch.GuardLimits(true)
		s.deps.Watch.Start()
	}
	s.state = StateIdle
	return nil
}

// Close stops the watcher and forces the outputs quiet.
func (s *Supervisor) Close() {
	s.deps.Trig.Trip(core.ReasonShutdown)
	if s.deps.Watch != nil {
		s.deps.Watch.Stop()
	}
	s.deps.X.StopNow()
	s.deps.Y.StopNow()
}

// begin claims the single command slot and performs the gate checks
// every command shares. requireClear additionally refuses when a limit
// switch is tripped, which motion commands want and homing must not.
// The returned finish func settles state and must be called exactly
// once with the command's outcome.
func (s *Supervisor) begin(next State, requireClear bool) (func(error) error, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	fail := func(err error) (func(error) error, error) {
		s.busy.Store(false)
		return nil, err
	}

	s.mu.Lock()
	switch s.state {
	case StateUninitialized:
		s.mu.Unlock()
		return fail(ErrNotReady)
	case StateEmergency:
		s.mu.Unlock()
		return fail(ErrEmergency)
	}

	state := s.deps.Mon.Poll()
	if state.EstopActive {
		s.state = StateEmergency
		s.lastErr = "estop active"
		s.mu.Unlock()
		return fail(fmt.Errorf("estop active: %w", core.ErrInterlocked))
	}
	if requireClear && !state.Safe() {
		s.mu.Unlock()
		return fail(fmt.Errorf("limit switch tripped: %w", core.ErrInterlocked))
	}
	s.state = next
	s.mu.Unlock()

	s.deps.Trig.Arm()

	return func(err error) error {
		s.mu.Lock()
		reason, tripped := s.deps.Trig.Tripped()
		switch {
		case tripped && reason == core.ReasonEstop:
			s.state = StateEmergency
		case err != nil && s.deps.Mon.Poll().EstopActive:
			// The sequencers poll the monitor themselves; an abort
			// they attribute to the e-stop latches here even if the
			// watcher has not tripped the trigger yet.
			s.state = StateEmergency
		case s.state != StateEmergency:
			s.state = StateIdle
		}
		if err != nil {
			s.lastErr = err.Error()
		} else {
			s.lastErr = ""
		}
		s.mu.Unlock()
		s.busy.Store(false)
		return err
	}, nil
}

func (s *Supervisor) axis(id AxisID) *core.Axis {
	if id == AxisX {
		return s.deps.X
	}
	return s.deps.Y
}

// moveAxis plans and executes a relative move on one axis.
func (s *Supervisor) moveAxis(id AxisID, delta int64) error {
	if delta == 0 {
		return nil
	}
	ax := s.axis(id)
	cfg := ax.Config()
	delays := planner.Plan(delta, planner.Limits{
		MaxSpeed:    cfg.MaxSpeed,
		MaxAccel:    cfg.MaxAccel,
		MinInterval: s.cfg.MinStepInterval,
	})
	dir := core.DirPositive
	if delta < 0 {
		dir = core.DirNegative
	}
	_, err := ax.Step(dir, delays)
	return err
}

// Home establishes the absolute zero reference for both axes by
// driving each into its limit switch. The limit guard is disarmed for
// the duration since hitting the switch is the point.
func (s *Supervisor) Home() error {
	finish, err := s.begin(StateHoming, false)
	if err != nil {
		return err
	}

	if s.deps.Watch != nil {
		s.deps.Watch.GuardLimits(false)
		defer s.deps.Watch.GuardLimits(true)
	}

	for _, id := range []AxisID{AxisX, AxisY} {
		seq := newSequencer(s.axis(id), s.deps.Mon, id, s.cfg.Homing)
		if err := seq.run(); err != nil {
			return finish(err)
		}
		log.Printf("supervisor: axis %s homed", id)
	}
	return finish(nil)
}

// Jog performs a bounded relative move. Allowed before homing: jogging
// is how the operator positions the turret for calibration in the
// first place.
func (s *Supervisor) Jog(id AxisID, dir core.Direction, steps int64) (Pose, error) {
	if steps <= 0 {
		steps = s.cfg.DefaultJogSteps
	}
	finish, err := s.begin(StateMoving, true)
	if err != nil {
		return s.Pose(), err
	}
	err = finish(s.moveAxis(id, int64(dir)*steps))
	return s.Pose(), err
}

// Goto moves to an absolute step-space pose. Requires homing, since
// pre-home positions are not trustworthy.
func (s *Supervisor) Goto(x, y int64) (Pose, error) {
	finish, err := s.begin(StateMoving, true)
	if err != nil {
		return s.Pose(), err
	}
	err = finish(s.gotoLocked(x, y))
	return s.Pose(), err
}

// gotoLocked runs the absolute move; callers hold the command slot.
func (s *Supervisor) gotoLocked(x, y int64) error {
	if !s.deps.X.Homed() || !s.deps.Y.Homed() {
		return core.ErrNotHomed
	}
	if err := s.moveAxis(AxisX, x-s.deps.X.Position()); err != nil {
		return err
	}
	return s.moveAxis(AxisY, y-s.deps.Y.Position())
}

// Fire pulses the marker output for the configured duration.
func (s *Supervisor) Fire() error {
	finish, err := s.begin(StateFiring, true)
	if err != nil {
		return err
	}
	return finish(s.deps.Fire.Fire(0))
}

// TestFire pulses the marker at the minimum pulse width, enough to
// verify the wiring on the bench without spending a full shot.
func (s *Supervisor) TestFire() error {
	finish, err := s.begin(StateFiring, true)
	if err != nil {
		return err
	}
	return finish(s.deps.Fire.Fire(time.Nanosecond))
}

// SetCurrentAsForward stores the current pose as the calibrated
// "straight ahead" reference and persists it.
func (s *Supervisor) SetCurrentAsForward() (Pose, error) {
	finish, err := s.begin(StateIdle, false)
	if err != nil {
		return s.Pose(), err
	}
	pose := s.Pose()
	s.mu.Lock()
	s.forward = pose
	s.mu.Unlock()
	log.Printf("supervisor: forward reference set at (%d,%d)", pose.X, pose.Y)
	s.persistCalibration()
	return pose, finish(nil)
}

// GotoForward returns to the stored forward reference pose.
func (s *Supervisor) GotoForward() (Pose, error) {
	finish, err := s.begin(StateMoving, true)
	if err != nil {
		return s.Pose(), err
	}
	s.mu.Lock()
	fwd := s.forward
	s.mu.Unlock()
	err = finish(s.gotoLocked(fwd.X, fwd.Y))
	return s.Pose(), err
}

// SentryScanStep advances the scripted scan pattern by one increment
// and returns the new pose.
func (s *Supervisor) SentryScanStep() (Pose, error) {
	finish, err := s.begin(StateMoving, true)
	if err != nil {
		return s.Pose(), err
	}
	if !s.deps.X.Homed() {
		return s.Pose(), finish(core.ErrNotHomed)
	}
	s.mu.Lock()
	fwd := s.forward
	s.mu.Unlock()
	dx := s.deps.Scan.Next(s.Pose(), fwd)
	err = finish(s.moveAxis(AxisX, dx))
	return s.Pose(), err
}

// SentryFireAt translates a detector pixel offset into a bounded
// corrective move, performs it, then fires as one atomic command: no
// other command can interleave between the correction and the shot,
// and an aborted correction never reaches the marker output.
func (s *Supervisor) SentryFireAt(dxPixels, dyPixels float64) (Pose, error) {
	s.mu.Lock()
	armed := s.tracking && s.autofire
	s.mu.Unlock()
	if !armed {
		return s.Pose(), ErrSentryDisabled
	}

	finish, err := s.begin(StateMoving, true)
	if err != nil {
		return s.Pose(), err
	}
	if !s.deps.X.Homed() || !s.deps.Y.Homed() {
		return s.Pose(), finish(core.ErrNotHomed)
	}

	dx := s.cfg.Sentry.correctionSteps(dxPixels)
	dy := s.cfg.Sentry.correctionSteps(dyPixels)
	if err := s.moveAxis(AxisX, dx); err != nil {
		return s.Pose(), finish(err)
	}
	if err := s.moveAxis(AxisY, dy); err != nil {
		return s.Pose(), finish(err)
	}

	s.mu.Lock()
	if s.state == StateMoving {
		s.state = StateFiring
	}
	s.mu.Unlock()
	err = finish(s.deps.Fire.Fire(0))
	return s.Pose(), err
}

// Stop trips the shared abort trigger. Not gated by the command slot:
// a stop must preempt whatever is in flight, and it takes effect within
// one pulse interval.
func (s *Supervisor) Stop() {
	s.deps.Trig.Trip(core.ReasonOperator)
	s.deps.X.StopNow()
	s.deps.Y.StopNow()
}

// EstopReset exits the Emergency state, provided the e-stop condition
// has actually cleared. Resuming silently after a safety event is
// itself a hazard, so this is the only path out.
func (s *Supervisor) EstopReset() error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEmergency {
		return nil
	}
	if state := s.deps.Mon.Poll(); state.EstopActive {
		return fmt.Errorf("estop still active: %w", core.ErrInterlocked)
	}
	s.deps.Trig.Arm()
	s.state = StateIdle
	s.lastErr = ""
	log.Printf("supervisor: emergency cleared by operator reset")
	return nil
}

// SetTracking toggles the sentry tracking gate.
func (s *Supervisor) SetTracking(on bool) {
	s.mu.Lock()
	s.tracking = on
	s.mu.Unlock()
}

// SetAutofire toggles the sentry autofire gate.
func (s *Supervisor) SetAutofire(on bool) {
	s.mu.Lock()
	s.autofire = on
	s.mu.Unlock()
}

// SetSentryMode flags sentry mode for the status surface; the sweep
// itself is driven by the external detector loop calling
// SentryScanStep.
func (s *Supervisor) SetSentryMode(on bool) {
	s.mu.Lock()
	s.sentry = on
	s.mu.Unlock()
}

// SetSpeedScales adjusts and persists the per-axis speed scales.
func (s *Supervisor) SetSpeedScales(x, y float64) {
	s.deps.X.SetSpeedScale(x)
	s.deps.Y.SetSpeedScale(y)
	s.persistCalibration()
}

func (s *Supervisor) persistCalibration() {
	if s.deps.Store == nil {
		return
	}
	s.mu.Lock()
	cal := Calibration{
		Forward:     s.forward,
		XSpeedScale: s.deps.X.SpeedScale(),
		YSpeedScale: s.deps.Y.SpeedScale(),
	}
	s.mu.Unlock()
	if err := s.deps.Store.Save(cal); err != nil {
		log.Printf("supervisor: persist calibration: %v", err)
	}
}

// Pose returns the current step-space pose of both axes.
func (s *Supervisor) Pose() Pose {
	return Pose{X: s.deps.X.Position(), Y: s.deps.Y.Position()}
}

// Status assembles the polled health surface: supervisor state, pose,
// a fresh interlock snapshot and the sentry gates.
func (s *Supervisor) Status() Status {
	interlock := s.deps.Mon.Poll()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:     s.state.String(),
		Pose:      Pose{X: s.deps.X.Position(), Y: s.deps.Y.Position()},
		Homed:     s.deps.X.Homed() && s.deps.Y.Homed(),
		Forward:   s.forward,
		Interlock: interlock,
		SafeMode:  !interlock.Safe(),
		Tracking:  s.tracking,
		Autofire:  s.autofire,
		Sentry:    s.sentry,
		LastError: s.lastErr,
	}
}

// State returns the supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
