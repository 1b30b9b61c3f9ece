package core

import (
	"errors"
	"testing"
	"time"
)

const (
	testStepPin GPIOPin = 23
	testDirPin  GPIOPin = 24
)

func testAxis(t *testing.T, invert bool) (*SimDriver, *Trigger, *Axis) {
	t.Helper()
	sim := NewSimDriver()
	trig := NewTrigger()
	axis, err := NewAxis(sim, trig, AxisConfig{
		Name:      "x",
		StepPin:   testStepPin,
		DirPin:    testDirPin,
		InvertDir: invert,
		MaxSpeed:  1250,
		MaxAccel:  4000,
	})
	if err != nil {
		t.Fatalf("NewAxis: %v", err)
	}
	return sim, trig, axis
}

func fastDelays(n int) []time.Duration {
	delays := make([]time.Duration, n)
	for i := range delays {
		delays[i] = time.Microsecond
	}
	return delays
}

func TestStepCountsPulsesAndPosition(t *testing.T) {
	sim, _, axis := testAxis(t, false)

	n, err := axis.Step(DirPositive, fastDelays(100))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if n != 100 {
		t.Errorf("completed %d pulses, want 100", n)
	}
	if got := axis.Position(); got != 100 {
		t.Errorf("position = %d, want 100", got)
	}
	if got := sim.Rising(testStepPin); got != 100 {
		t.Errorf("step pin saw %d rising edges, want 100", got)
	}
	if !sim.Level(testDirPin) {
		t.Error("dir pin low for positive travel")
	}

	n, err = axis.Step(DirNegative, fastDelays(30))
	if err != nil {
		t.Fatalf("Step negative: %v", err)
	}
	if n != 30 {
		t.Errorf("completed %d pulses, want 30", n)
	}
	if got := axis.Position(); got != 70 {
		t.Errorf("position = %d, want 70", got)
	}
	if sim.Level(testDirPin) {
		t.Error("dir pin high for negative travel")
	}
}

func TestStepInvertDir(t *testing.T) {
	sim, _, axis := testAxis(t, true)
	if _, err := axis.Step(DirPositive, fastDelays(1)); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if sim.Level(testDirPin) {
		t.Error("inverted axis drove dir pin high for positive travel")
	}
	// Position accounting follows the logical direction, not the pin.
	if got := axis.Position(); got != 1 {
		t.Errorf("position = %d, want 1", got)
	}
}

func TestStepAbortsMidMove(t *testing.T) {
	sim, trig, axis := testAxis(t, false)

	// Trip the trigger from the mechanics after the 40th pulse.
	pulses := 0
	sim.OnEdge(func(pin GPIOPin, level bool) {
		if pin == testStepPin && level {
			pulses++
			if pulses == 40 {
				trig.Trip(ReasonEstop)
			}
		}
	})

	n, err := axis.Step(DirPositive, fastDelays(100))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if n != 40 {
		t.Errorf("completed %d pulses before abort, want 40", n)
	}
	if got := axis.Position(); got != 40 {
		t.Errorf("position = %d, want 40: position must reflect exactly the emitted pulses", got)
	}
	if sim.Level(testStepPin) {
		t.Error("step pin left high after abort")
	}
}

func TestStepRefusedWhenAlreadyTripped(t *testing.T) {
	sim, trig, axis := testAxis(t, false)
	trig.Trip(ReasonOperator)

	n, err := axis.Step(DirPositive, fastDelays(10))
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if n != 0 {
		t.Errorf("completed %d pulses, want 0", n)
	}
	if got := sim.Rising(testStepPin); got != 0 {
		t.Errorf("step pin saw %d edges, want 0", got)
	}
}

func TestResetHome(t *testing.T) {
	_, _, axis := testAxis(t, false)
	if axis.Homed() {
		t.Fatal("new axis reports homed")
	}
	if _, err := axis.Step(DirPositive, fastDelays(5)); err != nil {
		t.Fatalf("Step: %v", err)
	}

	axis.ResetHome(0)
	if !axis.Homed() {
		t.Fatal("axis not homed after ResetHome")
	}
	if got := axis.Position(); got != 0 {
		t.Errorf("position = %d, want 0", got)
	}

	axis.MarkUnhomed()
	if axis.Homed() {
		t.Error("axis still homed after MarkUnhomed")
	}
}

func TestSpeedScaleClamped(t *testing.T) {
	_, _, axis := testAxis(t, false)
	tests := []struct {
		in, want float64
	}{
		{0.5, 0.5},
		{0.01, 0.1},
		{50, 10},
		{1, 1},
	}
	for _, tt := range tests {
		axis.SetSpeedScale(tt.in)
		if got := axis.SpeedScale(); got != tt.want {
			t.Errorf("SetSpeedScale(%v): scale = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	_, _, axis := testAxis(t, false)
	axis.ResetHome(0)
	if _, err := axis.Step(DirPositive, fastDelays(3)); err != nil {
		t.Fatalf("Step: %v", err)
	}
	snap := axis.Snapshot()
	if snap.Name != "x" || snap.Position != 3 || !snap.Homed || snap.Moving {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestMovingTracksStepInFlight(t *testing.T) {
	_, _, axis := testAxis(t, false)
	if axis.Moving() {
		t.Fatal("idle axis reports moving")
	}

	delays := make([]time.Duration, 500)
	for i := range delays {
		delays[i] = time.Millisecond
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := axis.Step(DirPositive, delays); err != nil {
			t.Errorf("Step: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !axis.Moving() {
		if time.Now().After(deadline) {
			t.Fatal("axis never reported moving during a step run")
		}
		time.Sleep(time.Millisecond)
	}
	<-done
	if axis.Moving() {
		t.Error("axis still reports moving after the run finished")
	}
}
