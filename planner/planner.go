// Package planner turns a requested move into the time-ordered pulse
// schedule that implements it: a trapezoidal velocity profile
// discretized into one inter-step delay per pulse. Planning is a pure
// function of its inputs so identical requests always produce identical
// schedules.
package planner

import (
	"math"
	"time"
)

// Limits bounds a profile. MaxSpeed and MaxAccel are in steps/s and
// steps/s^2; MinInterval is the driver's floor on the time between
// pulses, which caps the speed any profile can request regardless of
// MaxSpeed.
type Limits struct {
	MaxSpeed    float64
	MaxAccel    float64
	MinInterval time.Duration
}

// Plan computes the inter-step delays for a move of the given length.
// The sign of steps is ignored; direction is the caller's concern.
//
// The profile accelerates from rest at MaxAccel, cruises at the speed
// bound, and decelerates symmetrically. When the move is too short for
// the full ramp it degrades to a triangular profile whose accel and
// decel halves meet at the midpoint, so short moves never overshoot.
// A MaxSpeed that the MinInterval floor cannot express is clamped
// silently; that is within contract, not an error.
func Plan(steps int64, lim Limits) []time.Duration {
	total := steps
	if total < 0 {
		total = -total
	}
	if total == 0 {
		return nil
	}

	accel := lim.MaxAccel
	if accel <= 0 {
		accel = 1
	}
	cruise := cruiseDelay(lim)

	// Steps needed to reach the cruise speed from rest.
	cruiseSpeed := 1 / cruise.Seconds()
	accelSteps := int64(math.Ceil(cruiseSpeed * cruiseSpeed / (2 * accel)))
	if accelSteps < 1 {
		accelSteps = 1
	}

	decelSteps := accelSteps
	if 2*accelSteps > total {
		// Triangular: ramps meet at the midpoint, peak below cruise.
		accelSteps = (total + 1) / 2
		decelSteps = total - accelSteps
	}
	cruiseSteps := total - accelSteps - decelSteps

	ramp := rampDelays(accelSteps, accel, cruise)

	delays := make([]time.Duration, 0, total)
	delays = append(delays, ramp...)
	for i := int64(0); i < cruiseSteps; i++ {
		delays = append(delays, cruise)
	}
	for i := decelSteps - 1; i >= 0; i-- {
		delays = append(delays, ramp[i])
	}
	return delays
}

// cruiseDelay converts the speed bound to a per-step delay, honoring
// the driver's minimum interval.
func cruiseDelay(lim Limits) time.Duration {
	minInterval := lim.MinInterval
	if minInterval <= 0 {
		minInterval = time.Microsecond
	}
	if lim.MaxSpeed <= 0 {
		return minInterval
	}
	d := time.Duration(float64(time.Second) / lim.MaxSpeed)
	if d < minInterval {
		d = minInterval
	}
	return d
}

// rampDelays produces the constant-acceleration ramp from rest. Under
// acceleration a, the time to complete n steps from rest is
// sqrt(2n/a); each delay is the difference between consecutive step
// times, floored at the cruise delay so the implied speed never
// exceeds the bound.
func rampDelays(n int64, accel float64, cruise time.Duration) []time.Duration {
	delays := make([]time.Duration, 0, n)
	prev := 0.0
	for i := int64(1); i <= n; i++ {
		t := math.Sqrt(2 * float64(i) / accel)
		d := time.Duration((t - prev) * float64(time.Second))
		if d < cruise {
			d = cruise
		}
		delays = append(delays, d)
		prev = t
	}
	return delays
}

// StartDelay returns the first (slowest) delay of a ramp under the
// given limits, the pace a single-step move starts at.
func StartDelay(lim Limits) time.Duration {
	accel := lim.MaxAccel
	if accel <= 0 {
		accel = 1
	}
	d := time.Duration(math.Sqrt(2/accel) * float64(time.Second))
	if c := cruiseDelay(lim); d < c {
		d = c
	}
	return d
}

// Constant returns a schedule of n identical delays, used for bounded
// fixed-speed moves such as homing seek and backoff.
func Constant(n int64, delay time.Duration) []time.Duration {
	if n < 0 {
		n = -n
	}
	delays := make([]time.Duration, n)
	for i := range delays {
		delays[i] = delay
	}
	return delays
}
