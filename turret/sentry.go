package turret

// ScanPattern supplies the scripted sweep used by sentry mode. Each
// call advances the pattern by one increment relative to the current
// pose and returns the X jog, in steps, to perform. The geometry is a
// strategy so deployments can swap sweep shapes without touching the
// supervisor.
type ScanPattern interface {
	Next(current, forward Pose) (dxSteps int64)
}

// SweepPattern is the default pattern: a horizontal sweep that reverses
// direction at a configurable half-width either side of the forward
// reference.
type SweepPattern struct {
	StepSteps int64 // steps per scan increment
	HalfWidth int64 // reversal bound, steps from forward reference

	dir int64
}

// NewSweepPattern builds a sweep with sane bounds.
func NewSweepPattern(stepSteps, halfWidth int64) *SweepPattern {
	if stepSteps < 5 {
		stepSteps = 5
	}
	if halfWidth < stepSteps {
		halfWidth = stepSteps * 10
	}
	return &SweepPattern{StepSteps: stepSteps, HalfWidth: halfWidth, dir: 1}
}

// Next reverses at the sweep bounds and otherwise keeps marching.
func (p *SweepPattern) Next(current, forward Pose) int64 {
	offset := current.X - forward.X
	if p.dir > 0 && offset+p.StepSteps > p.HalfWidth {
		p.dir = -1
	} else if p.dir < 0 && offset-p.StepSteps < -p.HalfWidth {
		p.dir = 1
	}
	return p.dir * p.StepSteps
}

// SentryConfig maps detector pixel offsets into bounded corrective
// moves.
type SentryConfig struct {
	StepsPerPixel float64 // aim correction gain
	MaxCorrection int64   // per-command clamp on corrective steps
	ScanStepSteps int64   // sweep increment
	ScanHalfWidth int64   // sweep reversal bound
}

func (c SentryConfig) withDefaults() SentryConfig {
	if c.StepsPerPixel <= 0 {
		c.StepsPerPixel = 2
	}
	if c.MaxCorrection <= 0 {
		c.MaxCorrection = 2000
	}
	if c.ScanStepSteps <= 0 {
		c.ScanStepSteps = 100
	}
	if c.ScanHalfWidth <= 0 {
		c.ScanHalfWidth = 2000
	}
	return c
}

// correctionSteps converts a pixel offset to clamped steps.
func (c SentryConfig) correctionSteps(pixels float64) int64 {
	steps := int64(pixels * c.StepsPerPixel)
	if steps > c.MaxCorrection {
		steps = c.MaxCorrection
	}
	if steps < -c.MaxCorrection {
		steps = -c.MaxCorrection
	}
	return steps
}
