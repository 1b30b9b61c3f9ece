package core

import "errors"

var (
	// ErrAborted reports that the abort trigger fired mid-operation.
	// The operation stopped cleanly and position state is valid.
	ErrAborted = errors.New("operation aborted")

	// ErrNotHomed reports that an absolute move was requested before
	// the axis established its zero reference.
	ErrNotHomed = errors.New("axis not homed")

	// ErrFireBusy reports an overlapping fire request.
	ErrFireBusy = errors.New("fire already in progress")

	// ErrInterlocked reports that a safety interlock (e-stop or limit
	// switch) blocked the request.
	ErrInterlocked = errors.New("safety interlock active")
)
