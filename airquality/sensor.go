package airquality

import (
	"context"
)

type Sensor interface {
	// Discover blocks until the sensor answers on its bus address.
	Discover(ctx context.Context) error
	Initialize(ctx context.Context) error
	// PollAndRead waits for the next measurement and decodes it.
	PollAndRead(ctx context.Context) Result
	SerialNumber() string
}

// Result is the outcome of one measurement cycle: either a Reading or a
// fault. Faults are transient; the caller logs them and polls again.
type Result struct {
	Reading Reading
	Fault   error
}

func (r Result) OK() bool {
	return r.Fault == nil
}

// TransientFault wraps a bus-level failure inside a measurement cycle.
type TransientFault struct {
	Op  string
	Err error
}

func (f *TransientFault) Error() string {
	return f.Op + ": " + f.Err.Error()
}

func (f *TransientFault) Unwrap() error { return f.Err }
