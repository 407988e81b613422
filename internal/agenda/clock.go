package agenda

import "time"

// Clock is the monotonic time source injected into the Agenda State Machine
// so that tests can control the passage of time without sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production [Clock] backed by [time.Now].
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
