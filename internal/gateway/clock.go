package gateway

import "time"

// Clock abstracts timer creation so reconnect scheduling is deterministic in
// tests.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled call.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// NewClock returns the wall clock.
func NewClock() Clock {
	return realClock{}
}
