// Package clock is the scheduling capability shared by the stream client and the session manager.
//
// Components never call time.AfterFunc directly; they receive a Scheduler so tests can
// advance virtual time with Manual.
package clock

import "time"

// Timer is a pending callback returned by Scheduler.AfterFunc.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call stopped the timer.
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real is the wall-clock Scheduler backed by time.AfterFunc.
type Real struct{}

// System is the process-wide real scheduler.
var System Scheduler = Real{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// OrSystem returns s, or System when s is nil.
func OrSystem(s Scheduler) Scheduler {
	if s == nil {
		return System
	}
	return s
}
