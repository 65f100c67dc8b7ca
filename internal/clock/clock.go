// Package clock provides the wall-clock implementation of interfaces.Clock.
package clock

import (
	"time"

	"classchat/pkg/interfaces"
)

// Real is backed by the time package
type Real struct{}

// New returns the wall clock
func New() Real {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) AfterFunc(d time.Duration, f func()) interfaces.Timer {
	return time.AfterFunc(d, f)
}
