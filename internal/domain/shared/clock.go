package shared

import "time"

// Clock allows injecting time into domain services.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystemClock returns a clock backed by time.Now in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

type fixedClock struct {
	now time.Time
}

// NewFixedClock returns a clock that always returns the same instant.
func NewFixedClock(t time.Time) Clock {
	return fixedClock{now: t.UTC()}
}

func (f fixedClock) Now() time.Time {
	return f.now
}
