package moderation

import "time"

type (
	// Clock supplies the current time and one-shot delayed execution.
	Clock interface {
		Now() time.Time
		AfterFunc(d time.Duration, f func()) Timer
	}

	Timer interface {
		Stop() bool
	}

	SystemClock struct{}
)

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
