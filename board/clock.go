package board

import "time"

// Timer is the part of *time.Timer the queues rely on.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run on its own goroutine after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
