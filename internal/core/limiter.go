package core

// limiter.go bounds how many sessions may validate and submit at once.
//
// Slots are a buffered channel. A session waits up to maxWait for a slot
// and then fails with ErrTooManySessions, staying in the mapping state so
// the caller can confirm again later.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTooManySessions is returned when every run slot stays occupied for
// longer than the limiter's wait time.
var ErrTooManySessions = errors.New("too many concurrent imports, please try again later")

// Default limiter settings.
const (
	DefaultMaxConcurrent = 5
	DefaultMaxWait       = 30 * time.Second
)

// drainPoll is how often WaitForDrain checks for idle.
const drainPoll = 100 * time.Millisecond

// SessionLimiter is a counting semaphore for running sessions.
type SessionLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	active  atomic.Int64
}

// NewSessionLimiter allows maxConcurrent runs at once. Non-positive values
// use the defaults.
func NewSessionLimiter(maxConcurrent int, maxWait time.Duration) *SessionLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &SessionLimiter{slots: make(chan struct{}, maxConcurrent), maxWait: maxWait}
}

// Acquire takes a slot, waiting at most maxWait. A done ctx returns its
// error; a timeout returns ErrTooManySessions. Every successful Acquire
// must be paired with Release.
func (l *SessionLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-timer.C:
		return ErrTooManySessions
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot only if one is free right now.
func (l *SessionLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (l *SessionLimiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of slots in use.
func (l *SessionLimiter) Active() int {
	return int(l.active.Load())
}

// Available returns the number of free slots.
func (l *SessionLimiter) Available() int {
	return cap(l.slots) - len(l.slots)
}

// WaitForDrain blocks until no slot is in use or ctx is done.
func (l *SessionLimiter) WaitForDrain(ctx context.Context) error {
	if l.Active() == 0 {
		return nil
	}
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.Active() == 0 {
				return nil
			}
		}
	}
}

// LimiterStatus is a point-in-time view of a SessionLimiter.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status reports current usage.
func (l *SessionLimiter) Status() LimiterStatus {
	return LimiterStatus{
		Active:        l.Active(),
		Available:     l.Available(),
		MaxConcurrent: cap(l.slots),
	}
}
