package faucet

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the default duration of the sliding window.
	DefaultWindow = 24 * time.Hour
	// DefaultMaxClaims is the default number of claims per window.
	DefaultMaxClaims = 3
)

// Clock is the source of the time of the limiter.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Limiter allows a fixed number of claims per identity over a sliding window.
// The claims out of the window are pruned lazily, when the identity claims
// again.
type Limiter struct {
	sync.Mutex

	window time.Duration
	max    int
	clock  Clock
	claims map[string][]time.Time
}

// LimiterOption is the type of option to set some fields of a limiter.
type LimiterOption func(*Limiter)

// WithClock sets the clock of the limiter.
func WithClock(c Clock) LimiterOption {
	return func(l *Limiter) {
		l.clock = c
	}
}

// NewLimiter returns a limiter of max claims per window.
func NewLimiter(window time.Duration, max int, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		window: window,
		max:    max,
		clock:  systemClock{},
		claims: make(map[string][]time.Time),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Allow returns true and consumes a claim if the identity has one left in the
// window.
func (l *Limiter) Allow(identity string) bool {
	l.Lock()
	defer l.Unlock()

	now := l.clock.Now()
	claims := l.prune(identity, now)

	if len(claims) >= l.max {
		return false
	}

	l.claims[identity] = append(claims, now)

	return true
}

// RetryAfter returns how long the identity has to wait for its next claim.
func (l *Limiter) RetryAfter(identity string) time.Duration {
	l.Lock()
	defer l.Unlock()

	now := l.clock.Now()
	claims := l.prune(identity, now)

	if len(claims) < l.max {
		return 0
	}

	return claims[len(claims)-l.max].Add(l.window).Sub(now)
}

// Refund gives back the last claim of the identity, when the claim could not
// be served.
func (l *Limiter) Refund(identity string) {
	l.Lock()
	defer l.Unlock()

	claims := l.claims[identity]
	if len(claims) == 0 {
		return
	}

	l.claims[identity] = claims[:len(claims)-1]
}

// prune must be called with the lock. It drops the claims out of the window
// and returns the others, the oldest first.
func (l *Limiter) prune(identity string, now time.Time) []time.Time {
	claims := l.claims[identity]

	i := 0
	for i < len(claims) && !now.Before(claims[i].Add(l.window)) {
		i++
	}

	claims = claims[i:]
	if len(claims) == 0 {
		delete(l.claims, identity)
		return nil
	}

	l.claims[identity] = claims

	return claims
}
