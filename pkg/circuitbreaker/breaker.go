// Package circuitbreaker implements a small consecutive-failure breaker.
// The pricing and exchange managers wrap their feed fetches with one so an
// unreachable feed gets a cooldown instead of a request per retry tick.
package circuitbreaker

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is the consecutive-failure count that opens the circuit.
	DefaultThreshold = 3
	// DefaultCooldown is how long the circuit stays open before a trial call.
	DefaultCooldown = 5 * time.Minute
)

// Breaker counts consecutive failures and opens once they reach a threshold.
// While open, Allow rejects callers until the cooldown passes; the first call
// after the cooldown runs as a trial, and its reported outcome either closes
// the circuit or re-arms the cooldown.
type Breaker struct {
	mu       sync.Mutex
	failures int
	open     bool
	openedAt time.Time

	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// New returns a closed breaker. Non-positive arguments fall back to the
// package defaults.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	// Trials pass once the cooldown has elapsed. The circuit only closes on
	// RecordSuccess, so a failed trial re-arms the cooldown instead of
	// resetting the count.
	return b.now().Sub(b.openedAt) >= b.cooldown
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
}

// RecordFailure counts one failure and opens the circuit when the count
// reaches the threshold. Failures while open re-stamp the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.openedAt = b.now()
	}
}
