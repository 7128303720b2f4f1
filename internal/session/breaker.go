package session

import (
	"sync"
	"time"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

// Breaker trips after a run of consecutive spawn failures and fails fast
// until the cooldown elapses, preventing resource thrash when the browser
// binary is unlaunchable.
type Breaker struct {
	mu          sync.Mutex
	threshold   int
	cooldown    time.Duration
	clock       crawl.Clock
	consecutive int
	openUntil   time.Time
}

// NewBreaker builds a Breaker. A threshold <= 0 disables tripping.
func NewBreaker(threshold int, cooldown time.Duration, clock crawl.Clock) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock,
	}
}

// Allow reports whether a spawn attempt may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if b.clock.Now().Before(b.openUntil) {
		return false
	}
	// Cooldown elapsed; allow one probe attempt.
	b.openUntil = time.Time{}
	b.consecutive = 0
	return true
}

// RecordFailure counts a failed spawn and trips the breaker at threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.threshold > 0 && b.consecutive >= b.threshold {
		b.openUntil = b.clock.Now().Add(b.cooldown)
	}
}

// RecordSuccess resets the consecutive failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.openUntil = time.Time{}
}
