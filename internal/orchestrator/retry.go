package orchestrator

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

// RetryPolicy maps failure classes to retry decisions with jittered
// exponential backoff.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy. Zero values fall back to defaults.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &RetryPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

// MaxAttempts returns the overall attempt ceiling for transient classes.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// allowedAttempts returns how many total attempts a class may consume.
// Transient infrastructure classes get the full budget; server-observed
// failures get a single retry since the response is unlikely to change;
// deterministic failures get none.
func (p *RetryPolicy) allowedAttempts(class crawl.FailureClass) int {
	switch class {
	case crawl.FailNetwork, crawl.FailTimeout, crawl.FailSessionSpawn, crawl.FailPoolExhausted:
		return p.maxAttempts
	case crawl.FailHTTP, crawl.FailExtraction, crawl.FailRender:
		return 2
	default:
		// invalid_request, redirect_loop, pool_drained
		return 1
	}
}

// ShouldRetry reports whether another attempt is warranted after attempt
// attempts (1-based count of attempts already made) failed with class.
func (p *RetryPolicy) ShouldRetry(class crawl.FailureClass, attempt int) bool {
	return attempt < p.allowedAttempts(class)
}

// Backoff returns the wait before attempt n+1, given n completed attempts.
// The floor doubles each attempt, so successive waits never shrink below
// the delay cap.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
