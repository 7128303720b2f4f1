package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/metrics"
)

// Config controls pool sizing and session recycling.
type Config struct {
	Size             int
	MaxAge           time.Duration
	MaxUses          int
	UserAgent        string
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// SpawnFunc starts one browser and returns its task context. Spawning is the
// expensive, failure-prone step; the pool counts its failures toward the
// circuit breaker.
type SpawnFunc func() (context.Context, context.CancelFunc, error)

var (
	errAcquireAfterDrain = errors.New("pool is drained")
	errSpawnSuspended    = errors.New("session spawning suspended by circuit breaker")
)

// Pool owns a bounded set of browser sessions. Sessions are borrowed via
// Acquire and must come back through Release; they are never shared.
type Pool struct {
	cfg         Config
	logger      *zap.Logger
	clock       crawl.Clock
	breaker     *Breaker
	spawn       SpawnFunc
	allocCancel context.CancelFunc

	idle    chan *Session
	drainCh chan struct{}

	mu      sync.Mutex
	live    int
	seq     int
	drained bool
}

// New builds a Pool backed by headless Chromium via chromedp.
func New(cfg Config, clock crawl.Clock, logger *zap.Logger) *Pool {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	p := newWithSpawner(cfg, clock, logger, func() (context.Context, context.CancelFunc, error) {
		taskCtx, cancel := chromedp.NewContext(allocCtx)
		// Run with no actions forces the browser process to start now, so
		// spawn failures surface here rather than mid-navigation.
		if err := chromedp.Run(taskCtx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("start browser: %w", err)
		}
		return taskCtx, cancel, nil
	})
	p.allocCancel = allocCancel
	return p
}

func newWithSpawner(cfg Config, clock crawl.Clock, logger *zap.Logger, spawn SpawnFunc) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:     cfg,
		logger:  logger,
		clock:   clock,
		breaker: NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, clock),
		spawn:   spawn,
		idle:    make(chan *Session, cfg.Size),
		drainCh: make(chan struct{}),
	}
}

// Acquire returns an exclusive session, blocking cooperatively until one is
// idle or capacity allows a spawn. The ctx deadline bounds the wait; on
// expiry the caller sees a pool-exhausted failure.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		p.mu.Lock()
		if p.drained {
			p.mu.Unlock()
			return nil, crawl.NewFailure(crawl.FailPoolDrained, errAcquireAfterDrain)
		}

		select {
		case s := <-p.idle:
			if p.expired(s) {
				p.retireLocked(s)
				p.mu.Unlock()
				continue
			}
			s.uses++
			p.mu.Unlock()
			return s, nil
		default:
		}

		if p.live < p.cfg.Size {
			if !p.breaker.Allow() {
				p.mu.Unlock()
				return nil, crawl.NewFailure(crawl.FailPoolExhausted, errSpawnSuspended)
			}
			p.live++
			p.seq++
			id := fmt.Sprintf("session-%d", p.seq)
			metrics.SetSessionsLive(p.live)
			p.mu.Unlock()
			return p.spawnSession(id)
		}
		p.mu.Unlock()

		select {
		case s := <-p.idle:
			p.mu.Lock()
			if p.drained {
				p.retireLocked(s)
				p.mu.Unlock()
				return nil, crawl.NewFailure(crawl.FailPoolDrained, errAcquireAfterDrain)
			}
			if p.expired(s) {
				p.retireLocked(s)
				p.mu.Unlock()
				continue
			}
			s.uses++
			p.mu.Unlock()
			return s, nil
		case <-p.drainCh:
			return nil, crawl.NewFailure(crawl.FailPoolDrained, errAcquireAfterDrain)
		case <-ctx.Done():
			return nil, crawl.NewFailure(crawl.FailPoolExhausted, fmt.Errorf("acquire wait: %w", ctx.Err()))
		}
	}
}

func (p *Pool) spawnSession(id string) (*Session, error) {
	taskCtx, cancel, err := p.spawn()
	if err != nil {
		p.mu.Lock()
		p.live--
		metrics.SetSessionsLive(p.live)
		p.mu.Unlock()
		p.breaker.RecordFailure()
		metrics.ObserveSessionSpawn("error")
		p.logger.Warn("session spawn failed", zap.String("session_id", id), zap.Error(err))
		return nil, crawl.NewFailure(crawl.FailSessionSpawn, err)
	}
	p.breaker.RecordSuccess()
	metrics.ObserveSessionSpawn("ok")
	s := &Session{
		id:        id,
		ctx:       taskCtx,
		cancel:    cancel,
		createdAt: p.clock.Now(),
		uses:      1,
	}
	p.logger.Debug("session spawned", zap.String("session_id", id))
	return s, nil
}

// Release returns a borrowed session. A corrupt hint (or an expired session)
// terminates it; a replacement spawns lazily on the next Acquire.
func (p *Pool) Release(s *Session, hint Health) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if p.drained || hint == HealthCorrupt || p.expired(s) {
		p.retireLocked(s)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	select {
	case p.idle <- s:
	default:
		p.mu.Lock()
		p.retireLocked(s)
		p.mu.Unlock()
	}
}

// Drain terminates idle sessions, rejects future Acquires, and waits for
// borrowed sessions to come back (or the ctx to expire).
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.drained {
		p.mu.Unlock()
		return nil
	}
	p.drained = true
	close(p.drainCh)
	p.mu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		// Sweep idle on every pass: a release that read drained as false
		// can still land a session here after drain has begun.
		p.mu.Lock()
		for {
			select {
			case s := <-p.idle:
				p.retireLocked(s)
				continue
			default:
			}
			break
		}
		n := p.live
		p.mu.Unlock()
		if n == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.logger.Info("session pool drained")
	return nil
}

// Live reports the number of sessions currently owned by the pool.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *Pool) expired(s *Session) bool {
	if p.cfg.MaxAge > 0 && p.clock.Now().Sub(s.createdAt) >= p.cfg.MaxAge {
		return true
	}
	if p.cfg.MaxUses > 0 && s.uses >= p.cfg.MaxUses {
		return true
	}
	return false
}

// retireLocked terminates s and updates accounting. Callers hold p.mu.
func (p *Pool) retireLocked(s *Session) {
	s.terminate()
	p.live--
	metrics.SetSessionsLive(p.live)
	p.logger.Debug("session retired", zap.String("session_id", s.id), zap.Int("uses", s.uses))
}
