// Package cache stores extraction records keyed by request fingerprint.
//
// A record is fresh for the configured TTL and then lingers for a stale
// window. Fresh hits short-circuit fetching entirely; stale hits are only
// served as a fallback when a re-fetch has exhausted its retries.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/metrics"
)

// Config controls freshness and retention.
type Config struct {
	TTL         time.Duration
	StaleWindow time.Duration
}

type entry struct {
	record     crawl.Record
	freshUntil time.Time
}

// ResultCache is an in-memory crawl.ResultCache backed by go-cache.
type ResultCache struct {
	cfg   Config
	store *gocache.Cache
	clock crawl.Clock
}

// New builds a cache. Entries are evicted once both the TTL and the stale
// window have elapsed.
func New(cfg Config, clock crawl.Clock) *ResultCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.StaleWindow < 0 {
		cfg.StaleWindow = 0
	}
	retention := cfg.TTL + cfg.StaleWindow
	return &ResultCache{
		cfg:   cfg,
		store: gocache.New(retention, retention),
		clock: clock,
	}
}

// Lookup returns a record only while it is still fresh.
func (c *ResultCache) Lookup(fingerprint string) (crawl.Record, bool) {
	raw, found := c.store.Get(fingerprint)
	if !found {
		metrics.ObserveCacheLookup("miss")
		return crawl.Record{}, false
	}
	e := raw.(entry)
	if c.clock.Now().After(e.freshUntil) {
		metrics.ObserveCacheLookup("expired")
		return crawl.Record{}, false
	}
	metrics.ObserveCacheLookup("hit")
	return e.record.Clone(), true
}

// LookupStale returns a record even past its TTL, marked stale, as long as
// the stale window has not elapsed.
func (c *ResultCache) LookupStale(fingerprint string) (crawl.Record, bool) {
	raw, found := c.store.Get(fingerprint)
	if !found {
		return crawl.Record{}, false
	}
	e := raw.(entry)
	record := e.record.Clone()
	if c.clock.Now().After(e.freshUntil) {
		record.Stale = true
		metrics.ObserveCacheLookup("stale")
	}
	return record, true
}

// Store caches a record under the fingerprint, restarting its TTL.
func (c *ResultCache) Store(fingerprint string, record crawl.Record) {
	c.store.Set(fingerprint, entry{
		record:     record.Clone(),
		freshUntil: c.clock.Now().Add(c.cfg.TTL),
	}, c.cfg.TTL+c.cfg.StaleWindow)
}

// Invalidate drops the fingerprint outright, stale copy included.
func (c *ResultCache) Invalidate(fingerprint string) {
	c.store.Delete(fingerprint)
}

var _ crawl.ResultCache = (*ResultCache)(nil)
