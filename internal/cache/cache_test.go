package cache

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/hash/sha256"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func testRecord() crawl.Record {
	return crawl.Record{
		SourceURL:   "https://example.test/a",
		Strategy:    "title",
		Fields:      map[string]string{"title": "Hello"},
		ExtractedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestLookupRoundTrip(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	c := New(Config{TTL: time.Minute, StaleWindow: time.Hour}, clock)

	c.Store("fp", testRecord())
	got, found := c.Lookup("fp")
	require.True(t, found)
	require.Equal(t, testRecord(), got)
	require.False(t, got.Stale)
}

func TestLookupExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	c := New(Config{TTL: time.Minute, StaleWindow: time.Hour}, clock)

	c.Store("fp", testRecord())
	clock.advance(2 * time.Minute)

	_, found := c.Lookup("fp")
	require.False(t, found)

	stale, found := c.LookupStale("fp")
	require.True(t, found)
	require.True(t, stale.Stale)
	require.Equal(t, "Hello", stale.Fields["title"])
}

func TestLookupStaleFreshNotMarked(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	c := New(Config{TTL: time.Minute, StaleWindow: time.Hour}, clock)

	c.Store("fp", testRecord())
	got, found := c.LookupStale("fp")
	require.True(t, found)
	require.False(t, got.Stale)
}

func TestInvalidateDropsStaleCopy(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	c := New(Config{TTL: time.Minute, StaleWindow: time.Hour}, clock)

	c.Store("fp", testRecord())
	c.Invalidate("fp")

	_, found := c.Lookup("fp")
	require.False(t, found)
	_, found = c.LookupStale("fp")
	require.False(t, found)
}

func TestStoredRecordIsIsolated(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	c := New(Config{TTL: time.Minute, StaleWindow: time.Hour}, clock)

	original := testRecord()
	c.Store("fp", original)
	original.Fields["title"] = "mutated"

	got, found := c.Lookup("fp")
	require.True(t, found)
	require.Equal(t, "Hello", got.Fields["title"])

	got.Fields["title"] = "mutated again"
	again, _ := c.Lookup("fp")
	require.Equal(t, "Hello", again.Fields["title"])
}

func TestFingerprintStableAcrossEquivalentURLs(t *testing.T) {
	t.Parallel()

	hasher := sha256.New()
	a, err := Fingerprint(hasher, crawl.Request{URL: "https://Example.test:443/path?b=2&a=1", Strategy: "article"})
	require.NoError(t, err)
	b, err := Fingerprint(hasher, crawl.Request{URL: "https://example.test/path?a=1&b=2", Strategy: "article"})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestFingerprintVariesByStrategyAndHeaders(t *testing.T) {
	t.Parallel()

	hasher := sha256.New()
	base := crawl.Request{URL: "https://example.test/path", Strategy: "article"}

	articleFP, err := Fingerprint(hasher, base)
	require.NoError(t, err)

	titled := base
	titled.Strategy = "title"
	titleFP, err := Fingerprint(hasher, titled)
	require.NoError(t, err)
	require.NotEqual(t, articleFP, titleFP)

	localized := base
	localized.Policy.Headers = http.Header{"Accept-Language": []string{"id-ID"}}
	localizedFP, err := Fingerprint(hasher, localized)
	require.NoError(t, err)
	require.NotEqual(t, articleFP, localizedFP)
}

func TestFingerprintRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := Fingerprint(sha256.New(), crawl.Request{URL: "ftp://example.test", Strategy: "article"})
	require.Error(t, err)
}
