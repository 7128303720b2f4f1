package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/cache"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/extract"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/hash/sha256"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/id/uuid"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/publisher/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeFetcher counts fetches and serves a swappable response.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int64
	order   []string
	body    string
	err     error
	delay   time.Duration
	headers http.Header
}

func (f *fakeFetcher) Fetch(ctx context.Context, req crawl.Request) (crawl.FetchResult, error) {
	atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.order = append(f.order, req.URL)
	body, err, delay := f.body, f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return crawl.FetchResult{}, crawl.NewFailure(crawl.FailTimeout, ctx.Err())
		}
	}
	if err != nil {
		return crawl.FetchResult{}, err
	}
	return crawl.FetchResult{
		URL:          req.URL,
		StatusCode:   200,
		Headers:      f.headers,
		Body:         []byte(body),
		UsedHeadless: true,
	}, nil
}

func (f *fakeFetcher) fetchCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func (f *fakeFetcher) set(body string, err error) {
	f.mu.Lock()
	f.body, f.err = body, err
	f.mu.Unlock()
}

type testHarness struct {
	orch      *Orchestrator
	fetcher   *fakeFetcher
	probe     *fakeFetcher
	cache     *cache.ResultCache
	publisher *memory.Publisher
	clock     *fakeClock
	cancel    context.CancelFunc
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	fetcher := &fakeFetcher{body: "<html><head><title>Hello</title></head><body></body></html>"}
	probe := &fakeFetcher{body: "<html><head><title>Hello</title></head><body></body></html>"}
	publisher := memory.New()
	registry := extract.NewRegistry(extract.Config{MinArticleLength: 100}, clock)
	resultCache := cache.New(cache.Config{TTL: time.Minute, StaleWindow: time.Hour}, clock)

	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Millisecond
	}

	orch := New(cfg, Deps{
		Headless:  fetcher,
		Probe:     probe,
		Extractor: registry,
		Cache:     resultCache,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     clock,
		IDs:       uuid.New(),
		Logger:    zap.NewNop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)
	t.Cleanup(cancel)

	return &testHarness{
		orch:      orch,
		fetcher:   fetcher,
		probe:     probe,
		cache:     resultCache,
		publisher: publisher,
		clock:     clock,
		cancel:    cancel,
	}
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubmitAndAwaitTitle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/a",
		Strategy: "title",
	})
	require.NoError(t, err)

	record, err := h.orch.Await(awaitCtx(t), handle)
	require.NoError(t, err)
	require.Equal(t, "Hello", record.Fields["title"])
	require.False(t, record.Stale)

	snap, ok := h.orch.Job(handle.JobID)
	require.True(t, ok)
	require.Equal(t, crawl.JobStatusSucceeded, snap.Status)
	require.Len(t, snap.Attempts, 1)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})

	_, err := h.orch.Submit(context.Background(), crawl.Request{URL: "ftp://example.test", Strategy: "title"})
	require.Error(t, err)
	require.Equal(t, crawl.FailInvalidRequest, crawl.ClassOf(err))

	_, err = h.orch.Submit(context.Background(), crawl.Request{URL: "https://example.test", Strategy: "bogus"})
	require.Error(t, err)
	require.Equal(t, crawl.FailInvalidRequest, crawl.ClassOf(err))
}

func TestSecondSubmitWithinTTLSkipsFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	req := crawl.Request{URL: "https://example.test/cached", Strategy: "title"}

	first, err := h.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	_, err = h.orch.Await(awaitCtx(t), first)
	require.NoError(t, err)

	second, err := h.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	record, err := h.orch.Await(awaitCtx(t), second)
	require.NoError(t, err)
	require.Equal(t, "Hello", record.Fields["title"])
	require.EqualValues(t, 1, h.fetcher.fetchCount())
}

func TestConcurrentIdenticalSubmitsFetchOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 8})
	h.fetcher.mu.Lock()
	h.fetcher.delay = 50 * time.Millisecond
	h.fetcher.mu.Unlock()

	req := crawl.Request{URL: "https://example.test/coalesce", Strategy: "title"}
	const n = 8
	handles := make([]*Handle, 0, n)
	for i := 0; i < n; i++ {
		handle, err := h.orch.Submit(context.Background(), req)
		require.NoError(t, err)
		handles = append(handles, handle)
	}
	for _, handle := range handles {
		record, err := h.orch.Await(awaitCtx(t), handle)
		require.NoError(t, err)
		require.Equal(t, "Hello", record.Fields["title"])
	}
	require.EqualValues(t, 1, h.fetcher.fetchCount())
}

func TestNetworkFailureRetriedToMaxAttempts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxAttempts: 3})
	h.fetcher.set("", crawl.NewFailure(crawl.FailNetwork, errors.New("connection refused")))

	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://down.example.test/x",
		Strategy: "title",
	})
	require.NoError(t, err)

	_, err = h.orch.Await(awaitCtx(t), handle)
	require.Error(t, err)
	require.Equal(t, crawl.FailNetwork, crawl.ClassOf(err))

	snap, ok := h.orch.Job(handle.JobID)
	require.True(t, ok)
	require.Equal(t, crawl.JobStatusAbandoned, snap.Status)
	require.Len(t, snap.Attempts, 3)
	for i := 1; i < len(snap.Attempts)-1; i++ {
		require.GreaterOrEqual(t, snap.Attempts[i].Backoff, snap.Attempts[i-1].Backoff)
	}
	require.Zero(t, snap.Attempts[len(snap.Attempts)-1].Backoff)
}

func TestHTTPFailureRetriedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxAttempts: 5})
	h.fetcher.set("", crawl.HTTPFailure(404))

	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/missing",
		Strategy: "title",
	})
	require.NoError(t, err)

	_, err = h.orch.Await(awaitCtx(t), handle)
	require.Error(t, err)
	require.Equal(t, crawl.FailHTTP, crawl.ClassOf(err))

	snap, _ := h.orch.Job(handle.JobID)
	require.Equal(t, crawl.JobStatusAbandoned, snap.Status)
	require.Len(t, snap.Attempts, 2)
	require.Equal(t, 404, snap.Attempts[0].StatusCode)
	require.EqualValues(t, 2, h.fetcher.fetchCount())
}

func TestRedirectLoopNeverRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxAttempts: 5})
	h.fetcher.set("", crawl.NewFailure(crawl.FailRedirectLoop, errors.New("redirect limit exceeded")))

	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/loop",
		Strategy: "title",
	})
	require.NoError(t, err)

	_, err = h.orch.Await(awaitCtx(t), handle)
	require.Error(t, err)
	require.Equal(t, crawl.FailRedirectLoop, crawl.ClassOf(err))

	snap, _ := h.orch.Job(handle.JobID)
	require.Len(t, snap.Attempts, 1)
	require.EqualValues(t, 1, h.fetcher.fetchCount())
}

func TestExhaustedRetriesFallBackToStaleRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxAttempts: 2})
	req := crawl.Request{URL: "https://example.test/stale", Strategy: "title"}

	first, err := h.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	_, err = h.orch.Await(awaitCtx(t), first)
	require.NoError(t, err)

	h.clock.advance(2 * time.Minute)
	h.fetcher.set("", crawl.NewFailure(crawl.FailNetwork, errors.New("connection refused")))

	second, err := h.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	record, err := h.orch.Await(awaitCtx(t), second)
	require.NoError(t, err)
	require.True(t, record.Stale)
	require.Equal(t, "Hello", record.Fields["title"])
}

func TestAbandonedExtractionKeepsPartialRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxAttempts: 5})
	h.fetcher.set("<html><head><title>Stub</title></head><body><article>tiny</article></body></html>", nil)

	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/thin",
		Strategy: "article",
	})
	require.NoError(t, err)

	_, err = h.orch.Await(awaitCtx(t), handle)
	require.Error(t, err)
	require.Equal(t, crawl.FailExtraction, crawl.ClassOf(err))

	snap, _ := h.orch.Job(handle.JobID)
	require.Equal(t, crawl.JobStatusAbandoned, snap.Status)
	require.Len(t, snap.Attempts, 2)
	require.NotNil(t, snap.Partial)
	require.Equal(t, "Stub", snap.Partial.Fields["title"])
}

func TestSubmitBatchValidatesUpFront(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	_, err := h.orch.SubmitBatch(context.Background(), []crawl.Request{
		{URL: "https://example.test/ok", Strategy: "title"},
		{URL: "not a url", Strategy: "title"},
	})
	require.Error(t, err)
	require.Equal(t, crawl.FailInvalidRequest, crawl.ClassOf(err))
	require.EqualValues(t, 0, h.fetcher.fetchCount())
}

func TestSubmitBatchCompletesAll(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 2})
	handles, err := h.orch.SubmitBatch(context.Background(), []crawl.Request{
		{URL: "https://example.test/one", Strategy: "title"},
		{URL: "https://example.test/two", Strategy: "title"},
		{URL: "https://example.test/three", Strategy: "title"},
	})
	require.NoError(t, err)
	require.Len(t, handles, 3)
	for _, handle := range handles {
		record, err := h.orch.Await(awaitCtx(t), handle)
		require.NoError(t, err)
		require.Equal(t, "Hello", record.Fields["title"])
	}
}

func TestDrainRejectsNewSubmissions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/before-drain",
		Strategy: "title",
	})
	require.NoError(t, err)
	_, err = h.orch.Await(awaitCtx(t), handle)
	require.NoError(t, err)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Drain(drainCtx))

	_, err = h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/after-drain",
		Strategy: "title",
	})
	require.Error(t, err)
	require.Equal(t, crawl.FailPoolDrained, crawl.ClassOf(err))
}

func TestDrainAbandonsPendingWaitsInFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 1})
	h.fetcher.mu.Lock()
	h.fetcher.delay = 200 * time.Millisecond
	h.fetcher.mu.Unlock()

	inFlight, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/in-flight",
		Strategy: "title",
	})
	require.NoError(t, err)
	// Give the lone worker time to pick it up before queueing more.
	require.Eventually(t, func() bool {
		return h.fetcher.fetchCount() == 1
	}, time.Second, 5*time.Millisecond)

	queued, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/queued",
		Strategy: "title",
	})
	require.NoError(t, err)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Drain(drainCtx))

	record, err := h.orch.Await(awaitCtx(t), inFlight)
	require.NoError(t, err)
	require.Equal(t, "Hello", record.Fields["title"])

	_, err = h.orch.Await(awaitCtx(t), queued)
	require.Error(t, err)
	require.Equal(t, crawl.FailPoolDrained, crawl.ClassOf(err))
	require.EqualValues(t, 1, h.fetcher.fetchCount())
}

func TestAwaitHonorsContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 1})
	h.fetcher.mu.Lock()
	h.fetcher.delay = 2 * time.Second
	h.fetcher.mu.Unlock()

	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/slow",
		Strategy: "title",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = h.orch.Await(ctx, handle)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitUnknownHandle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	_, err := h.orch.Await(context.Background(), nil)
	require.ErrorIs(t, err, crawl.ErrUnknownHandle)
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 1})
	h.fetcher.mu.Lock()
	h.fetcher.delay = 20 * time.Millisecond
	h.fetcher.mu.Unlock()

	// First job occupies the single worker while the rest queue up.
	gate, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/gate",
		Strategy: "title",
	})
	require.NoError(t, err)
	// Give the lone worker time to pick it up before queueing more.
	require.Eventually(t, func() bool {
		return h.fetcher.fetchCount() == 1
	}, time.Second, 5*time.Millisecond)

	low, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/low",
		Strategy: "title",
		Priority: 0,
	})
	require.NoError(t, err)
	high, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/high",
		Strategy: "title",
		Priority: 10,
	})
	require.NoError(t, err)

	for _, handle := range []*Handle{gate, low, high} {
		_, err := h.orch.Await(awaitCtx(t), handle)
		require.NoError(t, err)
	}

	h.fetcher.mu.Lock()
	order := append([]string(nil), h.fetcher.order...)
	h.fetcher.mu.Unlock()
	require.Equal(t, []string{
		"https://example.test/gate",
		"https://example.test/high",
		"https://example.test/low",
	}, order)
}

func TestProbeFallbackServesRenderFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.set("", crawl.NewFailure(crawl.FailRender, errors.New("blank page")))

	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/render-broken",
		Strategy: "title",
		Policy:   crawl.FetchPolicy{ProbeFallback: true},
	})
	require.NoError(t, err)

	record, err := h.orch.Await(awaitCtx(t), handle)
	require.NoError(t, err)
	require.Equal(t, "Hello", record.Fields["title"])
	require.EqualValues(t, 1, h.fetcher.fetchCount())
	require.EqualValues(t, 1, h.probe.fetchCount())
}

func TestProbeFallbackSkippedForHTTPFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.set("", crawl.HTTPFailure(http.StatusNotFound))

	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/gone",
		Strategy: "title",
		Policy:   crawl.FetchPolicy{ProbeFallback: true},
	})
	require.NoError(t, err)

	_, err = h.orch.Await(awaitCtx(t), handle)
	require.Error(t, err)
	require.Equal(t, crawl.FailHTTP, crawl.ClassOf(err))
	require.Equal(t, http.StatusNotFound, crawl.AsFailure(err).StatusCode)
	require.Zero(t, h.probe.fetchCount())

	snap, ok := h.orch.Job(handle.JobID)
	require.True(t, ok)
	require.Len(t, snap.Attempts, 2)
}

func TestProbeFailureReportsHeadlessClass(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.fetcher.set("", crawl.NewFailure(crawl.FailRender, errors.New("blank page")))
	h.probe.set("", crawl.NewFailure(crawl.FailNetwork, errors.New("connection refused")))

	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/doubly-broken",
		Strategy: "title",
		Policy:   crawl.FetchPolicy{ProbeFallback: true},
	})
	require.NoError(t, err)

	_, err = h.orch.Await(awaitCtx(t), handle)
	require.Error(t, err)
	require.Equal(t, crawl.FailRender, crawl.ClassOf(err))
	require.EqualValues(t, 2, h.fetcher.fetchCount())
	require.EqualValues(t, 2, h.probe.fetchCount())
}

func TestCompletionEventPublished(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Topic: "crawl-events"})
	handle, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/published",
		Strategy: "title",
	})
	require.NoError(t, err)
	_, err = h.orch.Await(awaitCtx(t), handle)
	require.NoError(t, err)

	messages := h.publisher.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "crawl-events", messages[0].Topic)
	payload, ok := messages[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "https://example.test/published", payload["url"])
	require.Equal(t, handle.JobID, payload["job_id"])
}

func TestFreshRecordServedWhenFetchFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 1})
	h.fetcher.mu.Lock()
	h.fetcher.err = crawl.NewFailure(crawl.FailRedirectLoop, errors.New("loop"))
	h.fetcher.delay = 150 * time.Millisecond
	h.fetcher.mu.Unlock()

	req := crawl.Request{URL: "https://example.test/raced", Strategy: "title"}
	handle, err := h.orch.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.fetcher.fetchCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Another flight stores a fresh record while this job's fetch is still
	// failing; the job must serve it instead of abandoning.
	fingerprint, err := cache.Fingerprint(sha256.New(), req)
	require.NoError(t, err)
	h.cache.Store(fingerprint, crawl.Record{
		SourceURL: req.URL,
		Strategy:  req.Strategy,
		Fields:    map[string]string{"title": "Hello"},
	})

	record, err := h.orch.Await(awaitCtx(t), handle)
	require.NoError(t, err)
	require.Equal(t, "Hello", record.Fields["title"])
	require.False(t, record.Stale)
}

func TestTerminalJobsEvictedAfterRetention(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{RetainJobs: 10 * time.Minute})
	old, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/old-job",
		Strategy: "title",
	})
	require.NoError(t, err)
	_, err = h.orch.Await(awaitCtx(t), old)
	require.NoError(t, err)

	h.clock.advance(11 * time.Minute)

	recent, err := h.orch.Submit(context.Background(), crawl.Request{
		URL:      "https://example.test/recent-job",
		Strategy: "title",
	})
	require.NoError(t, err)
	_, err = h.orch.Await(awaitCtx(t), recent)
	require.NoError(t, err)

	h.orch.evictTerminalJobs()

	_, ok := h.orch.Job(old.JobID)
	require.False(t, ok)
	_, ok = h.orch.Job(recent.JobID)
	require.True(t, ok)
}
