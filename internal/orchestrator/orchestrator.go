// Package orchestrator schedules crawl jobs over a bounded worker pool,
// driving the fetch/extract pipeline with class-aware retries, cached
// results, and in-flight coalescing of identical requests.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/cache"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/metrics"
)

// Config controls scheduling and archival behavior.
type Config struct {
	Concurrency int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Topic       string
	BlobPrefix  string
	ContentType string

	// RetainJobs bounds how long terminal job snapshots stay queryable
	// through Job before being evicted.
	RetainJobs time.Duration
}

// Deps wires the collaborators. Headless, Extractor, Cache, Hasher, Clock
// and IDs are required; Probe, Records, Blobs and Publisher are optional.
type Deps struct {
	Headless  crawl.Fetcher
	Probe     crawl.Fetcher
	Extractor crawl.Extractor
	Cache     crawl.ResultCache
	Records   crawl.RecordStore
	Blobs     crawl.BlobStore
	Publisher crawl.Publisher
	Hasher    crawl.Hasher
	Clock     crawl.Clock
	IDs       crawl.IDGenerator
	Logger    *zap.Logger
}

// Orchestrator owns the job table and the pending queue.
type Orchestrator struct {
	cfg        Config
	deps       Deps
	retry      *RetryPolicy
	strategies map[string]struct{}
	flights    singleflight.Group
	logger     *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    jobQueue
	jobs     map[string]*job
	seq      uint64
	active   int
	draining bool
}

// New builds an Orchestrator. Run must be called before submitted jobs make
// progress.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.RetainJobs <= 0 {
		cfg.RetainJobs = 15 * time.Minute
	}
	known := make(map[string]struct{})
	for _, name := range deps.Extractor.Strategies() {
		known[name] = struct{}{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		retry:      NewRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay),
		strategies: known,
		logger:     logger,
		jobs:       make(map[string]*job),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Run starts the workers and blocks until ctx finishes and all workers
// have returned.
func (o *Orchestrator) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		o.cond.Broadcast()
	}()
	go o.evictLoop(ctx)

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.workerLoop(ctx)
		}()
	}
	wg.Wait()
}

// Submit validates and enqueues one request, returning a handle the caller
// can await. Submissions are rejected once draining has begun.
func (o *Orchestrator) Submit(ctx context.Context, req crawl.Request) (*Handle, error) {
	if err := crawl.ValidateRequest(req, o.knownStrategy); err != nil {
		return nil, err
	}

	fingerprint, err := cache.Fingerprint(o.deps.Hasher, req)
	if err != nil {
		return nil, crawl.NewFailure(crawl.FailInvalidRequest, err)
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("generating job id: %w", err)
	}

	j := &job{
		id:          id,
		request:     req,
		fingerprint: fingerprint,
		submittedAt: o.deps.Clock.Now(),
		status:      crawl.JobStatusPending,
		done:        make(chan struct{}),
	}

	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return nil, crawl.NewFailure(crawl.FailPoolDrained, errors.New("orchestrator is draining"))
	}
	o.seq++
	j.seq = o.seq
	o.jobs[id] = j
	o.active++
	o.queue.push(j)
	o.cond.Signal()
	o.mu.Unlock()

	metrics.ObserveJob(string(crawl.JobStatusPending))
	return &Handle{JobID: id, job: j}, nil
}

// SubmitBatch enqueues several requests at once. Validation is all-or-none:
// one bad request rejects the whole batch before anything is queued.
func (o *Orchestrator) SubmitBatch(ctx context.Context, reqs []crawl.Request) ([]*Handle, error) {
	if len(reqs) == 0 {
		return nil, crawl.NewFailure(crawl.FailInvalidRequest, errors.New("empty batch"))
	}
	for i, req := range reqs {
		if err := crawl.ValidateRequest(req, o.knownStrategy); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}
	handles := make([]*Handle, 0, len(reqs))
	for _, req := range reqs {
		h, err := o.Submit(ctx, req)
		if err != nil {
			return handles, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Await blocks until the job completes or ctx expires. On success it returns
// the record; on abandonment it returns the classified failure.
func (o *Orchestrator) Await(ctx context.Context, h *Handle) (crawl.Record, error) {
	if h == nil || h.job == nil {
		return crawl.Record{}, crawl.ErrUnknownHandle
	}
	select {
	case <-h.job.done:
	case <-ctx.Done():
		return crawl.Record{}, ctx.Err()
	}

	j := h.job
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status == crawl.JobStatusSucceeded {
		return j.record.Clone(), nil
	}
	return crawl.Record{}, j.failure
}

// Job returns a snapshot of the identified job.
func (o *Orchestrator) Job(id string) (Snapshot, bool) {
	o.mu.Lock()
	j, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

// Strategies lists the extraction strategies accepted by Submit.
func (o *Orchestrator) Strategies() []string {
	return o.deps.Extractor.Strategies()
}

// Drain stops accepting submissions and waits for every outstanding job,
// scheduled retries included, to reach a terminal state or for ctx to expire.
func (o *Orchestrator) Drain(ctx context.Context) error {
	o.mu.Lock()
	o.draining = true
	var dropped []*job
	for {
		j := o.queue.pop()
		if j == nil {
			break
		}
		dropped = append(dropped, j)
	}
	o.active -= len(dropped)
	o.mu.Unlock()

	for _, j := range dropped {
		o.abandonDrained(j)
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		o.mu.Lock()
		active := o.active
		o.mu.Unlock()
		if active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain interrupted with %d jobs outstanding: %w", active, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.evictTerminalJobs()
		}
	}
}

// evictTerminalJobs drops job snapshots that finished more than RetainJobs
// ago; their records live on in the result cache.
func (o *Orchestrator) evictTerminalJobs() {
	cutoff := o.deps.Clock.Now().Add(-o.cfg.RetainJobs)
	o.mu.Lock()
	for id, j := range o.jobs {
		if terminal, at := j.terminalAt(); terminal && at.Before(cutoff) {
			delete(o.jobs, id)
		}
	}
	o.mu.Unlock()
}

func (o *Orchestrator) knownStrategy(name string) bool {
	_, ok := o.strategies[name]
	return ok
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		j := o.nextJob(ctx)
		if j == nil {
			return
		}
		o.execute(ctx, j)
	}
}

func (o *Orchestrator) nextJob(ctx context.Context) *job {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if j := o.queue.pop(); j != nil {
			return j
		}
		o.cond.Wait()
	}
}

func (o *Orchestrator) execute(ctx context.Context, j *job) {
	j.setStatus(crawl.JobStatusInFlight)
	metrics.IncJobsInFlight()
	defer metrics.DecJobsInFlight()

	started := o.deps.Clock.Now()
	record, err := o.runPipeline(ctx, j)
	if err == nil {
		j.addAttempt(crawl.Attempt{Number: j.attemptCount() + 1, StartedAt: started})
		o.complete(j, record)
		return
	}

	failure := crawl.AsFailure(err)
	attempt := crawl.Attempt{
		Number:     j.attemptCount() + 1,
		Class:      failure.Class,
		Error:      failure.Error(),
		StatusCode: failure.StatusCode,
		StartedAt:  started,
	}

	if o.retry.ShouldRetry(failure.Class, attempt.Number) {
		backoff := o.retry.Backoff(attempt.Number)
		attempt.Backoff = backoff
		j.addAttempt(attempt)
		j.setStatus(crawl.JobStatusFailed)
		metrics.ObserveRetry(string(failure.Class))
		o.logger.Warn("attempt failed, retrying",
			zap.String("job_id", j.id),
			zap.String("url", j.request.URL),
			zap.String("class", string(failure.Class)),
			zap.Int("attempt", attempt.Number),
			zap.Duration("backoff", backoff),
		)
		o.scheduleRetry(j, backoff)
		return
	}

	j.addAttempt(attempt)

	// Last resort: serve whatever cached record exists rather than nothing.
	// A fresh one can appear here when a concurrent flight stored it after
	// this job's initial miss.
	if fallback, ok := o.deps.Cache.LookupStale(j.fingerprint); ok {
		o.logger.Warn("serving cached record after exhausted retries",
			zap.String("job_id", j.id),
			zap.String("url", j.request.URL),
			zap.String("class", string(failure.Class)),
			zap.Bool("stale", fallback.Stale),
		)
		o.complete(j, fallback)
		return
	}

	j.abandon(failure, failure.Partial, o.deps.Clock.Now())
	metrics.ObserveJob(string(crawl.JobStatusAbandoned))
	o.logger.Error("job abandoned",
		zap.String("job_id", j.id),
		zap.String("url", j.request.URL),
		zap.String("class", string(failure.Class)),
		zap.Int("attempts", attempt.Number),
		zap.Error(failure),
	)
	o.finish()
}

func (o *Orchestrator) complete(j *job, record crawl.Record) {
	j.succeed(record, o.deps.Clock.Now())
	metrics.ObserveJob(string(crawl.JobStatusSucceeded))
	o.logger.Info("job succeeded",
		zap.String("job_id", j.id),
		zap.String("url", j.request.URL),
		zap.String("strategy", j.request.Strategy),
		zap.Bool("stale", record.Stale),
	)
	o.finish()
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.active--
	o.mu.Unlock()
}

func (o *Orchestrator) scheduleRetry(j *job, backoff time.Duration) {
	time.AfterFunc(backoff, func() {
		o.mu.Lock()
		if o.draining {
			o.mu.Unlock()
			o.abandonDrained(j)
			o.finish()
			return
		}
		j.setStatus(crawl.JobStatusPending)
		o.queue.push(j)
		o.cond.Signal()
		o.mu.Unlock()
	})
}

// abandonDrained resolves a job that drain tore out of the queue.
func (o *Orchestrator) abandonDrained(j *job) {
	failure := crawl.NewFailure(crawl.FailPoolDrained, errors.New("drained before execution"))
	j.abandon(failure, nil, o.deps.Clock.Now())
	metrics.ObserveJob(string(crawl.JobStatusAbandoned))
	o.logger.Warn("job abandoned by drain", zap.String("job_id", j.id), zap.String("url", j.request.URL))
}

// runPipeline resolves the job to a record: cache first, then a coalesced
// fetch+extract shared across jobs with the same fingerprint.
func (o *Orchestrator) runPipeline(ctx context.Context, j *job) (crawl.Record, error) {
	if record, ok := o.deps.Cache.Lookup(j.fingerprint); ok {
		return record, nil
	}

	v, err, _ := o.flights.Do(j.fingerprint, func() (any, error) {
		if record, ok := o.deps.Cache.Lookup(j.fingerprint); ok {
			return record, nil
		}
		result, err := o.fetch(ctx, j.request)
		if err != nil {
			return nil, err
		}
		record, err := o.deps.Extractor.Extract(result, j.request.Strategy)
		if err != nil {
			return nil, err
		}
		o.deps.Cache.Store(j.fingerprint, record)
		o.archive(ctx, j, result, record)
		return record, nil
	})
	if err != nil {
		return crawl.Record{}, err
	}
	return v.(crawl.Record), nil
}

// fetch runs the headless fetcher, falling back to the lightweight probe
// when the policy allows it and the failure is browser-side rather than a
// definitive server answer.
func (o *Orchestrator) fetch(ctx context.Context, req crawl.Request) (crawl.FetchResult, error) {
	result, err := o.deps.Headless.Fetch(ctx, req)
	if err == nil {
		metrics.ObservePage(req.URL, "ok", len(result.Body))
		return result, nil
	}
	if o.deps.Probe == nil || !req.Policy.ProbeFallback {
		metrics.ObservePage(req.URL, string(crawl.ClassOf(err)), 0)
		return crawl.FetchResult{}, err
	}
	switch crawl.ClassOf(err) {
	case crawl.FailHTTP, crawl.FailRedirectLoop, crawl.FailInvalidRequest:
		metrics.ObservePage(req.URL, string(crawl.ClassOf(err)), 0)
		return crawl.FetchResult{}, err
	}

	probeResult, probeErr := o.deps.Probe.Fetch(ctx, req)
	if probeErr != nil {
		o.logger.Debug("probe fallback also failed",
			zap.String("url", req.URL),
			zap.Error(probeErr),
		)
		metrics.ObservePage(req.URL, string(crawl.ClassOf(err)), 0)
		return crawl.FetchResult{}, err
	}
	metrics.ObservePage(req.URL, "ok", len(probeResult.Body))
	o.logger.Info("probe fallback served fetch",
		zap.String("url", req.URL),
		zap.String("headless_class", string(crawl.ClassOf(err))),
	)
	return probeResult, nil
}

// archive pushes the raw body and the record to the configured sinks.
// Failures here never fail the job; the record is already produced.
func (o *Orchestrator) archive(ctx context.Context, j *job, result crawl.FetchResult, record crawl.Record) {
	var blobURI string
	if o.deps.Blobs != nil {
		hash, err := o.deps.Hasher.Hash(result.Body)
		if err != nil {
			o.logger.Error("hashing body failed", zap.String("job_id", j.id), zap.Error(err))
			return
		}
		uri, err := o.deps.Blobs.PutObject(ctx, o.blobPath(j.id, hash), o.cfg.ContentType, result.Body)
		if err != nil {
			o.logger.Error("archiving body failed", zap.String("job_id", j.id), zap.Error(err))
		} else {
			blobURI = uri
		}
	}

	if o.deps.Records != nil {
		if err := o.deps.Records.SaveRecord(ctx, record); err != nil {
			o.logger.Error("archiving record failed", zap.String("job_id", j.id), zap.Error(err))
		}
	}

	if o.deps.Publisher != nil && o.cfg.Topic != "" {
		payload := map[string]any{
			"job_id":    j.id,
			"url":       record.SourceURL,
			"strategy":  record.Strategy,
			"blob_uri":  blobURI,
			"status":    result.StatusCode,
			"headless":  result.UsedHeadless,
			"timestamp": o.deps.Clock.Now().Format(time.RFC3339),
		}
		if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, payload); err != nil {
			o.logger.Error("publishing completion failed", zap.String("job_id", j.id), zap.Error(err))
		}
	}
}

func (o *Orchestrator) blobPath(jobID, hash string) string {
	prefix := strings.Trim(o.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}
