package orchestrator

import (
	"sync"
	"time"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

// job is the orchestrator's internal view of one submitted request.
type job struct {
	id          string
	request     crawl.Request
	fingerprint string
	seq         uint64
	submittedAt time.Time

	mu          sync.Mutex
	status      crawl.JobStatus
	attempts    []crawl.Attempt
	record      crawl.Record
	partial     *crawl.Record
	failure     error
	completedAt time.Time
	done        chan struct{}
}

func (j *job) setStatus(status crawl.JobStatus) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

func (j *job) addAttempt(a crawl.Attempt) {
	j.mu.Lock()
	j.attempts = append(j.attempts, a)
	j.mu.Unlock()
}

func (j *job) attemptCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.attempts)
}

func (j *job) terminalAt() (bool, time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status.Terminal(), j.completedAt
}

func (j *job) succeed(record crawl.Record, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = crawl.JobStatusSucceeded
	j.record = record
	j.failure = nil
	j.completedAt = at
	close(j.done)
}

func (j *job) abandon(failure error, partial *crawl.Record, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = crawl.JobStatusAbandoned
	j.failure = failure
	if partial != nil {
		cp := partial.Clone()
		j.partial = &cp
	}
	j.completedAt = at
	close(j.done)
}

// Handle lets a submitter await one job without exposing orchestrator
// internals.
type Handle struct {
	// JobID identifies the job for later status lookups.
	JobID string

	job *job
}

// Snapshot is a point-in-time copy of a job's externally visible state.
type Snapshot struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Strategy    string          `json:"strategy"`
	Priority    int             `json:"priority,omitempty"`
	Status      crawl.JobStatus `json:"status"`
	Attempts    []crawl.Attempt `json:"attempts,omitempty"`
	Record      *crawl.Record   `json:"record,omitempty"`
	Partial     *crawl.Record   `json:"partial,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorClass  string          `json:"error_class,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		ID:          j.id,
		URL:         j.request.URL,
		Strategy:    j.request.Strategy,
		Priority:    j.request.Priority,
		Status:      j.status,
		Attempts:    append([]crawl.Attempt(nil), j.attempts...),
		SubmittedAt: j.submittedAt,
	}
	if j.status == crawl.JobStatusSucceeded {
		record := j.record.Clone()
		snap.Record = &record
	}
	if j.partial != nil {
		partial := j.partial.Clone()
		snap.Partial = &partial
	}
	if j.failure != nil {
		snap.Error = j.failure.Error()
		snap.ErrorClass = string(crawl.ClassOf(j.failure))
	}
	if !j.completedAt.IsZero() {
		at := j.completedAt
		snap.CompletedAt = &at
	}
	return snap
}
