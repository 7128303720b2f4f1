// Package crawl defines core types shared across subsystems.
package crawl

import (
	"net/http"
	"time"
)

// WaitMode selects the readiness condition applied after navigation.
type WaitMode string

// Wait modes understood by the headless fetcher.
const (
	WaitDelay    WaitMode = "delay"
	WaitDOMReady WaitMode = "dom-ready"
	WaitSelector WaitMode = "selector"
)

// FetchPolicy captures the per-request knobs that shape a navigation.
type FetchPolicy struct {
	Wait           WaitMode      `json:"wait"`
	WaitSelector   string        `json:"wait_selector,omitempty"`
	Delay          time.Duration `json:"delay,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
	ViewportWidth  int           `json:"viewport_width,omitempty"`
	ViewportHeight int           `json:"viewport_height,omitempty"`
	Headers        http.Header   `json:"headers,omitempty"`
	MaxRedirects   int           `json:"max_redirects,omitempty"`
	ProbeFallback  bool          `json:"probe_fallback,omitempty"`
}

// Request is one unit of crawl work. Immutable once submitted.
type Request struct {
	URL      string      `json:"url"`
	Strategy string      `json:"strategy"`
	Priority int         `json:"priority,omitempty"`
	Policy   FetchPolicy `json:"policy,omitempty"`
}

// FetchResult is the outcome of one successful navigation. It is owned by
// the fetch call that produced it until handed to the extractor.
type FetchResult struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Record is the normalized extraction output. Immutable once produced.
type Record struct {
	SourceURL   string            `json:"source_url"`
	Strategy    string            `json:"strategy"`
	Fields      map[string]string `json:"fields"`
	Text        string            `json:"text,omitempty"`
	ExtractedAt time.Time         `json:"extracted_at"`
	Stale       bool              `json:"stale,omitempty"`
}

// Clone returns a deep copy so cached records stay immutable.
func (r Record) Clone() Record {
	cp := r
	if r.Fields != nil {
		cp.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			cp.Fields[k] = v
		}
	}
	return cp
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values. A job never regresses from succeeded.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusInFlight  JobStatus = "in-flight"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusAbandoned JobStatus = "abandoned"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusAbandoned
}

// Attempt records the outcome of one pipeline execution for diagnostics.
type Attempt struct {
	Number     int           `json:"number"`
	Class      FailureClass  `json:"class,omitempty"`
	Error      string        `json:"error,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Backoff    time.Duration `json:"backoff,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
}
