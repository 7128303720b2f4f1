package crawl

import (
	"errors"
	"fmt"
)

// FailureClass labels the reason a fetch/extract pipeline failed. The class
// drives the orchestrator's retry decision.
type FailureClass string

// Failure classes surfaced by the pipeline.
const (
	FailInvalidRequest FailureClass = "invalid_request"
	FailPoolExhausted  FailureClass = "pool_exhausted"
	FailPoolDrained    FailureClass = "pool_drained"
	FailSessionSpawn   FailureClass = "session_spawn"
	FailNetwork        FailureClass = "network"
	FailTimeout        FailureClass = "timeout"
	FailHTTP           FailureClass = "http"
	FailRedirectLoop   FailureClass = "redirect_loop"
	FailRender         FailureClass = "render"
	FailExtraction     FailureClass = "extraction"
)

// Failure wraps an underlying error with its classification. It is the only
// error type that crosses the orchestrator boundary.
type Failure struct {
	Class      FailureClass
	StatusCode int
	Err        error
	// Partial holds an incomplete record when an extraction validator
	// rejected the output. Never cached.
	Partial *Record
}

// NewFailure classifies err.
func NewFailure(class FailureClass, err error) *Failure {
	return &Failure{Class: class, Err: err}
}

// HTTPFailure marks a terminal non-2xx response.
func HTTPFailure(statusCode int) *Failure {
	return &Failure{
		Class:      FailHTTP,
		StatusCode: statusCode,
		Err:        fmt.Errorf("http status %d", statusCode),
	}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Class)
	}
	return fmt.Sprintf("%s: %v", f.Class, f.Err)
}

// Unwrap exposes the underlying error to errors.Is/As.
func (f *Failure) Unwrap() error {
	return f.Err
}

// ClassOf extracts the failure class from err, or empty if err carries none.
func ClassOf(err error) FailureClass {
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	return ""
}

// AsFailure returns the Failure wrapped in err, synthesizing a render-class
// failure for unclassified errors so callers always see a class.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Class: FailRender, Err: err}
}

// Sentinel errors for programming-contract violations.
var (
	// ErrUnknownHandle is returned when awaiting a handle the orchestrator
	// never issued.
	ErrUnknownHandle = errors.New("unknown job handle")
	// ErrUnknownStrategy is returned for extraction strategy identifiers
	// absent from the registry.
	ErrUnknownStrategy = errors.New("unknown extraction strategy")
)
