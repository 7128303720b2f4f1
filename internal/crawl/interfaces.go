package crawl

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the rendered body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (FetchResult, error)
}

// Extractor turns a fetch result into a normalized record.
type Extractor interface {
	Extract(result FetchResult, strategy string) (Record, error)
	Strategies() []string
}

// ResultCache maps request fingerprints to extraction records.
type ResultCache interface {
	Lookup(fingerprint string) (Record, bool)
	LookupStale(fingerprint string) (Record, bool)
	Store(fingerprint string, record Record)
	Invalidate(fingerprint string)
}

// RecordStore archives completed records outside the process.
type RecordStore interface {
	SaveRecord(ctx context.Context, record Record) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
