// Package extract turns rendered HTML into normalized records via a closed
// set of named strategies.
package extract

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/PuerkitoBio/goquery"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

// Strategy pairs selection rules with a validation predicate over the
// produced record.
type Strategy struct {
	Name     string
	Extract  func(doc *goquery.Document) (fields map[string]string, text string)
	Validate func(record crawl.Record) error
}

// Config tunes the built-in strategies.
type Config struct {
	// MinArticleLength is the minimum cleaned-text length the article
	// strategy accepts. Shorter pages usually mean a paywall interstitial
	// or an error page.
	MinArticleLength int
}

// Registry dispatches extraction over registered strategies. Dispatch is a
// total function: unknown identifiers yield a typed error, never a panic.
type Registry struct {
	strategies map[string]Strategy
	clock      crawl.Clock
}

// NewRegistry builds a Registry with the built-in strategies registered.
func NewRegistry(cfg Config, clock crawl.Clock) *Registry {
	if cfg.MinArticleLength <= 0 {
		cfg.MinArticleLength = 100
	}
	r := &Registry{
		strategies: make(map[string]Strategy),
		clock:      clock,
	}
	r.Register(articleStrategy(cfg.MinArticleLength))
	r.Register(titleStrategy())
	r.Register(metadataStrategy())
	return r
}

// Register adds a strategy. Later registrations replace earlier ones of the
// same name.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name] = s
}

// Known reports whether the identifier maps to a registered strategy.
func (r *Registry) Known(name string) bool {
	_, ok := r.strategies[name]
	return ok
}

// Strategies lists registered identifiers in stable order.
func (r *Registry) Strategies() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extract runs the named strategy over the fetch result. It is pure over the
// body: identical content and strategy always produce identical fields and
// text. Validation failures carry the partial record for diagnostics; such
// records are never cached.
func (r *Registry) Extract(result crawl.FetchResult, strategy string) (crawl.Record, error) {
	s, ok := r.strategies[strategy]
	if !ok {
		return crawl.Record{}, crawl.NewFailure(
			crawl.FailInvalidRequest,
			fmt.Errorf("%w: %s", crawl.ErrUnknownStrategy, strategy),
		)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
	if err != nil {
		return crawl.Record{}, crawl.NewFailure(crawl.FailExtraction, fmt.Errorf("parse html: %w", err))
	}

	fields, text := s.Extract(doc)
	record := crawl.Record{
		SourceURL:   result.URL,
		Strategy:    strategy,
		Fields:      fields,
		Text:        text,
		ExtractedAt: r.clock.Now(),
	}
	if err := s.Validate(record); err != nil {
		partial := record.Clone()
		return crawl.Record{}, &crawl.Failure{
			Class:   crawl.FailExtraction,
			Err:     err,
			Partial: &partial,
		}
	}
	return record, nil
}
