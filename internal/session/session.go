// Package session owns the pool of headless browser handles.
package session

import (
	"context"
	"time"
)

// Health hints the pool at release time whether a session survived its fetch.
type Health int

// Release hints.
const (
	HealthOK Health = iota
	HealthCorrupt
)

// Session is an owned handle to one live browser tab context. It is borrowed
// by exactly one fetch at a time; callers never retain it past Release.
type Session struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time
	uses      int
}

// ID returns the session identity.
func (s *Session) ID() string {
	return s.id
}

// Context returns the chromedp task context backing this session.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Uses returns how many fetches have borrowed this session.
func (s *Session) Uses() int {
	return s.uses
}

func (s *Session) terminate() {
	if s.cancel != nil {
		s.cancel()
	}
}
