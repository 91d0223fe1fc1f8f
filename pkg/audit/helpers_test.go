package audit

import (
	"context"
	"errors"
	"sync"
)

// memorySink records events in memory.
type memorySink struct {
	mu     sync.Mutex
	events []*Event
	err    error
	closed bool
}

func (s *memorySink) Write(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event(nil), s.events...)
}

func (s *memorySink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

var errSinkDown = errors.New("sink down")
