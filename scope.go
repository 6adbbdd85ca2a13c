package recorder

import (
	"errors"
	"fmt"
	"sync"
)

// Scope owns every resource acquired during one start attempt. Release
// undoes them in reverse acquisition order, exactly once.
type Scope struct {
	mu       sync.Mutex
	entries  []scopeEntry
	released bool
}

type scopeEntry struct {
	name    string
	release func() error
}

// NewScope creates an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

// Add registers a release function. Adding to a released scope releases
// the resource immediately.
func (s *Scope) Add(name string, release func() error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		release()
		return
	}
	s.entries = append(s.entries, scopeEntry{name: name, release: release})
	s.mu.Unlock()
}

// AddHandle registers a source handle.
func (s *Scope) AddHandle(h *SourceHandle) {
	if h == nil {
		return
	}
	s.Add(h.Kind.String(), func() error {
		h.Stop()
		return nil
	})
}

// Len returns the number of resources still owned.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Release frees all owned resources, last acquired first.
func (s *Scope) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", entries[i].name, err))
		}
	}
	return errors.Join(errs...)
}
