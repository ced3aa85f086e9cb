// Package app wires the engine's pollers and the per-task pipeline: claiming
// jobs, warmup, launching runs through the supervisor, and persisting
// results.
package app

import "sync"

// StopSet tracks task IDs with a pending or delivered external stop. The
// stop poller adds entries; the pipeline checks membership at its decision
// points and forgets the entry when the task reaches a terminal state.
type StopSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

// NewStopSet returns an empty set.
func NewStopSet() *StopSet {
	return &StopSet{m: make(map[string]struct{})}
}

// Add marks a task as stopped.
func (s *StopSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[id] = struct{}{}
}

// Has reports membership.
func (s *StopSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[id]
	return ok
}

// Forget removes a task.
func (s *StopSet) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}
