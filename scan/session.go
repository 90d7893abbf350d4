package scan

import (
	"context"
	"sort"
	"sync"
)

// Session owns the per-image results of one scanning session. Results
// are kept for every image regardless of which one is displayed, so
// switching images restores earlier work without rescanning.
type Session struct {
	mu      sync.Mutex
	records map[string]*record
	current string
	nextGen uint64
	changed chan struct{} // closed and replaced on every change
}

type record struct {
	result     Result
	generation uint64
}

// NewSession creates an empty session
func NewSession() *Session {
	return &Session{
		records: make(map[string]*record),
		changed: make(chan struct{}),
	}
}

// broadcastLocked wakes every waiter. s.mu must be held.
func (s *Session) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// begin starts a scan attempt for uri and returns its generation. Unless
// force is set, an image that is in progress or complete is left alone
// and its snapshot returned with started=false.
func (s *Session) begin(uri string, force bool) (snapshot Result, gen uint64, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[uri]; ok && !force {
		if rec.result.State.InProgress() || rec.result.State == StateComplete {
			return rec.result.clone(), rec.generation, false
		}
	}

	s.nextGen++
	rec := &record{
		result:     Result{ImageURI: uri, State: StateAnalyzingVision},
		generation: s.nextGen,
	}
	s.records[uri] = rec
	s.broadcastLocked()
	return rec.result.clone(), rec.generation, true
}

// apply mutates the record for uri only if gen is still its generation.
// Completions from superseded attempts are dropped.
func (s *Session) apply(uri string, gen uint64, fn func(*Result)) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[uri]
	if !ok || rec.generation != gen {
		return Result{}, false
	}
	fn(&rec.result)
	s.broadcastLocked()
	return rec.result.clone(), true
}

// Get returns the snapshot for uri
func (s *Session) Get(uri string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[uri]
	if !ok {
		return Result{ImageURI: uri, State: StateUnscanned}, false
	}
	return rec.result.clone(), true
}

// SetCurrent marks uri as the displayed image and returns its stored
// snapshot, if any.
func (s *Session) SetCurrent(uri string) (Result, bool) {
	s.mu.Lock()
	s.current = uri
	s.mu.Unlock()
	return s.Get(uri)
}

// Current returns the displayed image
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Discard drops the result for uri. Any attempt still running for it
// becomes stale.
func (s *Session) Discard(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, uri)
	s.broadcastLocked()
}

// wait blocks until uri is no longer in progress and returns its snapshot
func (s *Session) wait(ctx context.Context, uri string) (Result, error) {
	for {
		s.mu.Lock()
		rec, ok := s.records[uri]
		changed := s.changed
		if !ok {
			s.mu.Unlock()
			return Result{ImageURI: uri, State: StateUnscanned}, nil
		}
		if !rec.result.State.InProgress() {
			snap := rec.result.clone()
			s.mu.Unlock()
			return snap, nil
		}
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

// Results returns snapshots of every image, ordered by URI
func (s *Session) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Result, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.result.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageURI < out[j].ImageURI })
	return out
}

// End discards every result and the current image and returns the
// images it held. Attempts still running become stale.
func (s *Session) End() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	uris := make([]string, 0, len(s.records))
	for uri := range s.records {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	s.records = make(map[string]*record)
	s.current = ""
	s.broadcastLocked()
	return uris
}
