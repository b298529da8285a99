package usecase

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// LabelSession maps the diarization labels of one live session to durable
// speaker IDs. It is created per session, passed alongside the session's
// utterances, and discarded when the session ends.
type LabelSession struct {
	id string

	mu         sync.Mutex
	labels     map[string]string
	lastActive time.Time
	pinned     bool
	closed     bool

	// flight serializes resolution of a label that is not cached yet.
	flight singleflight.Group
}

func newLabelSession(id string, pinned bool, now time.Time) *LabelSession {
	return &LabelSession{
		id:         id,
		labels:     make(map[string]string),
		lastActive: now,
		pinned:     pinned,
	}
}

// ID returns the session identifier, which doubles as the meeting ID recorded
// on profiles.
func (s *LabelSession) ID() string {
	return s.id
}

// Lookup returns the speaker ID cached for label.
func (s *LabelSession) Lookup(label string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.labels[label]
	return id, ok
}

// Labels returns a copy of the label mapping.
func (s *LabelSession) Labels() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.labels))
	for k, v := range s.labels {
		out[k] = v
	}
	return out
}

// Closed reports whether the session has ended.
func (s *LabelSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *LabelSession) remember(label, speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.labels[label] = speakerID
}

// forget drops label only while it still points at speakerID.
func (s *LabelSession) forget(label, speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.labels[label] == speakerID {
		delete(s.labels, label)
	}
}

func (s *LabelSession) forgetSpeaker(speakerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for label, id := range s.labels {
		if id == speakerID {
			delete(s.labels, label)
			n++
		}
	}
	return n
}

func (s *LabelSession) remap(from, to string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for label, id := range s.labels {
		if id == from {
			s.labels[label] = to
			n++
		}
	}
	return n
}

func (s *LabelSession) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastActive) {
		s.lastActive = now
	}
}

func (s *LabelSession) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.pinned && s.lastActive.Before(cutoff)
}

func (s *LabelSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.labels = make(map[string]string)
}

// sessionRegistry tracks open sessions so that profile deletes and merges can
// reach every cache that references the affected IDs.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*LabelSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*LabelSession)}
}

// open returns the open session with id, creating it if needed. A pinned
// session is never reaped for idleness; it stays open until closed.
func (r *sessionRegistry) open(id string, pinned bool, now time.Time) (*LabelSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		if pinned {
			s.mu.Lock()
			s.pinned = true
			s.mu.Unlock()
		}
		return s, false
	}
	s := newLabelSession(id, pinned, now)
	r.sessions[id] = s
	return s, true
}

func (r *sessionRegistry) get(id string) (*LabelSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *sessionRegistry) close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

func (r *sessionRegistry) snapshot() []*LabelSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*LabelSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *sessionRegistry) forgetSpeaker(speakerID string) int {
	n := 0
	for _, s := range r.snapshot() {
		n += s.forgetSpeaker(speakerID)
	}
	return n
}

func (r *sessionRegistry) remap(from, to string) int {
	n := 0
	for _, s := range r.snapshot() {
		n += s.remap(from, to)
	}
	return n
}

func (r *sessionRegistry) idle(cutoff time.Time) []string {
	var ids []string
	for _, s := range r.snapshot() {
		if s.idleSince(cutoff) {
			ids = append(ids, s.id)
		}
	}
	return ids
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
