package session

import (
	"sync"
)

// Status is the authentication status held by the [Store].
type Status uint8

const (
	// StatusLoading means bootstrap has not finished.
	StatusLoading Status = iota
	// StatusUnauthenticated means no usable session/profile pair is held.
	StatusUnauthenticated
	// StatusAuthenticated means a session with an active profile is held.
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// State is an immutable snapshot of the [Store].
type State struct {
	Status  Status
	Session *Session
	Profile *Profile
	// Err is the last user-visible error, if any.
	Err error
	// Generation changes on every clear; async work tagged with an older
	// generation must not be applied.
	Generation uint64
}

// Authenticated reports whether the snapshot holds an active session.
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Session != nil && s.Profile != nil && s.Profile.Active
}

// Store owns the single Session/Profile pair of one browsing context.
//
// Every mutation that installs data takes the generation observed when the
// async work started; if a clear happened in between, the write is dropped.
// Subscribers are notified with the latest snapshot after every change and
// must not mutate the Store from inside the callback.
type Store struct {
	mu    sync.Mutex
	state State

	notifyMu sync.Mutex
	subs     map[uint64]func(State)
	nextSub  uint64
}

// NewStore returns a Store in the loading state.
func NewStore() *Store {
	return &Store{
		state: State{Status: StatusLoading},
		subs:  make(map[uint64]func(State)),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	st := s.state
	st.Session = st.Session.Clone()
	st.Profile = st.Profile.Clone()
	return st
}

// Generation returns the current generation. Capture it before starting
// async work and pass it back to the guarded setters.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Generation
}

// Set installs a session/profile pair if gen is still current. A missing or
// inactive profile leaves the store unauthenticated.
func (s *Store) Set(gen uint64, sess *Session, prof *Profile) bool {
	s.mu.Lock()
	if gen != s.state.Generation {
		s.mu.Unlock()
		return false
	}
	if sess == nil || prof == nil || !prof.Active {
		s.state.Status = StatusUnauthenticated
		s.state.Session = nil
		s.state.Profile = nil
	} else {
		s.state.Status = StatusAuthenticated
		s.state.Session = sess.Clone()
		s.state.Profile = prof.Clone()
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// ReplaceSession swaps the held session (token refresh) keeping the profile.
// It is a no-op unless gen is current and the store is authenticated as the
// same subject.
func (s *Store) ReplaceSession(gen uint64, sess *Session) bool {
	s.mu.Lock()
	if gen != s.state.Generation || s.state.Status != StatusAuthenticated || sess == nil ||
		s.state.Session == nil || s.state.Session.SubjectID != sess.SubjectID {
		s.mu.Unlock()
		return false
	}
	s.state.Session = sess.Clone()
	s.mu.Unlock()
	s.notify()
	return true
}

// ReplaceProfile swaps the held profile keeping the session. An inactive
// profile is rejected; callers clear the store for deactivation.
func (s *Store) ReplaceProfile(gen uint64, prof *Profile) bool {
	s.mu.Lock()
	if gen != s.state.Generation || s.state.Status != StatusAuthenticated || prof == nil ||
		!prof.Active || s.state.Profile == nil || s.state.Profile.ID != prof.ID {
		s.mu.Unlock()
		return false
	}
	s.state.Profile = prof.Clone()
	s.mu.Unlock()
	s.notify()
	return true
}

// Clear drops the session and profile unconditionally, records err (may be
// nil) and starts a new generation. It returns the new generation.
func (s *Store) Clear(err error) uint64 {
	s.mu.Lock()
	s.state.Generation++
	s.state.Status = StatusUnauthenticated
	s.state.Session = nil
	s.state.Profile = nil
	s.state.Err = err
	gen := s.state.Generation
	s.mu.Unlock()
	s.notify()
	return gen
}

// ClearIf clears like [Store.Clear] only when gen is still current.
func (s *Store) ClearIf(gen uint64, err error) bool {
	s.mu.Lock()
	if gen != s.state.Generation {
		s.mu.Unlock()
		return false
	}
	s.state.Generation++
	s.state.Status = StatusUnauthenticated
	s.state.Session = nil
	s.state.Profile = nil
	s.state.Err = err
	s.mu.Unlock()
	s.notify()
	return true
}

// SetError records a user-visible error without touching the session.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	s.state.Err = err
	s.mu.Unlock()
	s.notify()
}

// ClearError resets the user-visible error.
func (s *Store) ClearError() {
	s.mu.Lock()
	if s.state.Err == nil {
		s.mu.Unlock()
		return
	}
	s.state.Err = nil
	s.mu.Unlock()
	s.notify()
}

// Subscribe registers fn for state changes and returns a function that
// removes it. fn is not called with the current state.
func (s *Store) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	s.notifyMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			delete(s.subs, id)
			s.notifyMu.Unlock()
		})
	}
}

// notify delivers the latest snapshot, so subscribers never observe an older
// state after a newer one.
func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	st := s.Snapshot()
	for _, fn := range s.subs {
		fn(st)
	}
}
