package state

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/zhouzirui/z-tavern/client/internal/model/session"
)

var ErrConflictingIdentity = errors.New("auth state mixes guest and user identity")

// Mode 是认证状态的派生视图。
type Mode string

const (
	ModeLoggedOut     Mode = "loggedOut"
	ModeGuest         Mode = "guest"
	ModeAuthenticated Mode = "authenticated"
)

// AuthSnapshot is an immutable copy of the auth view state.
type AuthSnapshot struct {
	LoggedIn   bool                 `json:"loggedIn"`
	Guest      bool                 `json:"guest"`
	TrialCount int                  `json:"trialCount"`
	User       *session.UserProfile `json:"user"`
	Loading    bool                 `json:"loading"`
	Error      string               `json:"error,omitempty"`
	Mode       Mode                 `json:"mode"`
}

// SessionReader reads the persisted session; auth.Client implements it.
type SessionReader interface {
	Session(ctx context.Context) session.Session
}

// AuthStore mirrors the persisted session for views.
type AuthStore struct {
	source SessionReader

	mu         sync.RWMutex
	user       *session.UserProfile
	loggedIn   bool
	guest      bool
	trialCount int
	loading    bool
	err        string

	subs hub[AuthSnapshot]
}

// NewAuthStore creates a store in the logged-out state. Call Hydrate to load
// the persisted session.
func NewAuthStore(source SessionReader) *AuthStore {
	return &AuthStore{source: source}
}

// Hydrate loads the persisted session. Calling it repeatedly yields the same
// state as long as storage is unchanged.
func (s *AuthStore) Hydrate(ctx context.Context) AuthSnapshot {
	persisted := s.source.Session(ctx)

	s.mu.Lock()
	s.loggedIn = persisted.Token != ""
	s.guest = persisted.IsGuest
	s.trialCount = persisted.TrialCount
	s.user = cloneProfile(persisted.User)
	snap := s.snapshotLocked()
	s.subs.publish(snap)
	s.mu.Unlock()

	if err := validate(snap); err != nil {
		log.Printf("[state] hydrated auth state is inconsistent: %v", err)
	}
	return snap
}

// Clear resets every field to its default. Persisted storage is untouched.
func (s *AuthStore) Clear() {
	s.update(func() {
		s.user = nil
		s.loggedIn = false
		s.guest = false
		s.trialCount = 0
		s.loading = false
		s.err = ""
	})
}

func (s *AuthStore) SetUser(user *session.UserProfile) {
	s.update(func() { s.user = cloneProfile(user) })
}

func (s *AuthStore) SetLoggedIn(loggedIn bool) {
	s.update(func() { s.loggedIn = loggedIn })
}

func (s *AuthStore) SetGuest(guest bool) {
	s.update(func() { s.guest = guest })
}

func (s *AuthStore) SetTrialCount(count int) {
	if count < 0 {
		count = 0
	}
	s.update(func() { s.trialCount = count })
}

func (s *AuthStore) SetLoading(loading bool) {
	s.update(func() { s.loading = loading })
}

// SetError sets the view error; an empty message clears it.
func (s *AuthStore) SetError(message string) {
	s.update(func() { s.err = message })
}

// Snapshot returns a copy of the current state.
func (s *AuthStore) Snapshot() AuthSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Mode returns the derived identity mode.
func (s *AuthStore) Mode() Mode {
	return s.Snapshot().Mode
}

// Validate reports whether the state is a consistent identity.
func (s *AuthStore) Validate() error {
	return validate(s.Snapshot())
}

// Subscribe returns a channel receiving a snapshot after every change.
func (s *AuthStore) Subscribe() (<-chan AuthSnapshot, func()) {
	return s.subs.subscribe()
}

func (s *AuthStore) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	// 持锁发布，订阅方按修改顺序收到快照。
	s.subs.publish(s.snapshotLocked())
}

func (s *AuthStore) snapshotLocked() AuthSnapshot {
	snap := AuthSnapshot{
		LoggedIn:   s.loggedIn,
		Guest:      s.guest,
		TrialCount: s.trialCount,
		User:       cloneProfile(s.user),
		Loading:    s.loading,
		Error:      s.err,
	}
	snap.Mode = modeOf(snap)
	return snap
}

func modeOf(snap AuthSnapshot) Mode {
	switch {
	case !snap.LoggedIn:
		return ModeLoggedOut
	case snap.Guest:
		return ModeGuest
	default:
		return ModeAuthenticated
	}
}

func validate(snap AuthSnapshot) error {
	if snap.Guest && snap.User != nil {
		return ErrConflictingIdentity
	}
	if !snap.LoggedIn && (snap.Guest || snap.User != nil) {
		return ErrConflictingIdentity
	}
	return nil
}

func cloneProfile(p *session.UserProfile) *session.UserProfile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
