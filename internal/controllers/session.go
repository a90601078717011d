package controllers

import (
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Kind is an ingestion flow
type Kind string

const (
	KindFlatAdd        Kind = "flat-add"
	KindMultiSeasonAdd Kind = "multi-season-add"
	KindSeriesUpload   Kind = "series-upload"
	KindBulkLoad       Kind = "bulk-load"
)

// Phase is where a session stands in its flow
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAwaitingName   Phase = "awaiting-name"
	PhaseReceivingFiles Phase = "receiving-files"
	PhaseAwaitingCover  Phase = "awaiting-cover"
	PhaseFinalizing     Phase = "finalizing"
)

// State is the phase specific payload of a session
type State interface {
	Phase() Phase
}

// AwaitingName waits for a title, or a season label for multi-season flows
type AwaitingName struct {
	SeasonLabel bool
}

// ReceivingFiles appends incoming files to the bucket at Bucket
type ReceivingFiles struct {
	Bucket int
}

// AwaitingCover waits for the cover photo
type AwaitingCover struct{}

// Finalizing marks a session whose bundle has been handed to the pipeline
type Finalizing struct{}

func (AwaitingName) Phase() Phase   { return PhaseAwaitingName }
func (ReceivingFiles) Phase() Phase { return PhaseReceivingFiles }
func (AwaitingCover) Phase() Phase  { return PhaseAwaitingCover }
func (Finalizing) Phase() Phase     { return PhaseFinalizing }

// Scope tells whether a session belongs to one admin or to a whole group
type Scope string

const (
	ScopeUser  Scope = "user"
	ScopeGroup Scope = "group"
)

// SessionKey identifies a session slot
type SessionKey struct {
	Scope Scope
	ID    int64
}

// UserKey is the slot of one admin
func UserKey(userID int64) SessionKey { return SessionKey{Scope: ScopeUser, ID: userID} }

// GroupKey is the shared bulk-load slot of a group chat
func GroupKey(chatID int64) SessionKey { return SessionKey{Scope: ScopeGroup, ID: chatID} }

func (k SessionKey) String() string {
	return fmt.Sprintf("%s:%d", k.Scope, k.ID)
}

// Session is one admin's in-progress ingestion flow. Its exported fields
// belong to the goroutine handling the session's updates; other goroutines
// only see the SessionInfo published by the store.
type Session struct {
	Key       SessionKey
	Kind      Kind
	AdminID   int64
	ChatID    int64
	State     State
	Bundle    *ContentBundle
	Items     int // bulk-load items already dispatched
	StartedAt time.Time

	mu     sync.Mutex
	info   SessionInfo
	closed bool
}

// publish records the current view of the session for other goroutines
func (s *Session) publish() {
	info := SessionInfo{
		Key:       s.Key.String(),
		Kind:      s.Kind,
		Phase:     s.Phase(),
		Files:     s.fileCount(),
		StartedAt: s.StartedAt,
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

// published returns the last published view and whether the session was
// closed on purpose
func (s *Session) published() (SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.closed
}

// Phase returns the current phase
func (s *Session) Phase() Phase {
	if s == nil || s.State == nil {
		return PhaseIdle
	}
	return s.State.Phase()
}

// SessionStore keeps at most one session per key and drops sessions left
// untouched for longer than the idle timeout. Callers must serialise access
// per key and call Touch after mutating a session.
type SessionStore struct {
	cache  *cache.Cache
	logger *logrus.Logger
}

// NewSessionStore creates a store with the given idle timeout
func NewSessionStore(idle time.Duration, logger *logrus.Logger) *SessionStore {
	cleanup := idle / 4
	if cleanup < time.Second {
		cleanup = time.Second
	}

	s := &SessionStore{
		cache:  cache.New(idle, cleanup),
		logger: logger,
	}
	s.cache.OnEvicted(func(key string, value interface{}) {
		activeSessions.Dec()
		sess, ok := value.(*Session)
		if !ok {
			return
		}
		info, closed := sess.published()
		if closed {
			return
		}
		sessionEvents.WithLabelValues(string(info.Kind), "expired").Inc()
		logger.WithFields(logrus.Fields{
			"session": key,
			"kind":    info.Kind,
			"phase":   info.Phase,
			"files":   info.Files,
		}).Info("Ingestion session expired")
	})
	return s
}

// Get returns the active session for key, or nil
func (s *SessionStore) Get(key SessionKey) *Session {
	v, ok := s.cache.Get(key.String())
	if !ok {
		return nil
	}
	return v.(*Session)
}

// Has reports whether key has an active session
func (s *SessionStore) Has(key SessionKey) bool {
	_, ok := s.cache.Get(key.String())
	return ok
}

// Create stores a new session, replacing nothing. It fails when the key
// already has one.
func (s *SessionStore) Create(sess *Session) error {
	// Add silently overwrites expired items the janitor has not reached yet
	s.cache.DeleteExpired()

	sess.publish()
	if err := s.cache.Add(sess.Key.String(), sess, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("session %s already active", sess.Key)
	}
	activeSessions.Inc()
	sessionEvents.WithLabelValues(string(sess.Kind), "started").Inc()
	return nil
}

// Touch refreshes the idle timeout of a session after a mutation
func (s *SessionStore) Touch(sess *Session) {
	sess.publish()
	s.cache.SetDefault(sess.Key.String(), sess)
}

// Delete destroys a session. event is recorded in metrics ("cancelled",
// "finalized", "reset").
func (s *SessionStore) Delete(sess *Session, event string) {
	sess.mu.Lock()
	sess.closed = true
	sess.mu.Unlock()
	sessionEvents.WithLabelValues(string(sess.Kind), event).Inc()
	s.cache.Delete(sess.Key.String())
}

// Count returns the number of active sessions
func (s *SessionStore) Count() int {
	return s.cache.ItemCount()
}

// Snapshot lists active sessions
func (s *SessionStore) Snapshot() []SessionInfo {
	items := s.cache.Items()
	out := make([]SessionInfo, 0, len(items))
	for key, item := range items {
		sess, ok := item.Object.(*Session)
		if !ok {
			continue
		}
		info, _ := sess.published()
		info.Key = key
		out = append(out, info)
	}
	return out
}

// SessionInfo is a read-only view of a session for status reporting
type SessionInfo struct {
	Key       string    `json:"key"`
	Kind      Kind      `json:"kind"`
	Phase     Phase     `json:"phase"`
	Files     int       `json:"files"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Session) fileCount() int {
	if s.Bundle == nil {
		return 0
	}
	return s.Bundle.TotalFiles()
}
