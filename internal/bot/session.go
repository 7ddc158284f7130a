package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nexguard/nexbot/internal/models"
	"github.com/nexguard/nexbot/internal/store"
	"github.com/rs/zerolog/log"
)

// Session is the conversation state of one identity. Fields are guarded by
// the session lock, which the router holds while a message is processed.
type Session struct {
	Identity     string
	Name         string
	State        State
	ChatHistory  []models.ChatTurn
	LastActivity time.Time

	mu sync.Mutex
	// generation is bumped whenever the session is reset from outside the
	// message pipeline, so suspended handlers can detect stale results.
	generation uint64
}

func newSession(identity string, now time.Time) *Session {
	return &Session{Identity: identity, State: Idle, LastActivity: now}
}

func (s *Session) lock()   { s.mu.Lock() }
func (s *Session) unlock() { s.mu.Unlock() }

// await releases the session lock while fn runs, then reacquires it. It
// reports whether the session was left alone in the meantime; when false,
// whatever fn produced must be discarded.
func (s *Session) await(fn func()) (current bool) {
	gen := s.generation
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		current = s.generation == gen
	}()
	fn()
	return
}

// reset forces the session idle, dropping any draft and the chat history.
// The caller holds the lock.
func (s *Session) reset() {
	s.State = Idle
	s.ChatHistory = nil
	s.generation++
}

// Draft returns the in-progress order, or nil outside the order workflow.
func (s *Session) Draft() *models.Order {
	if os, ok := s.State.(OrderState); ok {
		return os.Draft
	}
	return nil
}

// record returns the durable form of the session. The caller holds the lock.
func (s *Session) record() models.SessionRecord {
	rec := models.SessionRecord{
		State:        s.State.Name(),
		ChatHistory:  append([]models.ChatTurn(nil), s.ChatHistory...),
		LastActivity: s.LastActivity,
	}
	if d := s.Draft(); d != nil {
		cp := *d
		rec.OrderDraft = &cp
	}
	return rec
}

// Snapshot returns the durable form of the session, taking the lock.
func (s *Session) Snapshot() models.SessionRecord {
	s.lock()
	defer s.unlock()
	return s.record()
}

// SessionStore holds every known session and persists them to the
// sessions collection.
type SessionStore struct {
	store store.Store
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty SessionStore.
func NewSessionStore(st store.Store, now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{
		store:    st,
		now:      now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for identity if one exists.
func (ss *SessionStore) Get(identity string) (*Session, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, ok := ss.sessions[identity]
	return s, ok
}

// GetOrCreate returns the session for identity, creating an idle one.
func (ss *SessionStore) GetOrCreate(identity string) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.sessions[identity]
	if !ok {
		s = newSession(identity, ss.now())
		ss.sessions[identity] = s
	}
	return s
}

// Identities returns every known identity, sorted.
func (ss *SessionStore) Identities() []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	ids := make([]string, 0, len(ss.sessions))
	for id := range ss.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known sessions.
func (ss *SessionStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// Reset forces an existing session idle and clears its chat history. It
// returns false when identity has no session.
func (ss *SessionStore) Reset(ctx context.Context, identity string) bool {
	s, ok := ss.Get(identity)
	if !ok {
		return false
	}
	s.lock()
	defer s.unlock()
	s.reset()
	ss.save(ctx, s)
	return true
}

// Reclaim resets sessions idle for longer than idle and trims every chat
// history to maxHistory turns. It returns the number of sessions reset.
func (ss *SessionStore) Reclaim(ctx context.Context, idle time.Duration, maxHistory int) int {
	now := ss.now()
	reclaimed := 0
	for _, id := range ss.Identities() {
		s, ok := ss.Get(id)
		if !ok {
			continue
		}
		s.lock()
		changed := false
		if now.Sub(s.LastActivity) > idle && (s.State != Idle || len(s.ChatHistory) > 0) {
			s.reset()
			reclaimed++
			changed = true
		}
		if maxHistory > 0 && len(s.ChatHistory) > maxHistory {
			s.ChatHistory = append([]models.ChatTurn(nil), s.ChatHistory[len(s.ChatHistory)-maxHistory:]...)
			changed = true
		}
		if changed {
			ss.save(ctx, s)
		}
		s.unlock()
	}
	return reclaimed
}

// Save persists one session, taking its lock.
func (ss *SessionStore) Save(ctx context.Context, s *Session) {
	s.lock()
	defer s.unlock()
	ss.save(ctx, s)
}

// save persists s. The caller holds the session lock. Failures are logged;
// the in-memory session stays authoritative.
func (ss *SessionStore) save(ctx context.Context, s *Session) {
	if err := ss.put(ctx, s.Identity, s.record()); err != nil {
		log.Error().Err(err).Str("identity", s.Identity).Msg("bot: save session")
	}
}

func (ss *SessionStore) put(ctx context.Context, identity string, rec models.SessionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("bot: encode session %s: %w", identity, err)
	}
	return ss.store.Put(ctx, store.Sessions, identity, body)
}

// Load replaces the in-memory sessions with the persisted ones. Every
// session comes back idle whatever state it was saved in.
func (ss *SessionStore) Load(ctx context.Context) error {
	docs, err := ss.store.ListAll(ctx, store.Sessions)
	if err != nil {
		return fmt.Errorf("bot: load sessions: %w", err)
	}
	loaded := make(map[string]*Session, len(docs))
	for id, body := range docs {
		var rec models.SessionRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			log.Warn().Err(err).Str("identity", id).Msg("bot: skip unreadable session")
			continue
		}
		if rec.State != string(PhaseIdle) {
			log.Debug().Str("identity", id).Str("state", rec.State).Msg("bot: session restored idle")
		}
		loaded[id] = &Session{
			Identity:     id,
			State:        Idle,
			ChatHistory:  rec.ChatHistory,
			LastActivity: rec.LastActivity,
		}
	}
	ss.mu.Lock()
	ss.sessions = loaded
	ss.mu.Unlock()
	log.Info().Int("sessions", len(loaded)).Msg("bot: sessions loaded")
	return nil
}

// Flush persists every session. It returns the first error encountered.
func (ss *SessionStore) Flush(ctx context.Context) error {
	var first error
	for _, id := range ss.Identities() {
		s, ok := ss.Get(id)
		if !ok {
			continue
		}
		s.lock()
		err := ss.put(ctx, id, s.record())
		s.unlock()
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
