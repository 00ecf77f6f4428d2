// Package session tracks per-conversation state: bounded turn history,
// idle expiry and follow-up query resolution.
package session

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/railadvice/railadviced/internal/intent"
)

// Turn is one completed query/answer exchange.
type Turn struct {
	// Query is the user's raw query.
	Query string

	// Intent is the classified intent.
	Intent intent.Intent

	// Answer is the synthesized response text.
	Answer string

	// CitedChunkIDs lists the chunks the answer was grounded on.
	CitedChunkIDs []string

	// Topic is the subject of the turn, typically the top citation's
	// document title. Empty for conversational turns.
	Topic string

	// At is when the turn completed.
	At time.Time
}

// Config holds session manager configuration.
type Config struct {
	// MaxTurns caps the history per session; the oldest turn is evicted
	// when a new one would exceed it.
	MaxTurns int

	// IdleTimeout expires a session after this long without a new turn.
	IdleTimeout time.Duration

	// SweepInterval is how often expired sessions are reaped.
	SweepInterval time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxTurns == 0 {
		c.MaxTurns = 20
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

// Session is one conversation's state. Methods are safe for concurrent
// use. The turn lock serializes whole turns: the assistant holds it from
// classification through append, so overlapping requests for one session
// process in submission order and each resolves against the history the
// previous turn left behind.
type Session struct {
	id string

	turnMu sync.Mutex

	mu         sync.Mutex
	turns      []Turn
	lastActive time.Time
	maxTurns   int
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Lock acquires the session's turn lock. Held across a full query turn;
// state accessors take the inner mutex and may be called while holding it.
func (s *Session) Lock() {
	s.turnMu.Lock()
}

// Unlock releases the session's turn lock.
func (s *Session) Unlock() {
	s.turnMu.Unlock()
}

// Append records a completed turn, evicting the oldest if the history is
// at capacity.
func (s *Session) Append(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) >= s.maxTurns {
		copy(s.turns, s.turns[1:])
		s.turns = s.turns[:len(s.turns)-1]
	}
	s.turns = append(s.turns, t)
	s.lastActive = time.Now()
}

// History returns a copy of the turn history, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of stored turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// LastTopic returns the topic of the most recent turn that has one.
func (s *Session) LastTopic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Topic != "" {
			return s.turns[i].Topic
		}
	}
	return ""
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive.Before(cutoff)
}

// referenceWords are pronouns and demonstratives that signal a follow-up
// leaning on the previous turn.
var referenceWords = map[string]struct{}{
	// Norwegian
	"det": {}, "den": {}, "dette": {}, "denne": {}, "disse": {}, "de": {},
	"der": {}, "også": {}, "mer": {},
	// English
	"it": {}, "that": {}, "this": {}, "these": {}, "those": {}, "they": {},
	"them": {}, "more": {},
}

// Resolve rewrites a follow-up query so it stands alone: when the query
// leans on a reference word, carries no strong content terms of its own,
// and the session has a prior topic, the topic is appended. The boolean
// reports whether a rewrite happened.
//
// The heuristic is deliberately conservative: a query with four or more
// content terms is assumed self-contained even if it contains "det".
func (s *Session) Resolve(query string) (string, bool) {
	topic := s.LastTopic()
	if topic == "" {
		return query, false
	}

	hasRef := false
	content := 0
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, ok := referenceWords[w]; ok {
			hasRef = true
			continue
		}
		if len(w) >= 4 {
			content++
		}
	}
	if !hasRef || content >= 4 {
		return query, false
	}
	return query + " " + topic, true
}

// Manager owns all live sessions and reaps idle ones in the background.
type Manager struct {
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a session manager and starts its sweeper.
func NewManager(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	m := &Manager{
		config:   config,
		logger:   logger,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.sweeper()
	return m
}

// Get returns the session with the given id, creating it if needed, and
// marks it active.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{
			id:         id,
			lastActive: time.Now(),
			maxTurns:   m.config.MaxTurns,
		}
		m.sessions[id] = s
	}
	m.mu.Unlock()
	if ok {
		s.touch()
	}
	return s
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes sessions idle past the timeout and returns how many were
// evicted. The background sweeper calls this on its interval.
func (m *Manager) Sweep() int {
	cutoff := time.Now().Add(-m.config.IdleTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted
}

func (m *Manager) sweeper() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		case <-m.stop:
			return
		}
	}
}

// Close stops the background sweeper.
func (m *Manager) Close() error {
	close(m.stop)
	m.wg.Wait()
	return nil
}
