package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Croups/cloudprinter-chatbot/internal/domain"
	"github.com/Croups/cloudprinter-chatbot/internal/store"
)

// SessionFactory builds the session for a user's tab.
type SessionFactory func(userID, sessionID string) *Session

// Manager keeps one Session per user and tab session, and mirrors their
// activity into the store.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	factory SessionFactory
	repo    store.Repository
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a manager. repo may be nil, in which case activity is
// not recorded and sessions only expire through Expire.
func NewManager(factory SessionFactory, repo store.Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		repo:     repo,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the session, creating it on first use.
func (m *Manager) Get(ctx context.Context, userID, sessionID string) *Session {
	key := domain.SessionKey(userID, sessionID)

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		sess = m.factory(userID, sessionID)
		m.sessions[key] = sess
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Info("Session created", "user_id", userID, "session_id", sessionID)
		m.record(ctx, userID, sessionID, sess, false)
	}
	return sess
}

// Lookup returns the session if it exists.
func (m *Manager) Lookup(userID, sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[domain.SessionKey(userID, sessionID)]
	return sess, ok
}

// Send runs a turn on the user's session and records it.
func (m *Manager) Send(ctx context.Context, userID, sessionID, text string, observe TurnObserver) TurnResult {
	sess := m.Get(ctx, userID, sessionID)
	res := sess.SendObserved(ctx, text, observe)
	m.record(ctx, userID, sessionID, sess, true)
	return res
}

// Reset clears the user's session.
func (m *Manager) Reset(ctx context.Context, userID, sessionID string) {
	sess := m.Get(ctx, userID, sessionID)
	sess.Reset()
	m.record(ctx, userID, sessionID, sess, false)
}

// Touch records activity without running a turn.
func (m *Manager) Touch(ctx context.Context, userID, sessionID string) {
	if sess, ok := m.Lookup(userID, sessionID); ok {
		m.record(ctx, userID, sessionID, sess, false)
	}
}

// Expire drops the in-memory session and releases its conversation log.
// It reports whether one existed.
func (m *Manager) Expire(userID, sessionID string) bool {
	key := domain.SessionKey(userID, sessionID)
	m.mu.Lock()
	sess, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if ok {
		sess.release()
		m.logger.Info("Session expired", "user_id", userID, "session_id", sessionID)
	}
	return ok
}

// Sessions returns the ledger rows of a user's conversations, most recent
// first. Without a store it returns nil.
func (m *Manager) Sessions(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	if m.repo == nil {
		return nil, nil
	}
	return m.repo.ListSessions(ctx, userID)
}

// SessionInfo returns the ledger row of one conversation, or nil when it is
// unknown or no store is configured.
func (m *Manager) SessionInfo(ctx context.Context, userID, sessionID string) (*domain.ChatSession, error) {
	if m.repo == nil {
		return nil, nil
	}
	return m.repo.GetSession(ctx, userID, sessionID)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) record(ctx context.Context, userID, sessionID string, sess *Session, turn bool) {
	if m.repo == nil {
		return
	}
	u := sess.Usage()
	err := m.repo.RecordActivity(context.WithoutCancel(ctx), domain.Activity{
		UserID:           userID,
		SessionID:        sessionID,
		Turn:             turn,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		At:               m.now(),
	})
	if err != nil {
		m.logger.Warn("Failed to record session activity", "user_id", userID, "session_id", sessionID, "error", err)
	}
}
