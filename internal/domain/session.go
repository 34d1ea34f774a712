// Package domain contains the persisted records of the quote assistant.
package domain

import (
	"time"
)

// ChatSession is the activity ledger row of one conversation. Only
// metadata is stored; the conversation itself lives in memory.
type ChatSession struct {
	UserID           string    `json:"user_id"`
	SessionID        string    `json:"session_id"`
	Turns            int       `json:"turns"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}

// Key returns the identifier used to address the session in memory.
func (s *ChatSession) Key() string {
	return SessionKey(s.UserID, s.SessionID)
}

// IdleFor returns how long the session has been inactive at now.
func (s *ChatSession) IdleFor(now time.Time) time.Duration {
	if s.LastSeenAt.IsZero() || now.Before(s.LastSeenAt) {
		return 0
	}
	return now.Sub(s.LastSeenAt)
}

// SessionKey joins a user and tab session into one key.
func SessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// Activity is a change to a session's ledger row. Turn adds one to the turn
// count; the token fields replace the stored totals.
type Activity struct {
	UserID           string
	SessionID        string
	Turn             bool
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	At               time.Time
}
