package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Croups/cloudprinter-chatbot/internal/store"
)

// DefaultSweepInterval is how often the TTL worker looks for idle sessions.
const DefaultSweepInterval = 5 * time.Minute

// ExpireCallback is called for each session removed by the TTL worker.
type ExpireCallback func(userID, sessionID string)

// deleteSessionWithRetry deletes the ledger row with exponential backoff to
// handle SQLITE_BUSY errors.
func deleteSessionWithRetry(ctx context.Context, repo store.Repository, userID, sessionID string) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = repo.DeleteSession(ctx, userID, sessionID)
		if err == nil {
			return nil
		}
		if !store.IsConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("TTL worker: Database locked during session delete, retrying",
			"user_id", userID,
			"session_id", sessionID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("delete session %s:%s: %w", userID, sessionID, err)
}

// StartTTLWorker runs a background goroutine that periodically expires
// sessions idle for longer than ttl.
func StartTTLWorker(ctx context.Context, repo store.Repository, mgr *Manager, ttl, interval time.Duration, onExpire ExpireCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				cleanupExpiredSessions(ctx, repo, mgr, ttl, onExpire)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func cleanupExpiredSessions(ctx context.Context, repo store.Repository, mgr *Manager, ttl time.Duration, onExpire ExpireCallback) int {
	expired, err := repo.GetExpiredSessions(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get expired sessions", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	slog.Info("TTL worker found expired sessions", "count", len(expired))

	now := time.Now()
	for _, cs := range expired {
		slog.Info("TTL worker expiring session",
			"session", cs.Key(),
			"idle", cs.IdleFor(now).Round(time.Second),
			"turns", cs.Turns,
			"total_tokens", cs.TotalTokens)

		mgr.Expire(cs.UserID, cs.SessionID)
		if onExpire != nil {
			onExpire(cs.UserID, cs.SessionID)
		}

		if err := deleteSessionWithRetry(ctx, repo, cs.UserID, cs.SessionID); err != nil {
			slog.Warn("TTL worker failed to delete session after retries",
				"error", err,
				"user_id", cs.UserID,
				"session_id", cs.SessionID)
		}
	}

	slog.Info("TTL worker cleanup completed", "expired", len(expired))
	return len(expired)
}
