package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
)

// ConversationLogEvent is one line of a conversation log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	// Forget releases per-session resources once the session has ended.
	// A later event for the same session starts writing again.
	Forget(userID, sessionID string)
	Close() error
}

// ConversationLogConfig controls where conversation logs are written.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Forget(string, string)    {}
func (noopConversationLogger) Close() error             { return nil }

// fileConversationLogger appends NDJSON lines from a single writer goroutine.
type fileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan logItem
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool

	filesMu sync.Mutex
	files   map[string]*os.File
	global  *os.File
}

// logItem is either an event to write or a request to close a session file.
type logItem struct {
	event  ConversationLogEvent
	forget bool
}

// NewConversationLogger returns a logger writing one file per session under
// cfg.Dir. A disabled config yields a logger that discards everything.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log directory is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan logItem, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		f, err := openAppend(cfg.GlobalPath)
		if err != nil {
			return nil, err
		}
		l.global = f
	}
	go l.run()
	return l, nil
}

// Log enqueues event. A full queue drops the event.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- logItem{event: event}:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"session_id", event.SessionID, "event_type", event.EventType)
	}
}

// Forget closes the session's log file after its queued events are written.
// Unlike Log it waits for queue space, so the file is never left open.
func (l *fileConversationLogger) Forget(userID, sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.queue <- logItem{event: ConversationLogEvent{UserID: userID, SessionID: sessionID}, forget: true}
}

// Close drains the queue and closes all files.
func (l *fileConversationLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		<-l.done

		var errs []error
		l.filesMu.Lock()
		for _, f := range l.files {
			errs = append(errs, f.Close())
		}
		l.files = map[string]*os.File{}
		l.filesMu.Unlock()
		if l.global != nil {
			errs = append(errs, l.global.Close())
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for item := range l.queue {
		event := item.event
		if item.forget {
			l.closeSessionFile(event.UserID, event.SessionID)
			continue
		}

		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := l.writeSession(event.UserID, event.SessionID, line); err != nil {
			l.logger.Warn("Failed to write conversation log", "session_id", event.SessionID, "error", err)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("Failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *fileConversationLogger) sessionPath(userID, sessionID string) string {
	return filepath.Join(l.cfg.Dir, safeName(userID), safeName(sessionID)+".ndjson")
}

func (l *fileConversationLogger) writeSession(userID, sessionID string, line []byte) error {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()

	path := l.sessionPath(userID, sessionID)
	f, ok := l.files[path]
	if !ok {
		var err error
		if f, err = openAppend(path); err != nil {
			return err
		}
		l.files[path] = f
	}
	_, err := f.Write(line)
	return err
}

func (l *fileConversationLogger) closeSessionFile(userID, sessionID string) {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()

	path := l.sessionPath(userID, sessionID)
	f, ok := l.files[path]
	if !ok {
		return
	}
	delete(l.files, path)
	if err := f.Close(); err != nil {
		l.logger.Warn("Failed to close conversation log", "session_id", sessionID, "error", err)
	}
}

// openFiles reports how many session files are currently held open.
func (l *fileConversationLogger) openFiles() int {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	return len(l.files)
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

// cleanForReadability strips terminal escapes and control characters.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
