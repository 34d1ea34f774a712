package realtime

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	closed []string
}

func (c *fakeConn) Close(_ websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, reason)
	return nil
}

func (c *fakeConn) reasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.closed...)
}

func activeConn(sm *SessionManager, userID, sessionID string) Conn {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.active[userID][sessionID]
}

func TestSessionManager_Register(t *testing.T) {
	sm := NewSessionManager()
	conn := &fakeConn{}

	sm.Register("user123", "tab-1", conn)

	if active := activeConn(sm, "user123", "tab-1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
}

func TestSessionManager_RegisterReplacesOlder(t *testing.T) {
	sm := NewSessionManager()
	older, newer := &fakeConn{}, &fakeConn{}

	sm.Register("user123", "tab-1", older)
	sm.Register("user123", "tab-1", newer)

	if got := older.reasons(); len(got) != 1 || got[0] != "session replaced" {
		t.Errorf("expected older connection closed, got %v", got)
	}
	if activeConn(sm, "user123", "tab-1") != newer {
		t.Error("expected newer connection to be active")
	}

	// A late unregister from the replaced connection must not drop the new one.
	sm.Unregister("user123", "tab-1", older)
	if activeConn(sm, "user123", "tab-1") != newer {
		t.Error("stale unregister removed the active connection")
	}
}

func TestSessionManager_Unregister(t *testing.T) {
	sm := NewSessionManager()
	conn := &fakeConn{}

	sm.Register("user123", "tab-1", conn)
	sm.Unregister("user123", "tab-1", conn)

	if active := activeConn(sm, "user123", "tab-1"); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
	if sm.Count() != 0 {
		t.Errorf("expected no connections, got %d", sm.Count())
	}
}

func TestSessionManager_CloseSession(t *testing.T) {
	sm := NewSessionManager()
	tab1, tab2 := &fakeConn{}, &fakeConn{}
	sm.Register("u", "tab-1", tab1)
	sm.Register("u", "tab-2", tab2)

	sm.CloseSession("u", "tab-1")
	if len(tab1.reasons()) != 1 || len(tab2.reasons()) != 0 {
		t.Errorf("expected only tab-1 closed: %v %v", tab1.reasons(), tab2.reasons())
	}
	if activeConn(sm, "u", "tab-2") != tab2 {
		t.Error("expected tab-2 to stay active")
	}

	sm.CloseSession("u", "tab-2")
	if len(tab2.reasons()) != 1 || sm.Count() != 0 {
		t.Errorf("expected all connections closed, count=%d", sm.Count())
	}
	sm.CloseSession("u", "tab-2")
	if len(tab2.reasons()) != 1 {
		t.Error("closing a finished session twice must be a no-op")
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	userID := "concurrentUser"

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.Register(userID, "tab-"+strconv.Itoa(i), &fakeConn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			activeConn(sm, userID, "tab-"+strconv.Itoa(i))
		}
	}()
	wg.Wait()

	if sm.Count() != 1000 {
		t.Errorf("expected 1000 connections, got %d", sm.Count())
	}
}
