package realtime

import (
	"sync"
	"testing"

	"go.uber.org/zap"
)

func testConnection(userID string) *Connection {
	return &Connection{
		ID:     userID + "-conn",
		UserID: userID,
		send:   make(chan Frame, 8),
		logger: zap.NewNop(),
	}
}

func TestFanout_AddRemove(t *testing.T) {
	f := NewFanout(zap.NewNop())
	conn := testConnection("u1")

	f.Add("u1", conn)
	if got := f.ConnectionCount(); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}

	f.Remove("u1", conn)
	if got := f.ConnectionCount(); got != 0 {
		t.Fatalf("expected 0 connections after remove, got %d", got)
	}
	if _, ok := f.connections["u1"]; ok {
		t.Fatal("expected empty user entry to be dropped entirely")
	}
}

func TestFanout_MultiConnectionPerUser(t *testing.T) {
	f := NewFanout(zap.NewNop())
	c1 := testConnection("u1")
	c2 := testConnection("u1")

	f.Add("u1", c1)
	f.Add("u1", c2)

	f.SendToUser("u1", Frame{Type: "hello"})

	for _, c := range []*Connection{c1, c2} {
		select {
		case frame := <-c.send:
			if frame.Type != "hello" {
				t.Errorf("expected frame type 'hello', got %q", frame.Type)
			}
		default:
			t.Error("expected frame delivered to every connection of the user")
		}
	}
}

func TestFanout_RemoveOnlyTargetedConnection(t *testing.T) {
	f := NewFanout(zap.NewNop())
	c1 := testConnection("u1")
	c2 := testConnection("u1")
	f.Add("u1", c1)
	f.Add("u1", c2)

	f.Remove("u1", c1)

	if got := f.ConnectionCount(); got != 1 {
		t.Fatalf("expected 1 remaining connection, got %d", got)
	}
	list := f.connections["u1"]
	if len(list) != 1 || list[0] != c2 {
		t.Fatal("expected the untouched connection to remain registered")
	}
}

func TestFanout_BroadcastMultipleUsers(t *testing.T) {
	f := NewFanout(zap.NewNop())
	c1 := testConnection("u1")
	c2 := testConnection("u2")
	c3 := testConnection("u3")
	f.Add("u1", c1)
	f.Add("u2", c2)
	f.Add("u3", c3)

	f.Broadcast([]string{"u1", "u2"}, Frame{Type: "notice"})

	if len(c1.send) != 1 {
		t.Error("expected u1 to receive the broadcast")
	}
	if len(c2.send) != 1 {
		t.Error("expected u2 to receive the broadcast")
	}
	if len(c3.send) != 0 {
		t.Error("expected u3, not in the recipient list, to receive nothing")
	}
}

func TestFanout_SendFailureDoesNotAbortRemainingSends(t *testing.T) {
	f := NewFanout(zap.NewNop())
	full := testConnection("u1")
	// fill the channel so enqueue fails for this connection
	for i := 0; i < cap(full.send); i++ {
		full.send <- Frame{Type: "filler"}
	}
	other := testConnection("u2")
	f.Add("u1", full)
	f.Add("u2", other)

	f.Broadcast([]string{"u1", "u2"}, Frame{Type: "notice"})

	select {
	case frame := <-other.send:
		if frame.Type != "notice" {
			t.Errorf("expected 'notice', got %q", frame.Type)
		}
	default:
		t.Error("expected the healthy connection to still receive the broadcast")
	}
}

func TestFanout_AllUserIDs(t *testing.T) {
	f := NewFanout(zap.NewNop())
	f.Add("u1", testConnection("u1"))
	f.Add("u2", testConnection("u2"))

	ids := f.AllUserIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 user ids, got %d", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["u1"] || !seen["u2"] {
		t.Errorf("expected both u1 and u2, got %v", ids)
	}
}

func TestFanout_ConcurrentAddRemove(t *testing.T) {
	f := NewFanout(zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := testConnection("u1")
			f.Add("u1", c)
			f.Remove("u1", c)
		}(i)
	}
	wg.Wait()

	if got := f.ConnectionCount(); got != 0 {
		t.Fatalf("expected 0 connections after concurrent add/remove, got %d", got)
	}
}
