package ws

import "testing"

// newStuckClient returns a registered client with a tiny send buffer and no
// running pumps, simulating a consumer that has stopped draining.
func newStuckClient(h *Hub) *client {
	c := &client{id: "stuck", send: make(chan []byte, 1)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func TestBroadcast_FullBufferEvicts(t *testing.T) {
	h := New()
	c := newStuckClient(h)

	n := Notice{Pipeline: "p", Repo: "r", Status: "success", Provider: "github"}
	h.Broadcast(n) // fills the one-slot buffer
	h.Broadcast(n) // buffer full — client must be evicted

	if got := h.Count(); got != 0 {
		t.Errorf("Count after eviction: got %d, want 0", got)
	}

	// The send channel is drained then closed.
	if _, ok := <-c.send; !ok {
		t.Fatal("send: expected one buffered message before close")
	}
	if _, ok := <-c.send; ok {
		t.Error("send: expected channel closed after eviction")
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	h := New()
	c := newStuckClient(h)

	h.unregister(c)
	h.unregister(c) // second removal is a no-op, not a panic

	if got := h.Count(); got != 0 {
		t.Errorf("Count: got %d, want 0", got)
	}
}
