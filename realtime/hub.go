package realtime

import "sync"

// sessionBuffer is the per-session frame buffer. A session that falls this
// far behind starts losing frames rather than stalling the fan-out.
const sessionBuffer = 16

// Hub tracks live streaming sessions keyed by board and fans frames out to
// them. Delivery is best effort.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan []byte]struct{}{}}
}

// Join registers a new session on boardID and returns its frame channel.
func (h *Hub) Join(boardID string) chan []byte {
	ch := make(chan []byte, sessionBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.subs[boardID]
	if !ok {
		sessions = map[chan []byte]struct{}{}
		h.subs[boardID] = sessions
	}
	sessions[ch] = struct{}{}
	return ch
}

// Leave removes a session and closes its channel.
func (h *Hub) Leave(boardID string, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.subs[boardID]
	if !ok {
		return
	}
	if _, ok := sessions[ch]; !ok {
		return
	}
	delete(sessions, ch)
	if len(sessions) == 0 {
		delete(h.subs, boardID)
	}
	close(ch)
}

// Broadcast sends frame to every session on boardID. Sessions with a full
// buffer are skipped.
func (h *Hub) Broadcast(boardID string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[boardID] {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Sessions reports the number of live sessions on boardID.
func (h *Hub) Sessions(boardID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[boardID])
}
