package devserver

import (
	"sync"

	"github.com/coder/websocket"
)

// client is one accepted chat socket.
type client struct {
	userID int64
	conn   *websocket.Conn
	frames chan []byte
}

func newClient(userID int64, conn *websocket.Conn) *client {
	return &client{
		userID: userID,
		conn:   conn,
		frames: make(chan []byte, 64),
	}
}

// hub groups sockets by user id.
type hub struct {
	mu      sync.Mutex
	clients map[int64]map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[int64]map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// send queues a frame for every socket of the given users.
func (h *hub) send(frame []byte, userIDs ...int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range userIDs {
		for c := range h.clients[id] {
			select {
			case c.frames <- frame:
			default:
				// Drop if slow consumer.
			}
		}
	}
}

// count returns the number of open sockets of a user.
func (h *hub) count(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// closeAll drops every socket with the given status.
func (h *hub) closeAll(status websocket.StatusCode, reason string) {
	h.mu.Lock()
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		c.conn.Close(status, reason)
	}
}
