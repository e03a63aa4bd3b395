package ws

import (
	"context"
	"sync"
	"time"

	"github.com/convo/internal/logger"
)

// ChatDirectory answers chat membership questions. Implemented by
// repository.ChatRepository.
type ChatDirectory interface {
	GetChatIDsByParticipant(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

// Hub tracks live connections twice over: sessions index connections by
// user id (one user may hold several), rooms index them by chat id for
// fan-out. Both maps share one mutex so a connection never appears in a
// room it has already left.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	total    int
	maxConns int

	dir ChatDirectory

	// lifecycle carries register and unregister events through one channel:
	// FIFO order guarantees a connection's register is processed before its
	// unregister, even when it drops immediately after the handshake.
	lifecycle chan lifecycleEvent
	done      chan struct{}
}

type lifecycleEvent struct {
	client   *Client
	register bool
}

func NewHub(dir ChatDirectory, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		sessions:  make(map[string]map[*Client]struct{}),
		rooms:     make(map[string]map[*Client]struct{}),
		maxConns:  maxConns,
		dir:       dir,
		lifecycle: make(chan lifecycleEvent, 128),
		done:      make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case ev := <-h.lifecycle:
			if ev.register {
				h.addClient(ev.client)
			} else {
				h.removeClient(ev.client)
			}
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.sessions {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.sessions = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

// addClient registers the connection and subscribes it to every chat the
// user participates in, so a fresh connection receives messages without
// an explicit joinChat per chat.
func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.sessions[c.userID]; !ok {
		h.sessions[c.userID] = make(map[*Client]struct{})
	}
	h.sessions[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	chatIDs, err := h.dir.GetChatIDsByParticipant(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws auto-subscribe user=%s: %v", c.userID, err)
		return
	}

	h.mu.Lock()
	// The connection may already be gone if the socket dropped during the
	// directory lookup.
	if _, ok := h.sessions[c.userID][c]; ok {
		for _, id := range chatIDs {
			h.joinRoomLocked(c, id)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.sessions[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.sessions, c.userID)
	}
	for id := range c.rooms {
		h.leaveRoomLocked(c, id)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

func (h *Hub) joinRoomLocked(c *Client, chatID string) {
	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[chatID] = room
	}
	room[c] = struct{}{}
	c.rooms[chatID] = struct{}{}
}

func (h *Hub) leaveRoomLocked(c *Client, chatID string) {
	delete(c.rooms, chatID)
	room, ok := h.rooms[chatID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, chatID)
	}
}

// HandleEvent dispatches incoming WebSocket events. Malformed or
// unauthorized events are dropped without a reply.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev IncomingEvent) {
	switch ev.Type {
	case EventJoinChat:
		h.handleJoinChat(ctx, c, ev)
	case EventLeaveChat:
		h.handleLeaveChat(c, ev)
	case EventTyping:
		h.handleTyping(c, ev, EventUserTyping)
	case EventStopTyping:
		h.handleTyping(c, ev, EventUserStoppedTyping)
	default:
		logger.Infof("ws unknown event %q user=%s", ev.Type, c.userID)
	}
}

// handleJoinChat re-checks membership against the directory: a client may
// only subscribe to chats it participates in. Non-members are ignored.
func (h *Hub) handleJoinChat(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.ChatID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	isMember, err := h.dir.IsMember(ctx, ev.ChatID, c.userID)
	if err != nil {
		logger.Errorf("ws join check chat=%s user=%s: %v", ev.ChatID, c.userID, err)
		return
	}
	if !isMember {
		return
	}

	h.mu.Lock()
	h.joinRoomLocked(c, ev.ChatID)
	h.mu.Unlock()
}

func (h *Hub) handleLeaveChat(c *Client, ev IncomingEvent) {
	if ev.ChatID == "" {
		return
	}
	h.mu.Lock()
	h.leaveRoomLocked(c, ev.ChatID)
	h.mu.Unlock()
}

// handleTyping relays typing state to the room. The typist's own
// connections are skipped: membership is implied by the room check.
func (h *Hub) handleTyping(c *Client, ev IncomingEvent, out EventType) {
	if ev.ChatID == "" {
		return
	}
	h.mu.RLock()
	if _, ok := c.rooms[ev.ChatID]; !ok {
		h.mu.RUnlock()
		return
	}
	targets := h.roomTargetsLocked(ev.ChatID, c.userID)
	h.mu.RUnlock()

	msg := OutgoingEvent{Type: out, Payload: TypingPayload{ChatID: ev.ChatID, UserID: c.userID}}
	for _, t := range targets {
		h.sendToClient(t, msg)
	}
}

// roomTargetsLocked snapshots a room's connections, skipping those owned
// by exceptUserID. Caller holds h.mu.
func (h *Hub) roomTargetsLocked(chatID, exceptUserID string) []*Client {
	room, ok := h.rooms[chatID]
	if !ok {
		return nil
	}
	targets := make([]*Client, 0, len(room))
	for c := range room {
		if exceptUserID != "" && c.userID == exceptUserID {
			continue
		}
		targets = append(targets, c)
	}
	return targets
}

// BroadcastToRoom sends the event to every connection subscribed to the
// chat, the sender's connections included.
func (h *Hub) BroadcastToRoom(chatID string, ev OutgoingEvent) {
	defer logger.DeferLogDuration("ws.BroadcastToRoom", time.Now())()
	h.mu.RLock()
	targets := h.roomTargetsLocked(chatID, "")
	h.mu.RUnlock()
	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// SendToUser delivers the event to all of the user's live connections.
// No-op when the user is offline.
func (h *Hub) SendToUser(userID string, ev OutgoingEvent) {
	h.mu.RLock()
	clients, ok := h.sessions[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// SubscribeUser adds all of the user's live connections to a chat's room.
// Called when a chat is created while its members are already online.
func (h *Hub) SubscribeUser(chatID, userID string) {
	h.mu.Lock()
	for c := range h.sessions[userID] {
		h.joinRoomLocked(c, chatID)
	}
	h.mu.Unlock()
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID]) > 0
}

func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.lifecycle <- lifecycleEvent{client: c, register: true}:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.lifecycle <- lifecycleEvent{client: c}:
	case <-h.done:
	}
}
