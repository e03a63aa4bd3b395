package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/middleware"
	"github.com/convo/internal/model"
	"github.com/convo/internal/repository"
	"github.com/convo/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 50
	maxContentLen   = 4000
)

// MessageStore is the slice of the message repository the handler needs.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	ListBefore(ctx context.Context, chatID string, before *model.MessageCursor, limit int) ([]model.Message, error)
	CountBefore(ctx context.Context, chatID string, before model.MessageCursor) (int, error)
}

// MembershipChecker guards chat access. Implemented by repository.ChatRepository.
type MembershipChecker interface {
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
}

// Broadcaster fans an event out to a chat room. Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastToRoom(chatID string, ev ws.OutgoingEvent)
}

type MessageHandler struct {
	messages MessageStore
	chats    MembershipChecker
	users    UserStore
	hub      Broadcaster
	pageSize int
}

func NewMessageHandler(messages MessageStore, chats MembershipChecker, users UserStore, hub Broadcaster, pageSize int) *MessageHandler {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &MessageHandler{messages: messages, chats: chats, users: users, hub: hub, pageSize: pageSize}
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

// authorize resolves the chat and checks the caller's membership, writing
// the appropriate error response itself. Returns false when the caller may
// not touch the chat.
func (h *MessageHandler) authorize(w http.ResponseWriter, ctx context.Context, chatID, userID string) bool {
	if _, err := h.chats.GetByID(ctx, chatID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return false
		}
		logger.Errorf("message chat lookup %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	isMember, err := h.chats.IsMember(ctx, chatID, userID)
	if err != nil {
		logger.Errorf("message membership chat=%s user=%s: %v", chatID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a participant of this chat")
		return false
	}
	return true
}

// Send persists the message and broadcasts it to the chat room. The stored
// content is the trimmed form.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(content) > maxContentLen {
		writeError(w, http.StatusBadRequest, "content too long")
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if !h.authorize(w, ctx, chatID, userID) {
		return
	}

	m := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		SenderID:  userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.messages.Create(ctx, m); err != nil {
		logger.Errorf("send message save chat=%s user=%s: %v", chatID, userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if sender, err := h.users.GetByID(ctx, userID); err == nil {
		pub := sender.ToPublic()
		m.Sender = &pub
	} else {
		logger.Errorf("send message sender lookup %s: %v", userID, err)
	}

	h.hub.BroadcastToRoom(chatID, ws.OutgoingEvent{Type: ws.EventNewMessage, Payload: m})
	writeJSON(w, http.StatusCreated, m)
}

// Get returns a newest-first page of chat history. The before/beforeId pair
// is an exclusive cursor: passing the oldest message of the previous page
// never repeats or skips one, even across equal timestamps.
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if !h.authorize(w, ctx, chatID, userID) {
		return
	}

	var before *model.MessageCursor
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC3339 timestamp")
			return
		}
		before = &model.MessageCursor{CreatedAt: t, ID: r.URL.Query().Get("beforeId")}
	}

	limit := queryInt(r, "limit", h.pageSize)
	if limit <= 0 || limit > h.pageSize {
		limit = h.pageSize
	}

	messages, err := h.messages.ListBefore(ctx, chatID, before, limit)
	if err != nil {
		logger.Errorf("get messages chat=%s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	hasMore := false
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		oldest := model.MessageCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		remaining, err := h.messages.CountBefore(ctx, chatID, oldest)
		if err != nil {
			logger.Errorf("get messages count chat=%s: %v", chatID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		hasMore = remaining > 0
	}

	writeJSON(w, http.StatusOK, model.MessagePage{Messages: messages, HasMore: hasMore})
}
