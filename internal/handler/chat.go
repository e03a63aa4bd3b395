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
	"github.com/go-chi/chi/v5"
)

// ChatStore is the slice of the chat repository the handler needs.
type ChatStore interface {
	CreateGroup(ctx context.Context, name, createdBy string, memberIDs []string) (*model.Chat, error)
	EnsurePrivateChat(ctx context.Context, userA, userB, createdBy string) (*model.Chat, bool, error)
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	GetUserChats(ctx context.Context, userID string) ([]model.Chat, error)
	GetMemberRole(ctx context.Context, chatID, userID string) (string, error)
	GetMembers(ctx context.Context, chatID string) ([]model.UserPublic, []string, error)
	AddMember(ctx context.Context, m *model.ChatMember) error
	UpdateName(ctx context.Context, chatID, name string) error
}

type ChatHandler struct {
	chats ChatStore
	users UserStore
	hub   Notifier
}

func NewChatHandler(chats ChatStore, users UserStore, hub Notifier) *ChatHandler {
	return &ChatHandler{chats: chats, users: users, hub: hub}
}

type CreateChatRequest struct {
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type UpdateChatRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	switch model.ChatType(req.Type) {
	case model.ChatTypePrivate:
		h.createPrivate(w, r, req)
	case model.ChatTypeGroup:
		h.createGroup(w, r, req)
	default:
		writeError(w, http.StatusBadRequest, "type must be private or group")
	}
}

// createPrivate opens (or returns) the single chat for the pair.
func (h *ChatHandler) createPrivate(w http.ResponseWriter, r *http.Request, req CreateChatRequest) {
	userID := middleware.GetUserID(r.Context())
	others := dedupe(req.Participants, userID)
	if len(others) != 1 {
		writeError(w, http.StatusBadRequest, "private chat requires exactly one other participant")
		return
	}
	other := others[0]

	if _, err := h.users.GetByID(r.Context(), other); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("create private chat lookup %s: %v", other, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	chat, created, err := h.chats.EnsurePrivateChat(r.Context(), userID, other, userID)
	if err != nil {
		logger.Errorf("create private chat %s/%s: %v", userID, other, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if created {
		h.hub.SubscribeUser(chat.ID, userID)
		h.hub.SubscribeUser(chat.ID, other)
	}

	enriched, err := h.enrich(r.Context(), chat)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, enriched)
}

func (h *ChatHandler) createGroup(w http.ResponseWriter, r *http.Request, req CreateChatRequest) {
	userID := middleware.GetUserID(r.Context())
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required for group chats")
		return
	}

	members := dedupe(req.Participants, userID)
	chat, err := h.chats.CreateGroup(r.Context(), name, userID, members)
	if err != nil {
		logger.Errorf("create group chat: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.hub.SubscribeUser(chat.ID, userID)
	for _, uid := range members {
		h.hub.SubscribeUser(chat.ID, uid)
	}

	enriched, err := h.enrich(r.Context(), chat)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, enriched)
}

// List returns the caller's chats, newest activity first, participants
// populated with public fields.
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	chats, err := h.chats.GetUserChats(ctx, userID)
	if err != nil {
		logger.Errorf("list chats %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	result := make([]model.ChatWithParticipants, 0, len(chats))
	for i := range chats {
		enriched, err := h.enrich(ctx, &chats[i])
		if err != nil {
			logger.Errorf("list chats enrich %s: %v", chats[i].ID, err)
			continue
		}
		result = append(result, *enriched)
	}
	writeJSON(w, http.StatusOK, result)
}

// Update renames a group chat or adds participants. Admin only.
func (h *ChatHandler) Update(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	var req UpdateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	chat, err := h.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		logger.Errorf("update chat get %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if chat.ChatType != model.ChatTypeGroup {
		writeError(w, http.StatusBadRequest, "only group chats can be updated")
		return
	}

	role, err := h.chats.GetMemberRole(ctx, chatID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusForbidden, "not a member of this chat")
			return
		}
		logger.Errorf("update chat role %s: %v", chatID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if role != "admin" {
		writeError(w, http.StatusForbidden, "admin rights required")
		return
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		if err := h.chats.UpdateName(ctx, chatID, name); err != nil {
			logger.Errorf("update chat name %s: %v", chatID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		chat.Name = name
	}

	now := time.Now().UTC()
	for _, uid := range dedupe(req.Participants, "") {
		if _, err := h.users.GetByID(ctx, uid); err != nil {
			continue
		}
		member := &model.ChatMember{ChatID: chatID, UserID: uid, Role: "member", JoinedAt: now}
		if err := h.chats.AddMember(ctx, member); err != nil {
			logger.Errorf("update chat add member %s->%s: %v", uid, chatID, err)
			continue
		}
		h.hub.SubscribeUser(chatID, uid)
	}

	enriched, err := h.enrich(ctx, chat)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, enriched)
}

func (h *ChatHandler) enrich(ctx context.Context, chat *model.Chat) (*model.ChatWithParticipants, error) {
	participants, admins, err := h.chats.GetMembers(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	return &model.ChatWithParticipants{
		Chat:         *chat,
		Participants: participants,
		Admins:       admins,
	}, nil
}

// dedupe drops duplicates and the excluded id while keeping order.
func dedupe(ids []string, exclude string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
