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

// FriendStore is the slice of the friend repository the handler needs.
type FriendStore interface {
	Create(ctx context.Context, fr *model.FriendRequest) error
	GetByID(ctx context.Context, id string) (*model.FriendRequest, error)
	GetByPair(ctx context.Context, userA, userB string) (*model.FriendRequest, error)
	Reactivate(ctx context.Context, id, requesterID, recipientID string) (*model.FriendRequest, error)
	UpdateStatus(ctx context.Context, id string, status model.FriendRequestStatus) (*model.FriendRequest, error)
	ListSent(ctx context.Context, userID string, status model.FriendRequestStatus) ([]model.FriendRequest, error)
	ListReceived(ctx context.Context, userID string, status model.FriendRequestStatus) ([]model.FriendRequest, error)
	ListFriends(ctx context.Context, userID string) ([]model.UserPublic, error)
}

// ChatCreator provisions the private chat that an accepted request opens.
type ChatCreator interface {
	EnsurePrivateChat(ctx context.Context, userA, userB, createdBy string) (*model.Chat, bool, error)
}

// Notifier pushes events to live sessions. Implemented by ws.Hub.
type Notifier interface {
	SendToUser(userID string, ev ws.OutgoingEvent)
	SubscribeUser(chatID, userID string)
}

type FriendHandler struct {
	friends FriendStore
	users   UserStore
	chats   ChatCreator
	hub     Notifier
}

func NewFriendHandler(friends FriendStore, users UserStore, chats ChatCreator, hub Notifier) *FriendHandler {
	return &FriendHandler{friends: friends, users: users, chats: chats, hub: hub}
}

type SendFriendRequestRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
}

type ResolveFriendRequestRequest struct {
	Status string `json:"status"`
}

// pendingConflictResponse is returned when the target already sent the
// caller a pending request. The client offers to accept it instead.
type pendingConflictResponse struct {
	Error           string `json:"error"`
	Message         string `json:"message"`
	IncomingRequest bool   `json:"incomingRequest"`
	RequestID       string `json:"requestId"`
}

// SendRequest creates a pending friend request toward the user matching
// usernameOrEmail. A rejected request between the pair is reactivated with
// the caller as the new requester, whichever side rejected it before.
func (h *FriendHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	var req SendFriendRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	identifier := strings.ToLower(strings.TrimSpace(req.UsernameOrEmail))
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "usernameOrEmail is required")
		return
	}

	requesterID := middleware.GetUserID(r.Context())
	target, err := h.users.GetByUsernameOrEmail(r.Context(), identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("friend request lookup %q: %v", identifier, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if target.ID == requesterID {
		writeError(w, http.StatusBadRequest, "cannot send a friend request to yourself")
		return
	}

	existing, err := h.friends.GetByPair(r.Context(), requesterID, target.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("friend request pair lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if existing != nil {
		h.handleExisting(w, r, existing, requesterID, target)
		return
	}

	now := time.Now().UTC()
	fr := &model.FriendRequest{
		ID:          uuid.New().String(),
		RequesterID: requesterID,
		RecipientID: target.ID,
		Status:      model.FriendStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.friends.Create(r.Context(), fr); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Lost the race against a concurrent request for the same pair.
			// Re-read and classify that one instead.
			existing, err := h.friends.GetByPair(r.Context(), requesterID, target.ID)
			if err != nil {
				logger.Errorf("friend request re-read after conflict: %v", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			h.handleExisting(w, r, existing, requesterID, target)
			return
		}
		logger.Errorf("friend request create: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.attachProfiles(r.Context(), fr)
	h.emitRequest(fr)
	writeJSON(w, http.StatusCreated, fr)
}

// handleExisting classifies a request already present for the pair.
func (h *FriendHandler) handleExisting(w http.ResponseWriter, r *http.Request, existing *model.FriendRequest, requesterID string, target *model.User) {
	switch existing.Status {
	case model.FriendStatusAccepted:
		writeError(w, http.StatusConflict, "already friends")

	case model.FriendStatusPending:
		if existing.RequesterID == requesterID {
			writeError(w, http.StatusConflict, "friend request already sent")
			return
		}
		writeJSON(w, http.StatusConflict, pendingConflictResponse{
			Error:           "pending request exists",
			Message:         "this user already sent you a friend request",
			IncomingRequest: true,
			RequestID:       existing.ID,
		})

	case model.FriendStatusRejected:
		fr, err := h.friends.Reactivate(r.Context(), existing.ID, requesterID, target.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Status changed between read and update; treat as a
				// plain conflict rather than retrying forever.
				writeError(w, http.StatusConflict, "friend request already exists")
				return
			}
			logger.Errorf("friend request reactivate %s: %v", existing.ID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		h.attachProfiles(r.Context(), fr)
		h.emitRequest(fr)
		writeJSON(w, http.StatusCreated, fr)

	default:
		logger.Errorf("friend request %s has unknown status %q", existing.ID, existing.Status)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ResolveRequest lets the recipient accept or reject a pending request.
// Accepting opens the pair's private chat, creating it at most once.
func (h *FriendHandler) ResolveRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	var req ResolveFriendRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID := middleware.GetUserID(r.Context())
	fr, err := h.friends.GetByID(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "friend request not found")
			return
		}
		logger.Errorf("friend request get %s: %v", requestID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if fr.RecipientID != userID {
		writeError(w, http.StatusForbidden, "only the recipient can resolve a friend request")
		return
	}
	status := model.FriendRequestStatus(req.Status)
	if status != model.FriendStatusAccepted && status != model.FriendStatusRejected {
		writeError(w, http.StatusBadRequest, "status must be accepted or rejected")
		return
	}
	if fr.Status != model.FriendStatusPending {
		writeError(w, http.StatusConflict, "friend request already resolved")
		return
	}

	updated, err := h.friends.UpdateStatus(r.Context(), requestID, status)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Another resolution won the race.
			writeError(w, http.StatusConflict, "friend request already resolved")
			return
		}
		logger.Errorf("friend request update %s: %v", requestID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if status == model.FriendStatusAccepted {
		chat, created, err := h.chats.EnsurePrivateChat(r.Context(), updated.RequesterID, updated.RecipientID, userID)
		if err != nil {
			logger.Errorf("friend request %s open chat: %v", requestID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if created {
			h.hub.SubscribeUser(chat.ID, updated.RequesterID)
			h.hub.SubscribeUser(chat.ID, updated.RecipientID)
		}
	}

	h.attachProfiles(r.Context(), updated)
	ev := ws.OutgoingEvent{Type: ws.EventFriendRequestUpdate, Payload: updated}
	h.hub.SendToUser(updated.RequesterID, ev)
	h.hub.SendToUser(updated.RecipientID, ev)
	writeJSON(w, http.StatusOK, updated)
}

// GetFriends returns the caller's accepted relationships flattened to the
// other side's public identity.
func (h *FriendHandler) GetFriends(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	friends, err := h.friends.ListFriends(r.Context(), userID)
	if err != nil {
		logger.Errorf("list friends %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

type friendRequestsResponse struct {
	Sent     []model.FriendRequest `json:"sent"`
	Received []model.FriendRequest `json:"received"`
}

func (h *FriendHandler) GetRequests(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sent, err := h.friends.ListSent(r.Context(), userID, model.FriendStatusPending)
	if err != nil {
		logger.Errorf("list sent requests %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	received, err := h.friends.ListReceived(r.Context(), userID, model.FriendStatusPending)
	if err != nil {
		logger.Errorf("list received requests %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, friendRequestsResponse{Sent: sent, Received: received})
}

// emitRequest notifies both sides of a new pending request: the recipient
// sees it arrive, the requester's other sessions see it as sent.
func (h *FriendHandler) emitRequest(fr *model.FriendRequest) {
	h.hub.SendToUser(fr.RecipientID, ws.OutgoingEvent{Type: ws.EventFriendRequest, Payload: fr})
	h.hub.SendToUser(fr.RequesterID, ws.OutgoingEvent{Type: ws.EventFriendRequestUpdate, Payload: fr})
}

func (h *FriendHandler) attachProfiles(ctx context.Context, fr *model.FriendRequest) {
	if u, err := h.users.GetByID(ctx, fr.RequesterID); err == nil {
		pub := u.ToPublic()
		fr.Requester = &pub
	}
	if u, err := h.users.GetByID(ctx, fr.RecipientID); err == nil {
		pub := u.ToPublic()
		fr.Recipient = &pub
	}
}
