package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/middleware"
	"github.com/convo/internal/model"
	"github.com/convo/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

const searchLimit = 20

// ProfileStore is the slice of the user repository the profile endpoints need.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	Search(ctx context.Context, query, excludeID string, limit int) ([]model.User, error)
	UpdateUsername(ctx context.Context, id, username string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

type UserHandler struct {
	users ProfileStore
}

func NewUserHandler(users ProfileStore) *UserHandler {
	return &UserHandler{users: users}
}

// Search matches username or email by substring. Queries shorter than
// three characters return an empty list rather than scanning everyone.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 3 {
		writeJSON(w, http.StatusOK, []model.UserPublic{})
		return
	}

	userID := middleware.GetUserID(r.Context())
	found, err := h.users.Search(r.Context(), q, userID, searchLimit)
	if err != nil {
		logger.Errorf("user search %q: %v", q, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	result := make([]model.UserPublic, 0, len(found))
	for i := range found {
		result = append(result, found[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, result)
}

type UpdateProfileRequest struct {
	Username        string `json:"username"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// UpdateProfile renames the caller and/or changes their password. A password
// change needs the current one and only works for local accounts. Validation
// runs fully before any write, so a failed password check leaves the
// username untouched too.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("profile get user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	username := strings.TrimSpace(req.Username)
	changePassword := req.CurrentPassword != "" && req.NewPassword != ""
	if username == "" && !changePassword {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	if changePassword {
		if u.AuthMethod != model.AuthMethodLocal || u.PasswordHash == "" {
			writeError(w, http.StatusBadRequest, "password change requires a local account")
			return
		}
		if len(req.NewPassword) < minPasswordLen {
			writeError(w, http.StatusBadRequest, "password too short")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.CurrentPassword)) != nil {
			writeError(w, http.StatusUnauthorized, "current password is incorrect")
			return
		}
	}

	if username != "" && username != u.Username {
		if err := h.users.UpdateUsername(ctx, userID, username); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				writeError(w, http.StatusConflict, "username already taken")
				return
			}
			logger.Errorf("profile rename %s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		u.Username = username
	}

	if changePassword {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			logger.Errorf("profile hash %s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err := h.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
			logger.Errorf("profile set password %s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	writeJSON(w, http.StatusOK, u.ToPublic())
}
