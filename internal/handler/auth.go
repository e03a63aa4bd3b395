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
	"github.com/convo/internal/storage"
	"github.com/convo/internal/token"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 6

// UserStore is the slice of the user repository the auth endpoints need.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error)
}

type AuthHandler struct {
	users  UserStore
	tokens *token.Manager
	store  storage.AuthStore
}

func NewAuthHandler(users UserStore, tokens *token.Manager, store storage.AuthStore) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, store: store}
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User  model.UserPublic `json:"user"`
	Token string           `json:"token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "password too short")
		return
	}
	if !h.allow(r, "register:"+clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Errorf("register hash: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hash),
		AuthMethod:   model.AuthMethodLocal,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			writeError(w, http.StatusConflict, "email or username already in use")
			return
		}
		logger.Errorf("register create user: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	signed, err := h.tokens.Issue(u.ID)
	if err != nil {
		logger.Errorf("register issue token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.setTokenCookie(w, signed)
	writeJSON(w, http.StatusCreated, authResponse{User: u.ToPublic(), Token: signed})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	identifier := strings.ToLower(strings.TrimSpace(req.Email))
	if identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if !h.allow(r, "login:"+identifier) || !h.allow(r, "login:"+clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	u, err := h.users.GetByUsernameOrEmail(r.Context(), identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		logger.Errorf("login lookup %s: %v", identifier, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if u.AuthMethod != model.AuthMethodLocal || u.PasswordHash == "" {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	signed, err := h.tokens.Issue(u.ID)
	if err != nil {
		logger.Errorf("login issue token: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.setTokenCookie(w, signed)
	writeJSON(w, http.StatusOK, authResponse{User: u.ToPublic(), Token: signed})
}

// Logout adds the token's jti to the denylist. The full token TTL is used
// as expiry, which can only outlive the token itself.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	jti := middleware.GetTokenID(r.Context())
	if jti != "" {
		if err := h.store.RevokeToken(r.Context(), jti, h.tokens.TTL()); err != nil {
			logger.Errorf("logout revoke %s: %v", middleware.MaskToken(jti), err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "user not found")
			return
		}
		logger.Errorf("me get user %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, signed string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    signed,
		Path:     "/",
		MaxAge:   int(h.tokens.TTL() / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) allow(r *http.Request, key string) bool {
	ok, err := h.store.CheckRateLimit(r.Context(), key)
	if err != nil {
		// Rate limit store being down must not lock everyone out.
		logger.Errorf("auth rate limit %s: %v", key, err)
		return true
	}
	return ok
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		if idx := strings.Index(x, ","); idx > 0 {
			return strings.TrimSpace(x[:idx])
		}
		return x
	}
	return r.RemoteAddr
}
