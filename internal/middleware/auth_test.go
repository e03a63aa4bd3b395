package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/convo/internal/storage/memory"
	"github.com/convo/internal/token"
	"github.com/stretchr/testify/require"
)

func newAuthChain(t *testing.T) (*token.Manager, *memory.Client, http.Handler) {
	t.Helper()
	tokens := token.NewManager("test-secret", time.Hour)
	store := memory.New()
	var gotUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = GetUserID(r.Context())
		w.Write([]byte(gotUserID))
	})
	return tokens, store, Auth(tokens, store)(next)
}

func TestAuthFromCookie(t *testing.T) {
	tokens, _, h := newAuthChain(t)
	signed, err := tokens.Issue("user-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: signed})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", rec.Body.String())
}

func TestAuthFromBearerHeader(t *testing.T) {
	tokens, _, h := newAuthChain(t)
	signed, err := tokens.Issue("user-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", rec.Body.String())
}

func TestAuthFromQuery(t *testing.T) {
	tokens, _, h := newAuthChain(t)
	signed, err := tokens.Issue("user-1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+signed, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMissingToken(t *testing.T) {
	_, _, h := newAuthChain(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthInvalidToken(t *testing.T) {
	_, _, h := newAuthChain(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRevokedToken(t *testing.T) {
	tokens, store, h := newAuthChain(t)
	signed, err := tokens.Issue("user-1")
	require.NoError(t, err)
	claims, err := tokens.Verify(signed)
	require.NoError(t, err)
	require.NoError(t, store.RevokeToken(context.Background(), claims.TokenID, time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
