package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/convo/internal/model"
	"github.com/convo/internal/repository"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type searchableUsers struct {
	users []*model.User
}

func (s *searchableUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *searchableUsers) UpdateUsername(_ context.Context, id, username string) error {
	for _, u := range s.users {
		if u.ID != id && u.Username == username {
			return repository.ErrConflict
		}
	}
	for _, u := range s.users {
		if u.ID == id {
			u.Username = username
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *searchableUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	for _, u := range s.users {
		if u.ID == id {
			u.PasswordHash = passwordHash
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *searchableUsers) Search(_ context.Context, query, excludeID string, limit int) ([]model.User, error) {
	out := []model.User{}
	for _, u := range s.users {
		if u.ID == excludeID {
			continue
		}
		if !strings.Contains(u.Username, query) && !strings.Contains(u.Email, query) {
			continue
		}
		out = append(out, *u)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func searchReq(t *testing.T, h *UserHandler, userID, q string) []model.UserPublic {
	t.Helper()
	req := authedRequest(t, userID, http.MethodGet, "/api/users/search?q="+q, nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var out []model.UserPublic
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestUserSearch(t *testing.T) {
	h := NewUserHandler(&searchableUsers{users: []*model.User{
		{ID: "alice", Username: "alice", Email: "alice@example.com", PasswordHash: "secret"},
		{ID: "bob", Username: "bobby", Email: "bob@example.com"},
		{ID: "carol", Username: "carol", Email: "carol@example.com"},
	}})

	found := searchReq(t, h, "carol", "bob")
	require.Len(t, found, 1)
	require.Equal(t, "bob", found[0].ID)
}

func TestUserSearchExcludesCaller(t *testing.T) {
	h := NewUserHandler(&searchableUsers{users: []*model.User{
		{ID: "alice", Username: "alice", Email: "alice@example.com"},
	}})

	require.Empty(t, searchReq(t, h, "alice", "alice"))
}

func TestUserSearchShortQuery(t *testing.T) {
	h := NewUserHandler(&searchableUsers{users: []*model.User{
		{ID: "alice", Username: "alice", Email: "alice@example.com"},
	}})

	require.Empty(t, searchReq(t, h, "bob", "al"))
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func profileReq(t *testing.T, h *UserHandler, userID string, body UpdateProfileRequest) *httptest.ResponseRecorder {
	t.Helper()
	req := authedRequest(t, userID, http.MethodPut, "/api/users/profile", body)
	rec := httptest.NewRecorder()
	h.UpdateProfile(rec, req)
	return rec
}

func TestUpdateProfileRename(t *testing.T) {
	alice := &model.User{ID: "alice", Username: "alice", Email: "alice@example.com", AuthMethod: model.AuthMethodLocal}
	h := NewUserHandler(&searchableUsers{users: []*model.User{alice}})

	rec := profileReq(t, h, "alice", UpdateProfileRequest{Username: "alice2"})
	require.Equal(t, http.StatusOK, rec.Code)

	var pub model.UserPublic
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pub))
	require.Equal(t, "alice2", pub.Username)
	require.Equal(t, "alice2", alice.Username)
}

func TestUpdateProfileRenameConflict(t *testing.T) {
	alice := &model.User{ID: "alice", Username: "alice", Email: "alice@example.com", AuthMethod: model.AuthMethodLocal}
	bob := &model.User{ID: "bob", Username: "bobby", Email: "bob@example.com", AuthMethod: model.AuthMethodLocal}
	h := NewUserHandler(&searchableUsers{users: []*model.User{alice, bob}})

	rec := profileReq(t, h, "alice", UpdateProfileRequest{Username: "bobby"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "alice", alice.Username)
}

func TestUpdateProfilePasswordChange(t *testing.T) {
	alice := &model.User{
		ID: "alice", Username: "alice", Email: "alice@example.com",
		AuthMethod: model.AuthMethodLocal, PasswordHash: hashOf(t, "oldsecret"),
	}
	h := NewUserHandler(&searchableUsers{users: []*model.User{alice}})

	rec := profileReq(t, h, "alice", UpdateProfileRequest{CurrentPassword: "oldsecret", NewPassword: "newsecret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(alice.PasswordHash), []byte("newsecret")))
}

func TestUpdateProfileWrongCurrentPassword(t *testing.T) {
	alice := &model.User{
		ID: "alice", Username: "alice", Email: "alice@example.com",
		AuthMethod: model.AuthMethodLocal, PasswordHash: hashOf(t, "oldsecret"),
	}
	h := NewUserHandler(&searchableUsers{users: []*model.User{alice}})

	rec := profileReq(t, h, "alice", UpdateProfileRequest{
		Username: "alice2", CurrentPassword: "wrong", NewPassword: "newsecret",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "alice", alice.Username, "failed password check must not apply the rename")
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(alice.PasswordHash), []byte("oldsecret")))
}

func TestUpdateProfilePasswordForOAuthAccount(t *testing.T) {
	alice := &model.User{ID: "alice", Username: "alice", Email: "alice@example.com", AuthMethod: model.AuthMethodGoogle}
	h := NewUserHandler(&searchableUsers{users: []*model.User{alice}})

	rec := profileReq(t, h, "alice", UpdateProfileRequest{CurrentPassword: "x", NewPassword: "newsecret"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProfileShortNewPassword(t *testing.T) {
	alice := &model.User{
		ID: "alice", Username: "alice", Email: "alice@example.com",
		AuthMethod: model.AuthMethodLocal, PasswordHash: hashOf(t, "oldsecret"),
	}
	h := NewUserHandler(&searchableUsers{users: []*model.User{alice}})

	rec := profileReq(t, h, "alice", UpdateProfileRequest{CurrentPassword: "oldsecret", NewPassword: "abc"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProfileNothingToUpdate(t *testing.T) {
	alice := &model.User{ID: "alice", Username: "alice", Email: "alice@example.com", AuthMethod: model.AuthMethodLocal}
	h := NewUserHandler(&searchableUsers{users: []*model.User{alice}})

	rec := profileReq(t, h, "alice", UpdateProfileRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserSearchPublicFieldsOnly(t *testing.T) {
	h := NewUserHandler(&searchableUsers{users: []*model.User{
		{ID: "alice", Username: "alice", Email: "alice@example.com", PasswordHash: "secret"},
	}})

	req := authedRequest(t, "bob", http.MethodGet, "/api/users/search?q=alice", nil)
	rec := httptest.NewRecorder()
	h.Search(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret")
}
