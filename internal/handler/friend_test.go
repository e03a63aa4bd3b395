package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/convo/internal/middleware"
	"github.com/convo/internal/model"
	"github.com/convo/internal/repository"
	"github.com/convo/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeUsers struct {
	byID map[string]*model.User
}

func newFakeUsers(users ...*model.User) *fakeUsers {
	f := &fakeUsers{byID: make(map[string]*model.User)}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	for _, existing := range f.byID {
		if existing.Email == u.Email || (u.Username != "" && existing.Username == u.Username) {
			return repository.ErrConflict
		}
	}
	f.byID[u.ID] = u
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByUsernameOrEmail(_ context.Context, identifier string) (*model.User, error) {
	for _, u := range f.byID {
		if u.Email == identifier || u.Username == identifier {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeFriends struct {
	mu   sync.Mutex
	byID map[string]*model.FriendRequest
}

func newFakeFriends() *fakeFriends {
	return &fakeFriends{byID: make(map[string]*model.FriendRequest)}
}

func (f *fakeFriends) Create(_ context.Context, fr *model.FriendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.PairKey(fr.RequesterID, fr.RecipientID)
	for _, existing := range f.byID {
		if model.PairKey(existing.RequesterID, existing.RecipientID) == key {
			return repository.ErrConflict
		}
	}
	cp := *fr
	f.byID[fr.ID] = &cp
	return nil
}

func (f *fakeFriends) GetByID(_ context.Context, id string) (*model.FriendRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *fr
	return &cp, nil
}

func (f *fakeFriends) GetByPair(_ context.Context, userA, userB string) (*model.FriendRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.PairKey(userA, userB)
	for _, fr := range f.byID {
		if model.PairKey(fr.RequesterID, fr.RecipientID) == key {
			cp := *fr
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeFriends) Reactivate(_ context.Context, id, requesterID, recipientID string) (*model.FriendRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.byID[id]
	if !ok || fr.Status != model.FriendStatusRejected {
		return nil, repository.ErrNotFound
	}
	fr.RequesterID = requesterID
	fr.RecipientID = recipientID
	fr.Status = model.FriendStatusPending
	fr.UpdatedAt = time.Now().UTC()
	cp := *fr
	return &cp, nil
}

func (f *fakeFriends) UpdateStatus(_ context.Context, id string, status model.FriendRequestStatus) (*model.FriendRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fr, ok := f.byID[id]
	if !ok || fr.Status != model.FriendStatusPending {
		return nil, repository.ErrNotFound
	}
	fr.Status = status
	fr.UpdatedAt = time.Now().UTC()
	cp := *fr
	return &cp, nil
}

func (f *fakeFriends) ListSent(_ context.Context, userID string, status model.FriendRequestStatus) ([]model.FriendRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.FriendRequest{}
	for _, fr := range f.byID {
		if fr.RequesterID == userID && fr.Status == status {
			out = append(out, *fr)
		}
	}
	return out, nil
}

func (f *fakeFriends) ListReceived(_ context.Context, userID string, status model.FriendRequestStatus) ([]model.FriendRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.FriendRequest{}
	for _, fr := range f.byID {
		if fr.RecipientID == userID && fr.Status == status {
			out = append(out, *fr)
		}
	}
	return out, nil
}

func (f *fakeFriends) ListFriends(_ context.Context, userID string) ([]model.UserPublic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.UserPublic{}
	for _, fr := range f.byID {
		if fr.Status != model.FriendStatusAccepted {
			continue
		}
		switch userID {
		case fr.RequesterID:
			out = append(out, model.UserPublic{ID: fr.RecipientID})
		case fr.RecipientID:
			out = append(out, model.UserPublic{ID: fr.RequesterID})
		}
	}
	return out, nil
}

type fakeChats struct {
	mu      sync.Mutex
	byPair  map[string]*model.Chat
	created int
}

func newFakeChats() *fakeChats {
	return &fakeChats{byPair: make(map[string]*model.Chat)}
}

func (f *fakeChats) EnsurePrivateChat(_ context.Context, userA, userB, createdBy string) (*model.Chat, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := model.PairKey(userA, userB)
	if chat, ok := f.byPair[key]; ok {
		return chat, false, nil
	}
	f.created++
	chat := &model.Chat{
		ID:        fmt.Sprintf("chat-%d", f.created),
		ChatType:  model.ChatTypePrivate,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	f.byPair[key] = chat
	return chat, true, nil
}

type sentEvent struct {
	userID string
	ev     ws.OutgoingEvent
}

type fakeHub struct {
	mu         sync.Mutex
	sent       []sentEvent
	subscribed map[string][]string
}

func newFakeHub() *fakeHub {
	return &fakeHub{subscribed: make(map[string][]string)}
}

func (f *fakeHub) SendToUser(userID string, ev ws.OutgoingEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{userID: userID, ev: ev})
}

func (f *fakeHub) SubscribeUser(chatID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[chatID] = append(f.subscribed[chatID], userID)
}

func (f *fakeHub) eventsFor(userID string) []ws.OutgoingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ws.OutgoingEvent
	for _, s := range f.sent {
		if s.userID == userID {
			out = append(out, s.ev)
		}
	}
	return out
}

// --- helpers ---

func authedRequest(t *testing.T, userID, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type friendFixture struct {
	handler *FriendHandler
	friends *fakeFriends
	chats   *fakeChats
	hub     *fakeHub
}

func newFriendFixture(t *testing.T) *friendFixture {
	t.Helper()
	users := newFakeUsers(
		&model.User{ID: "alice", Email: "alice@example.com", Username: "alice"},
		&model.User{ID: "bob", Email: "bob@example.com", Username: "bob"},
	)
	friends := newFakeFriends()
	chats := newFakeChats()
	hub := newFakeHub()
	return &friendFixture{
		handler: NewFriendHandler(friends, users, chats, hub),
		friends: friends,
		chats:   chats,
		hub:     hub,
	}
}

func (f *friendFixture) send(t *testing.T, from, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := authedRequest(t, from, http.MethodPost, "/api/users/friends/requests",
		SendFriendRequestRequest{UsernameOrEmail: target})
	rec := httptest.NewRecorder()
	f.handler.SendRequest(rec, req)
	return rec
}

func (f *friendFixture) resolve(t *testing.T, userID, requestID, status string) *httptest.ResponseRecorder {
	t.Helper()
	req := authedRequest(t, userID, http.MethodPut, "/api/users/friends/requests/"+requestID,
		ResolveFriendRequestRequest{Status: status})
	req = withURLParam(req, "requestID", requestID)
	rec := httptest.NewRecorder()
	f.handler.ResolveRequest(rec, req)
	return rec
}

func decodeRequest(t *testing.T, rec *httptest.ResponseRecorder) model.FriendRequest {
	t.Helper()
	var fr model.FriendRequest
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fr))
	return fr
}

// --- tests ---

func TestSendRequestCreatesPending(t *testing.T) {
	f := newFriendFixture(t)

	rec := f.send(t, "alice", "bob")
	require.Equal(t, http.StatusCreated, rec.Code)

	fr := decodeRequest(t, rec)
	require.Equal(t, "alice", fr.RequesterID)
	require.Equal(t, "bob", fr.RecipientID)
	require.Equal(t, model.FriendStatusPending, fr.Status)
	require.NotNil(t, fr.Requester)
	require.NotNil(t, fr.Recipient)

	bobEvents := f.hub.eventsFor("bob")
	require.Len(t, bobEvents, 1)
	require.Equal(t, ws.EventFriendRequest, bobEvents[0].Type)

	aliceEvents := f.hub.eventsFor("alice")
	require.Len(t, aliceEvents, 1)
	require.Equal(t, ws.EventFriendRequestUpdate, aliceEvents[0].Type)
}

func TestSendRequestByEmail(t *testing.T) {
	f := newFriendFixture(t)
	rec := f.send(t, "alice", "bob@example.com")
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestSendRequestUnknownUser(t *testing.T) {
	f := newFriendFixture(t)
	rec := f.send(t, "alice", "nobody@example.com")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendRequestToSelf(t *testing.T) {
	f := newFriendFixture(t)
	rec := f.send(t, "alice", "alice")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendRequestDuplicate(t *testing.T) {
	f := newFriendFixture(t)
	require.Equal(t, http.StatusCreated, f.send(t, "alice", "bob").Code)

	rec := f.send(t, "alice", "bob")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotContains(t, resp, "incomingRequest")
}

func TestSendRequestReversePendingConflict(t *testing.T) {
	f := newFriendFixture(t)
	first := decodeRequest(t, f.send(t, "alice", "bob"))

	// bob tries to friend alice back while alice's request is pending.
	rec := f.send(t, "bob", "alice")
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp pendingConflictResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.IncomingRequest)
	require.Equal(t, first.ID, resp.RequestID)
}

func TestSendRequestAlreadyFriends(t *testing.T) {
	f := newFriendFixture(t)
	fr := decodeRequest(t, f.send(t, "alice", "bob"))
	require.Equal(t, http.StatusOK, f.resolve(t, "bob", fr.ID, "accepted").Code)

	require.Equal(t, http.StatusConflict, f.send(t, "alice", "bob").Code)
	require.Equal(t, http.StatusConflict, f.send(t, "bob", "alice").Code)
}

func TestSendRequestReactivatesRejected(t *testing.T) {
	f := newFriendFixture(t)
	fr := decodeRequest(t, f.send(t, "alice", "bob"))
	require.Equal(t, http.StatusOK, f.resolve(t, "bob", fr.ID, "rejected").Code)

	// bob re-initiates: same row flips back to pending with bob as requester.
	rec := f.send(t, "bob", "alice")
	require.Equal(t, http.StatusCreated, rec.Code)

	revived := decodeRequest(t, rec)
	require.Equal(t, fr.ID, revived.ID)
	require.Equal(t, "bob", revived.RequesterID)
	require.Equal(t, "alice", revived.RecipientID)
	require.Equal(t, model.FriendStatusPending, revived.Status)
}

func TestResolveRequestRecipientOnly(t *testing.T) {
	f := newFriendFixture(t)
	fr := decodeRequest(t, f.send(t, "alice", "bob"))

	// The requester cannot resolve their own request.
	require.Equal(t, http.StatusForbidden, f.resolve(t, "alice", fr.ID, "accepted").Code)
}

func TestResolveRequestNotFound(t *testing.T) {
	f := newFriendFixture(t)
	require.Equal(t, http.StatusNotFound, f.resolve(t, "bob", "missing-id", "accepted").Code)
}

func TestResolveRequestInvalidStatus(t *testing.T) {
	f := newFriendFixture(t)
	fr := decodeRequest(t, f.send(t, "alice", "bob"))
	require.Equal(t, http.StatusBadRequest, f.resolve(t, "bob", fr.ID, "pending").Code)
	require.Equal(t, http.StatusBadRequest, f.resolve(t, "bob", fr.ID, "friends").Code)
}

func TestResolveAcceptOpensPrivateChat(t *testing.T) {
	f := newFriendFixture(t)
	fr := decodeRequest(t, f.send(t, "alice", "bob"))

	rec := f.resolve(t, "bob", fr.ID, "accepted")
	require.Equal(t, http.StatusOK, rec.Code)

	updated := decodeRequest(t, rec)
	require.Equal(t, model.FriendStatusAccepted, updated.Status)

	require.Equal(t, 1, f.chats.created)
	require.ElementsMatch(t, []string{"alice", "bob"}, f.hub.subscribedUsers("chat-1"))

	// The requester's sessions learn about the acceptance.
	aliceEvents := f.hub.eventsFor("alice")
	last := aliceEvents[len(aliceEvents)-1]
	require.Equal(t, ws.EventFriendRequestUpdate, last.Type)
}

func TestResolveRejectSkipsChat(t *testing.T) {
	f := newFriendFixture(t)
	fr := decodeRequest(t, f.send(t, "alice", "bob"))

	require.Equal(t, http.StatusOK, f.resolve(t, "bob", fr.ID, "rejected").Code)
	require.Equal(t, 0, f.chats.created)
}

func TestResolveTwiceConflicts(t *testing.T) {
	f := newFriendFixture(t)
	fr := decodeRequest(t, f.send(t, "alice", "bob"))

	require.Equal(t, http.StatusOK, f.resolve(t, "bob", fr.ID, "accepted").Code)
	require.Equal(t, http.StatusConflict, f.resolve(t, "bob", fr.ID, "rejected").Code)

	stored, err := f.friends.GetByID(context.Background(), fr.ID)
	require.NoError(t, err)
	require.Equal(t, model.FriendStatusAccepted, stored.Status)
}

func TestAcceptedChatIsIdempotent(t *testing.T) {
	f := newFriendFixture(t)

	// Full cycle twice: accept, then reject+reactivate+accept again.
	fr := decodeRequest(t, f.send(t, "alice", "bob"))
	require.Equal(t, http.StatusOK, f.resolve(t, "bob", fr.ID, "accepted").Code)

	// Force the pair through another pending/accept round.
	f.friends.mu.Lock()
	f.friends.byID[fr.ID].Status = model.FriendStatusRejected
	f.friends.mu.Unlock()
	revived := decodeRequest(t, f.send(t, "alice", "bob"))
	require.Equal(t, http.StatusOK, f.resolve(t, "bob", revived.ID, "accepted").Code)

	require.Equal(t, 1, f.chats.created)
}

func TestGetRequestsSplitsDirections(t *testing.T) {
	f := newFriendFixture(t)
	f.send(t, "alice", "bob")

	req := authedRequest(t, "alice", http.MethodGet, "/api/users/friends/requests", nil)
	rec := httptest.NewRecorder()
	f.handler.GetRequests(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp friendRequestsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Sent, 1)
	require.Empty(t, resp.Received)

	req = authedRequest(t, "bob", http.MethodGet, "/api/users/friends/requests", nil)
	rec = httptest.NewRecorder()
	f.handler.GetRequests(rec, req)

	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Empty(t, resp.Sent)
	require.Len(t, resp.Received, 1)
}

func TestGetFriendsAfterAccept(t *testing.T) {
	f := newFriendFixture(t)
	fr := decodeRequest(t, f.send(t, "alice", "bob"))
	f.resolve(t, "bob", fr.ID, "accepted")

	req := authedRequest(t, "alice", http.MethodGet, "/api/users/friends", nil)
	rec := httptest.NewRecorder()
	f.handler.GetFriends(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var friends []model.UserPublic
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&friends))
	require.Len(t, friends, 1)
	require.Equal(t, "bob", friends[0].ID)
}

func (f *fakeHub) subscribedUsers(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed[chatID]...)
}
