package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"go-dm/internal/api"
	"go-dm/internal/apperr"
	"go-dm/internal/chat"
	"go-dm/internal/message"
	"go-dm/internal/metrics"
	"go-dm/internal/mocks"
	"go-dm/internal/user"
)

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(context.Context, chat.Event, []int64) error { return nil }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newRouter(t *testing.T, store message.Store, users user.Repository, ready api.Pinger) http.Handler {
	t.Helper()
	svc := chat.NewService(user.NewDirectory(users), store, nopBroadcaster{}, chat.ScopeAll, zerolog.Nop(), metrics.NewNop())
	r := chi.NewRouter()
	api.NewHandler(svc, ready, zerolog.Nop()).Routes(r)
	return r
}

func newMemoryRouter(t *testing.T) http.Handler {
	users := user.NewMemoryRepository()
	return newRouter(t, message.NewMemoryStore(users), users, nil)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func register(t *testing.T, h http.Handler, name string) int64 {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/users", map[string]string{"name": name})
	require.Contains(t, []int{http.StatusCreated, http.StatusOK}, rec.Code)
	return decode[chat.RegisterResult](t, rec).UserID
}

func userPath(id int64, suffix string) string {
	return "/api/users/" + strconv.FormatInt(id, 10) + suffix
}

func TestCreateUser(t *testing.T) {
	req := require.New(t)
	h := newMemoryRouter(t)

	rec := do(t, h, http.MethodPost, "/api/users", map[string]string{"name": "alice"})
	req.Equal(http.StatusCreated, rec.Code)
	first := decode[chat.RegisterResult](t, rec)
	req.True(first.Created)
	req.Positive(first.UserID)

	rec = do(t, h, http.MethodPost, "/api/users", map[string]string{"name": "alice"})
	req.Equal(http.StatusOK, rec.Code)
	again := decode[chat.RegisterResult](t, rec)
	req.False(again.Created)
	req.Equal(first.UserID, again.UserID)
}

func TestCreateUser_Rejected(t *testing.T) {
	h := newMemoryRouter(t)

	rec := do(t, h, http.MethodPost, "/api/users", map[string]string{"name": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid input", decode[map[string]string](t, rec)["error"])

	bad := httptest.NewRecorder()
	h.ServeHTTP(bad, httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewBufferString("{")))
	require.Equal(t, http.StatusBadRequest, bad.Code)
	require.Equal(t, "invalid payload", decode[map[string]string](t, bad)["error"])
}

func TestListUsers(t *testing.T) {
	h := newMemoryRouter(t)
	register(t, h, "alice")
	register(t, h, "bob")

	rec := do(t, h, http.MethodGet, "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[[]user.User](t, rec)
	require.Len(t, users, 2)
	require.ElementsMatch(t, []string{"alice", "bob"}, []string{users[0].Name, users[1].Name})
}

func TestMessageFlow(t *testing.T) {
	req := require.New(t)
	h := newMemoryRouter(t)
	alice := register(t, h, "alice")
	bob := register(t, h, "bob")

	rec := do(t, h, http.MethodPost, userPath(alice, "/messages"), map[string]string{"receiverName": "bob", "body": "hi"})
	req.Equal(http.StatusCreated, rec.Code)
	sent := decode[chat.MessageRecord](t, rec)
	req.Equal(alice, sent.SenderID)
	req.Equal(bob, sent.ReceiverID)
	req.Equal("hi", sent.Body)

	rec = do(t, h, http.MethodGet, userPath(bob, "/unread"), nil)
	req.Equal(http.StatusOK, rec.Code)
	req.Equal(map[string]int{strconv.FormatInt(alice, 10): 1}, decode[map[string]int](t, rec))

	rec = do(t, h, http.MethodGet, userPath(bob, "/messages?with=alice"), nil)
	req.Equal(http.StatusOK, rec.Code)
	history := decode[[]message.Message](t, rec)
	req.Len(history, 1)
	req.False(history[0].Read)

	rec = do(t, h, http.MethodPost, userPath(bob, "/read"), map[string]string{"senderName": "alice"})
	req.Equal(http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, userPath(bob, "/unread"), nil)
	req.Equal(map[string]int{}, decode[map[string]int](t, rec))
}

func TestHistory_UnknownPeerIsEmpty(t *testing.T) {
	h := newMemoryRouter(t)
	alice := register(t, h, "alice")

	rec := do(t, h, http.MethodGet, userPath(alice, "/messages?with=nobody"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestSendMessage_Errors(t *testing.T) {
	h := newMemoryRouter(t)
	alice := register(t, h, "alice")
	register(t, h, "bob")

	tests := []struct {
		name   string
		path   string
		body   map[string]string
		status int
		msg    string
	}{
		{"unknown recipient", userPath(alice, "/messages"), map[string]string{"receiverName": "carol", "body": "hi"}, http.StatusNotFound, "recipient not found"},
		{"empty body", userPath(alice, "/messages"), map[string]string{"receiverName": "bob", "body": ""}, http.StatusBadRequest, "invalid input"},
		{"unknown sender id", userPath(999, "/messages"), map[string]string{"receiverName": "bob", "body": "hi"}, http.StatusUnprocessableEntity, "message not sent"},
		{"bad id", "/api/users/abc/messages", map[string]string{"receiverName": "bob", "body": "hi"}, http.StatusBadRequest, "invalid user id"},
		{"unknown sender name on read", userPath(alice, "/read"), map[string]string{"senderName": "carol"}, http.StatusNotFound, "sender not found"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.msg, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestStoreFailure_ReadsAreEmpty(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	users := user.NewMemoryRepository()
	_, err := users.Create(context.Background(), "bob")
	require.NoError(t, err)

	down := apperr.Store("message", errors.New("connection refused"))
	store.EXPECT().UnreadCounts(gomock.Any(), int64(7)).Return(nil, down)
	store.EXPECT().Conversation(gomock.Any(), int64(7), gomock.Any()).Return(
		iter.Seq2[message.Message, error](func(yield func(message.Message, error) bool) {
			yield(message.Message{}, down)
		}),
	)

	h := newRouter(t, store, users, nil)

	rec := do(t, h, http.MethodGet, userPath(7, "/unread"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "{}", rec.Body.String())

	rec = do(t, h, http.MethodGet, userPath(7, "/messages?with=bob"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestStoreFailure_WriteIsGeneric(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	users := user.NewMemoryRepository()
	_, err := users.Create(context.Background(), "bob")
	require.NoError(t, err)

	store.EXPECT().
		Append(gomock.Any(), int64(7), gomock.Any(), "hi").
		Return(message.Message{}, apperr.Store("message.Append", errors.New("connection refused")))

	h := newRouter(t, store, users, nil)
	rec := do(t, h, http.MethodPost, userPath(7, "/messages"), map[string]string{"receiverName": "bob", "body": "hi"})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "db error", decode[map[string]string](t, rec)["error"])
	require.NotContains(t, rec.Body.String(), "connection refused")
}

func TestHealth(t *testing.T) {
	users := user.NewMemoryRepository()
	store := message.NewMemoryStore(users)

	ok := newRouter(t, store, users, stubPinger{})
	require.Equal(t, http.StatusOK, do(t, ok, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusOK, do(t, ok, http.MethodGet, "/readyz", nil).Code)

	down := newRouter(t, store, users, stubPinger{err: errors.New("dial tcp: refused")})
	require.Equal(t, http.StatusOK, do(t, down, http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, do(t, down, http.MethodGet, "/readyz", nil).Code)
}
