package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatechat/internal/app/chat"
	"estatechat/internal/app/db"
	"estatechat/internal/app/message"
	"estatechat/internal/app/presence"
	"estatechat/internal/app/storage"
	"estatechat/internal/app/user"
	"estatechat/internal/configs"
	"estatechat/internal/pkg/auth/jwt"
	"estatechat/internal/pkg/errs"
	"estatechat/internal/pkg/metrics"
)

const testSecret = "test-secret"

type testServer struct {
	srv      *httptest.Server
	store    *db.Store
	gateway  *chat.Gateway
	presence *presence.Memory
}

func newTestServer(t *testing.T, opts ...func(*configs.AppConfig)) *testServer {
	t.Helper()

	store, err := db.Open(db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, identity := range []user.Identity{
		{ID: "admin-1", Role: user.RoleAdmin, DisplayName: "Ada"},
		{ID: "manager-1", Role: user.RoleManager, DisplayName: "Max"},
		{ID: "manager-2", Role: user.RoleManager, DisplayName: "Mia"},
		{ID: "client-1", Role: user.RoleClient, DisplayName: "Cy", AvatarRef: "avatars/cy.png"},
	} {
		require.NoError(t, store.UpsertUser(ctx, identity))
	}

	cfg := &configs.AppConfig{
		Environment:    configs.EnvDevelopment,
		JWTSecret:      testSecret,
		HandshakeRate:  100,
		HandshakeBurst: 100,
		APIRate:        100,
		APIBurst:       100,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	avatars := storage.StaticResolver{BaseURL: "https://cdn.example.com"}
	registry := prometheus.NewRegistry()
	online := presence.NewMemory()

	gateway := chat.NewGateway(chat.Config{
		Verifier:  jwt.NewVerifier(testSecret, store),
		Directory: store,
		Store:     store,
		Registry:  online,
		Avatars:   avatars,
		Metrics:   metrics.New(registry),
	})

	routerCtx, cancel := context.WithCancel(ctx)
	srv := httptest.NewServer(Router(routerCtx, &AppDeps{
		Gateway:   gateway,
		Config:    cfg,
		Messages:  store,
		Directory: store,
		Avatars:   avatars,
		Ping:      store.Ping,
		Gatherer:  registry,
	}))

	t.Cleanup(func() {
		shutdownCtx, stop := context.WithTimeout(ctx, 5*time.Second)
		defer stop()
		gateway.Shutdown(shutdownCtx)
		srv.Close()
		cancel()
	})

	return &testServer{srv: srv, store: store, gateway: gateway, presence: online}
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := jwt.GenerateToken(&jwt.Payload{ID: userID}, testSecret, time.Hour)
	require.NoError(t, err)
	return signed
}

func (ts *testServer) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws" + query
}

// dial connects as userID and waits until the gateway has registered the connection.
func (ts *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	conn, res, err := websocket.DefaultDialer.Dial(ts.wsURL("?token="+token(t, userID)), nil)
	require.NoError(t, err)
	res.Body.Close()
	t.Cleanup(func() { conn.Close() })

	readUntil(t, conn, chat.EventOnlineUsers)
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, eventType chat.EventType, payload any, tempID string) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(chat.Envelope{Type: eventType, Payload: raw, TempID: tempID}))
}

// readUntil returns the next event of the given type, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, eventType chat.EventType) chat.Envelope {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var env chat.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type == eventType {
			return env
		}
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ts *testServer) get(t *testing.T, path, bearer string) (int, apiResponse) {
	t.Helper()

	r, err := http.NewRequest(http.MethodGet, ts.srv.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	var out apiResponse
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return res.StatusCode, out
}

func (ts *testServer) statusOf(t *testing.T, a, b, id string) message.Status {
	t.Helper()
	messages, err := ts.store.Conversation(context.Background(), a, b, message.Page{Limit: message.MaxPageSize})
	require.NoError(t, err)
	for _, m := range messages {
		if m.ID == id {
			return m.Status
		}
	}
	return ""
}

func TestSendDeliverAndReadOverSocket(t *testing.T) {
	ts := newTestServer(t)
	client := ts.dial(t, "client-1")
	admin := ts.dial(t, "admin-1")

	sendEvent(t, client, chat.EventPrivateMessage, chat.PrivateMessagePayload{ReceiverID: "admin-1", Message: "hello"}, "tmp-1")

	ackEnv := readUntil(t, client, chat.EventMessageSent)
	assert.Equal(t, "tmp-1", ackEnv.TempID)
	ack := decode[chat.MessageSentPayload](t, ackEnv.Payload)
	assert.Equal(t, "hello", ack.Message.Body)
	assert.Equal(t, message.StatusSent, ack.Message.Status)

	pushed := decode[chat.NewMessagePayload](t, readUntil(t, admin, chat.EventNewMessage).Payload)
	assert.Equal(t, ack.Message.ID, pushed.Message.ID)
	assert.Equal(t, message.StatusDelivered, pushed.Message.Status)
	assert.Equal(t, "client-1", pushed.Sender.ID)
	assert.Equal(t, user.RoleClient, pushed.Sender.Role)
	assert.Equal(t, "https://cdn.example.com/avatars/cy.png", pushed.Sender.Avatar)

	assert.Eventually(t, func() bool {
		return ts.statusOf(t, "client-1", "admin-1", ack.Message.ID) == message.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	sendEvent(t, admin, chat.EventMarkRead, chat.MarkReadPayload{MessageID: ack.Message.ID}, "")

	receipt := decode[chat.MessageReadPayload](t, readUntil(t, client, chat.EventMessageRead).Payload)
	assert.Equal(t, ack.Message.ID, receipt.MessageID)
	assert.Equal(t, message.StatusRead, ts.statusOf(t, "client-1", "admin-1", ack.Message.ID))
}

func TestOfflineMessageStaysSent(t *testing.T) {
	ts := newTestServer(t)
	client := ts.dial(t, "client-1")

	sendEvent(t, client, chat.EventPrivateMessage, chat.PrivateMessagePayload{ReceiverID: "admin-1", Message: "are you there?"}, "")

	ack := decode[chat.MessageSentPayload](t, readUntil(t, client, chat.EventMessageSent).Payload)
	assert.Equal(t, message.StatusSent, ts.statusOf(t, "client-1", "admin-1", ack.Message.ID))
}

func TestPolicyDeniedOverSocket(t *testing.T) {
	ts := newTestServer(t)
	manager := ts.dial(t, "manager-1")
	peer := ts.dial(t, "manager-2")

	sendEvent(t, manager, chat.EventPrivateMessage, chat.PrivateMessagePayload{ReceiverID: "manager-2", Message: "hi"}, "tmp-2")

	errEnv := readUntil(t, manager, chat.EventError)
	assert.Equal(t, "tmp-2", errEnv.TempID)
	assert.Equal(t, errs.ErrMessagingNotPermitted, decode[chat.ErrorPayload](t, errEnv.Payload).Code)

	// the socket stays usable and nothing reached the peer
	sendEvent(t, manager, chat.EventTyping, chat.TypingPayload{ReceiverID: "manager-2", IsTyping: true}, "")
	typing := decode[chat.UserTypingPayload](t, readUntil(t, peer, chat.EventUserTyping).Payload)
	assert.Equal(t, "manager-1", typing.UserID)

	history, err := ts.store.Conversation(context.Background(), "manager-1", "manager-2", message.Page{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHandshakeRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	forged, err := jwt.GenerateToken(&jwt.Payload{ID: "admin-1"}, "other-secret", time.Hour)
	require.NoError(t, err)

	for name, query := range map[string]string{
		"missing token": "",
		"garbage token": "?token=not-a-jwt",
		"wrong secret":  "?token=" + forged,
		"unknown user":  "?token=" + token(t, "ghost"),
	} {
		t.Run(name, func(t *testing.T) {
			conn, res, err := websocket.DefaultDialer.Dial(ts.wsURL(query), nil)
			if conn != nil {
				conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, res)
			defer res.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
		})
	}

	assert.Empty(t, ts.presence.OnlineUsers(), "a refused handshake registers nothing")
	assert.Empty(t, ts.presence.All())
}

func (ts *testServer) getHealth() (int, error) {
	res, err := http.Get(ts.srv.URL + "/health")
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	return res.StatusCode, nil
}

func TestHandshakeAcceptsBearerHeader(t *testing.T) {
	ts := newTestServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, "admin-1"))

	conn, res, err := websocket.DefaultDialer.Dial(ts.wsURL(""), header)
	require.NoError(t, err)
	res.Body.Close()
	defer conn.Close()

	readUntil(t, conn, chat.EventOnlineUsers)
}

func TestPresenceOverSocket(t *testing.T) {
	ts := newTestServer(t)
	watcher := ts.dial(t, "admin-1")

	client := ts.dial(t, "client-1")
	online := decode[presence.Change](t, readUntil(t, watcher, chat.EventUserStatus).Payload)
	assert.Equal(t, presence.Change{UserID: "client-1", Status: presence.StatusOnline}, online)

	require.NoError(t, client.Close())
	offline := decode[presence.Change](t, readUntil(t, watcher, chat.EventUserStatus).Payload)
	assert.Equal(t, presence.Change{UserID: "client-1", Status: presence.StatusOffline}, offline)
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "client-1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errEnv := readUntil(t, conn, chat.EventError)
	assert.Equal(t, errs.ErrInvalidJSONFormat, decode[chat.ErrorPayload](t, errEnv.Payload).Code)

	sendEvent(t, conn, chat.EventPrivateMessage, chat.PrivateMessagePayload{ReceiverID: "admin-1", Message: "still here"}, "")
	readUntil(t, conn, chat.EventMessageSent)
}

func TestConversationHistory(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	var ids []string
	for i, body := range []string{"first", "second", "third"} {
		from, to := "client-1", "admin-1"
		if i == 1 {
			from, to = to, from
		}
		m := message.New(from, to, body)
		require.NoError(t, ts.store.Create(ctx, m))
		ids = append(ids, m.ID)
		time.Sleep(2 * time.Millisecond)
	}

	code, res := ts.get(t, "/api/messages/client-1?limit=2", token(t, "admin-1"))
	require.Equal(t, http.StatusOK, code)

	page := decode[ConversationPage](t, res.Data)
	assert.Equal(t, "client-1", page.Partner.ID)
	assert.Equal(t, "Cy", page.Partner.DisplayName)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, ids[1], page.Messages[0].ID, "newest page, oldest first")
	assert.Equal(t, ids[2], page.Messages[1].ID)

	code, res = ts.get(t, "/api/messages/client-1?limit=2&offset=2", token(t, "admin-1"))
	require.Equal(t, http.StatusOK, code)
	page = decode[ConversationPage](t, res.Data)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, ids[0], page.Messages[0].ID)

	code, res = ts.get(t, "/api/messages/conversations", token(t, "admin-1"))
	require.Equal(t, http.StatusOK, code)
	views := decode[[]ConversationView](t, res.Data)
	require.Len(t, views, 1)
	assert.Equal(t, "client-1", views[0].Partner.ID)
	assert.Equal(t, "https://cdn.example.com/avatars/cy.png", views[0].Partner.Avatar)
	assert.Equal(t, ids[2], views[0].LastMessage.ID)
	assert.Equal(t, 2, views[0].UnreadCount)
}

func TestHistoryRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	code, res := ts.get(t, "/api/messages/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, errs.ErrUnauthorized, res.Code)

	code, _ = ts.get(t, "/api/messages/client-1", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestHistoryIsRateLimited(t *testing.T) {
	ts := newTestServer(t, func(cfg *configs.AppConfig) {
		cfg.APIRate = 0.001
		cfg.APIBurst = 1
	})

	code, _ := ts.get(t, "/api/messages/conversations", token(t, "admin-1"))
	assert.Equal(t, http.StatusOK, code)

	code, res := ts.get(t, "/api/messages/conversations", token(t, "admin-1"))
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, errs.ErrRateLimitExceeded, res.Code)
}

func TestHistoryRejectsBadPaging(t *testing.T) {
	ts := newTestServer(t)

	code, res := ts.get(t, "/api/messages/client-1?limit=many", token(t, "admin-1"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errs.ErrInvalidParams, res.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.dial(t, "admin-1")

	code, err := ts.getHealth()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)

	res, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "estatechat_online_users 1")
	assert.Contains(t, string(body), `estatechat_handshakes_total{result="ok"} 1`)
}

func TestShutdownClosesSockets(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "client-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.gateway.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), err.Error())
			break
		}
	}

	code, err := ts.getHealth()
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	_, res, err := websocket.DefaultDialer.Dial(ts.wsURL("?token="+token(t, "admin-1")), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}
