package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"boardmarket/chatservice/internal/chat"
	"boardmarket/chatservice/internal/config"
	"boardmarket/chatservice/internal/logging"
)

const testNotifyToken = "test-notify-token"

func newTestServer(t *testing.T, pingInterval time.Duration) (*httptest.Server, *chat.Registry) {
	t.Helper()
	cfg := &config.Config{
		PingInterval:  pingInterval,
		PingJitter:    0,
		MaxFrameBytes: 4096,
		NotifyToken:   testNotifyToken,
	}
	logger := logging.NewTestLogger()
	registry := chat.NewRegistry(cfg, chat.WithLogger(logger))
	t.Cleanup(registry.Close)

	handlers := NewHandlerSet(Options{
		Logger:   logger,
		Registry: registry,
		Config:   cfg,
	})
	router := mux.NewRouter()
	handlers.Register(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, registry
}

func dialChat(t *testing.T, server *httptest.Server, threadID, userID, userType string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("%s/ws/chat/%s?user_id=%s&user_type=%s",
		"ws"+strings.TrimPrefix(server.URL, "http"), threadID, userID, userType)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func waitForUsers(t *testing.T, registry *chat.Registry, threadID string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for len(registry.ThreadUsers(threadID)) != want {
		if time.Now().After(deadline) {
			t.Fatalf("thread %s never reached %d users, have %v", threadID, want, registry.ThreadUsers(threadID))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestChatSocketEndToEnd(t *testing.T) {
	server, registry := newTestServer(t, time.Hour)

	buyer := dialChat(t, server, "t1", "u1", "buyer")
	waitForUsers(t, registry, "t1", 1)
	seller := dialChat(t, server, "t1", "u2", "seller")
	waitForUsers(t, registry, "t1", 2)

	joined := readFrame(t, buyer, time.Second)
	require.Equal(t, "user_joined", joined["type"])
	require.Equal(t, "u2", joined["user_id"])
	require.Equal(t, "seller", joined["user_type"])

	require.NoError(t, buyer.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"message","message":"is the oak board still available?"}`)))

	message := readFrame(t, seller, time.Second)
	require.Equal(t, "message", message["type"])
	require.Equal(t, "u1", message["sender_id"])
	require.Equal(t, "buyer", message["sender_type"])
	require.Equal(t, "is the oak board still available?", message["message"])
	require.Equal(t, "t1", message["thread_id"])

	// No echo back to the sender.
	require.NoError(t, buyer.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := buyer.ReadMessage()
	require.Error(t, err, "sender must not receive its own message")
}

func TestChatSocketMalformedFrame(t *testing.T) {
	server, registry := newTestServer(t, time.Hour)
	conn := dialChat(t, server, "t1", "u1", "buyer")
	waitForUsers(t, registry, "t1", 1)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not-json")))
	frame := readFrame(t, conn, time.Second)
	require.Equal(t, "error", frame["type"])
	require.NotEmpty(t, frame["message"])

	// The socket survives and keeps serving.
	require.Equal(t, []string{"u1"}, registry.ThreadUsers("t1"))
}

func TestChatSocketHeartbeat(t *testing.T) {
	server, registry := newTestServer(t, 20*time.Millisecond)
	conn := dialChat(t, server, "t1", "u1", "buyer")
	waitForUsers(t, registry, "t1", 1)

	frame := readFrame(t, conn, time.Second)
	require.Equal(t, "ping", frame["type"])
	require.NotEmpty(t, frame["timestamp"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)))
}

func TestChatSocketDisconnectDetaches(t *testing.T) {
	server, registry := newTestServer(t, time.Hour)
	conn := dialChat(t, server, "t1", "u1", "buyer")
	waitForUsers(t, registry, "t1", 1)

	require.NoError(t, conn.Close())
	waitForUsers(t, registry, "t1", 0)
}

func TestHandshakeRejectedWithoutIdentity(t *testing.T) {
	server, _ := newTestServer(t, time.Hour)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/t1?user_id=u1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsUnknownRole(t *testing.T) {
	server, _ := newTestServer(t, time.Hour)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat/t1?user_id=u1&user_type=admin"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNotifyFanOut(t *testing.T) {
	server, registry := newTestServer(t, time.Hour)
	buyer := dialChat(t, server, "t1", "u1", "buyer")
	waitForUsers(t, registry, "t1", 1)
	seller := dialChat(t, server, "t1", "u2", "seller")
	waitForUsers(t, registry, "t1", 2)

	// Drain the join notification on the first socket.
	joined := readFrame(t, buyer, time.Second)
	require.Equal(t, "user_joined", joined["type"])

	payload := `{"type":"message","thread_id":"t1","sender_id":"u1","sender_type":"buyer","message":"stored via REST"}`
	req, err := http.NewRequest(http.MethodPost, server.URL+"/internal/chat/t1/notify", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testNotifyToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status     string `json:"status"`
		Recipients int    `json:"recipients"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, 2, body.Recipients)

	// The notify hook excludes nobody.
	for name, conn := range map[string]*websocket.Conn{"buyer": buyer, "seller": seller} {
		frame := readFrame(t, conn, time.Second)
		require.Equal(t, "message", frame["type"], "recipient %s", name)
		require.Equal(t, "stored via REST", frame["message"], "recipient %s", name)
	}
}

func TestNotifyRequiresToken(t *testing.T) {
	server, _ := newTestServer(t, time.Hour)

	resp, err := http.Post(server.URL+"/internal/chat/t1/notify", "application/json",
		strings.NewReader(`{"type":"message"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNotifyRejectsInvalidJSON(t *testing.T) {
	server, _ := newTestServer(t, time.Hour)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/internal/chat/t1/notify", strings.NewReader("not-json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testNotifyToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestThreadUsersEndpoint(t *testing.T) {
	server, registry := newTestServer(t, time.Hour)
	dialChat(t, server, "t1", "u2", "seller")
	dialChat(t, server, "t1", "u1", "buyer")
	waitForUsers(t, registry, "t1", 2)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/internal/chat/t1/users", nil)
	require.NoError(t, err)
	req.Header.Set("X-Notify-Token", testNotifyToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ThreadID string   `json:"thread_id"`
		Users    []string `json:"users"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "t1", body.ThreadID)
	require.Equal(t, []string{"u1", "u2"}, body.Users)
}

func TestReadiness(t *testing.T) {
	server, registry := newTestServer(t, time.Hour)
	dialChat(t, server, "t1", "u1", "buyer")
	waitForUsers(t, registry, "t1", 1)

	resp, err := http.Get(server.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status      string `json:"status"`
		Rooms       int    `json:"rooms"`
		Connections int    `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	require.Equal(t, 1, body.Rooms)
	require.Equal(t, 1, body.Connections)
}

func TestSessionReplacementOverSocket(t *testing.T) {
	server, registry := newTestServer(t, time.Hour)
	first := dialChat(t, server, "t1", "u1", "buyer")
	waitForUsers(t, registry, "t1", 1)
	_ = dialChat(t, server, "t1", "u1", "buyer")
	waitForUsers(t, registry, "t1", 1)

	// The first socket is closed by the replacement.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			break
		}
	}
	require.Equal(t, []string{"u1"}, registry.ThreadUsers("t1"))
}
