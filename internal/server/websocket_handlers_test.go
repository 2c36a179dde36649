package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace/internal/featureflags"
	"marketplace/internal/notifications"
	"marketplace/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen serves the env's app on a loopback port and returns host:port.
func (e *testEnv) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = e.app.Listener(ln) }()
	t.Cleanup(func() { _ = e.app.Shutdown() })
	return ln.Addr().String()
}

func httpDo(t *testing.T, req *http.Request, userID uint) *http.Response {
	t.Helper()
	if userID != 0 {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func issueTicket(t *testing.T, addr string, userID uint) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/api/ws/ticket", nil)
	require.NoError(t, err)
	resp := httpDo(t, req, userID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out TicketResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Ticket)
	return out.Ticket
}

func TestIssueWSTicket_StoresShortLivedTicket(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, httptest.NewRequest(http.MethodPost, "/api/ws/ticket", nil), 5)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var out TicketResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	key := "ws_ticket:" + out.Ticket
	stored, err := env.mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "5", stored)
	assert.Equal(t, 30*time.Second, env.mr.TTL(key))
}

func TestFeed_RequiresUpgrade(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/ws/feed?ticket=whatever")
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func TestFeed_DeliversCommittedMutations(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, env.srv.hub.StartWiring(ctx, env.srv.notifier))

	addr := env.listen(t)
	ticket := issueTicket(t, addr, 5)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/ws/feed?ticket="+ticket, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return env.srv.hub.ClientCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	body, ct := multipartBody(t, map[string]string{"title": "Bike"}, nil)
	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/api/Post/CreateNewPost", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", ct)
	resp := httpDo(t, req, 7)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created PostIDResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event notifications.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, service.EventPostCreated, event.Type)
	assert.EqualValues(t, created.PostID, event.Payload["post_id"])
	assert.EqualValues(t, 7, event.Payload["owner_id"])
	assert.NotEmpty(t, event.Payload["timestamp"])
}

func TestFeed_TicketIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	addr := env.listen(t)
	ticket := issueTicket(t, addr, 5)
	url := "ws://" + addr + "/api/ws/feed?ticket=" + ticket

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublishEvent_HonorsRealtimeFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub := env.rdb.Subscribe(ctx, notifications.FeedChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	env.srv.featureFlags = featureflags.NewManager("realtime_feed=off")
	env.srv.PublishEvent(ctx, service.EventPostDeleted, map[string]interface{}{"post_id": 1})
	_, err = sub.ReceiveTimeout(ctx, 200*time.Millisecond)
	assert.Error(t, err)

	env.srv.featureFlags = featureflags.NewManager("realtime_feed=on")
	env.srv.PublishEvent(ctx, service.EventPostDeleted, map[string]interface{}{"post_id": 1})
	msg, err := sub.ReceiveTimeout(ctx, 2*time.Second)
	require.NoError(t, err)
	redisMsg, ok := msg.(*redis.Message)
	require.True(t, ok)
	assert.Contains(t, redisMsg.Payload, `"type":"post_deleted"`)
}
