package notifications

import (
	"context"
	"testing"

	"marketplace/internal/observability"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub()

	a, err := hub.Register(1, nil)
	require.NoError(t, err)
	b, err := hub.Register(1, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, hub.ClientCount())

	hub.UnregisterClient(a)
	hub.UnregisterClient(a)
	assert.Equal(t, 1, hub.ClientCount())

	hub.UnregisterClient(b)
	assert.Equal(t, 0, hub.ClientCount())
	require.NoError(t, hub.Shutdown(context.Background()))
}

func TestHub_PerUserLimit(t *testing.T) {
	hub := NewHub()
	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register(7, nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(7, nil)
	assert.ErrorIs(t, err, ErrUserLimit)

	_, err = hub.Register(8, nil)
	assert.NoError(t, err)
	require.NoError(t, hub.Shutdown(context.Background()))
}

func TestHub_BroadcastAllReachesEveryClient(t *testing.T) {
	hub := NewHub()
	a, err := hub.Register(1, nil)
	require.NoError(t, err)
	b, err := hub.Register(2, nil)
	require.NoError(t, err)

	hub.BroadcastAll(`{"type":"post_created"}`)

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.Send:
			assert.JSONEq(t, `{"type":"post_created"}`, string(msg))
		default:
			t.Fatalf("client %d received nothing", c.UserID)
		}
	}
	require.NoError(t, hub.Shutdown(context.Background()))
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(3, nil)
	require.NoError(t, err)

	before := testutil.ToFloat64(observability.WebSocketBackpressureDrops.WithLabelValues("feed", "full"))
	for i := 0; i < sendBuffer+5; i++ {
		c.TrySend([]byte("x"))
	}
	after := testutil.ToFloat64(observability.WebSocketBackpressureDrops.WithLabelValues("feed", "full"))
	assert.Equal(t, float64(5), after-before)
	assert.Len(t, c.Send, sendBuffer)

	require.NoError(t, hub.Shutdown(context.Background()))
}

func TestHub_ShutdownRejectsNewClientsAndClosesSend(t *testing.T) {
	hub := NewHub()
	c, err := hub.Register(4, nil)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))
	require.NoError(t, hub.Shutdown(context.Background()))

	_, ok := <-c.Send
	assert.False(t, ok)
	c.TrySend([]byte("late"))

	_, err = hub.Register(4, nil)
	assert.ErrorIs(t, err, ErrHubShutdown)
	assert.Equal(t, 0, hub.ClientCount())
}
