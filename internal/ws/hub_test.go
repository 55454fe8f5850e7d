package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHub_ReplaysStickyToLateJoiners(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub()
	go h.Run(ctx)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	h.BroadcastSticky(map[string]any{"type": "state", "to": "COMPUTING"})

	first := dial(t, srv)
	assert.Equal(t, "COMPUTING", readJSON(t, first)["to"])

	h.BroadcastJSON(map[string]any{"type": "progress", "percent": 50.0})
	assert.Equal(t, "progress", readJSON(t, first)["type"])

	// The progress event is not replayed, the state is.
	second := dial(t, srv)
	got := readJSON(t, second)
	assert.Equal(t, "state", got["type"])
	assert.Equal(t, "COMPUTING", got["to"])
}

func TestHub_UnmarshalableIsDropped(t *testing.T) {
	h := NewHub()
	h.BroadcastJSON(make(chan int))
	assert.Len(t, h.broadcast, 0)
}

func TestHub_StopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	go h.Run(ctx)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conns := make([]*websocket.Conn, 40)
	for i := range conns {
		conns[i] = dial(t, srv)
	}
	cancel()
	<-h.done

	for _, c := range conns {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := c.ReadMessage()
		require.Error(t, err)
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) {
			assert.False(t, netErr.Timeout(), "client left open after stop")
		}
	}
}

func TestHub_SubmitAfterStopReturns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	go h.Run(ctx)
	cancel()
	<-h.done

	finished := make(chan int)
	go func() {
		accepted := 0
		for i := 0; i < 64; i++ {
			if h.submit(h.unregister, nil) {
				accepted++
			}
			h.submit(h.register, nil)
		}
		finished <- accepted
	}()

	select {
	case accepted := <-finished:
		assert.Zero(t, accepted)
	case <-time.After(5 * time.Second):
		t.Fatal("submit blocked after the hub stopped")
	}
}
