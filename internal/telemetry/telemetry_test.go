package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Disabled_ReturnsImmediately(t *testing.T) {
	c := New(Config{Enable: false}, nil, nil, slog.Default())
	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return immediately when disabled")
	}
}

func TestRun_StreamsSnapshots(t *testing.T) {
	var upgrader websocket.Upgrader
	received := make(chan []byte, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	}))
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):]
	c := New(Config{Enable: true, URL: url, Interval: 20 * time.Millisecond}, nil, nil, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	c.Run(ctx)

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), "pool")
	case <-time.After(time.Second):
		t.Fatal("expected at least one snapshot to have been sent")
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	c := New(Config{Enable: true, URL: "ws://127.0.0.1:1/unreachable", Interval: 10 * time.Millisecond}, nil, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
