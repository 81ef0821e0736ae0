package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func newTestServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		handler(conn)
	}))
}

func TestClientJoinGameThenPlayerAssigned(t *testing.T) {
	srv := newTestServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Logf("server read: %v", err)
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type != TypeJoinGame {
			t.Logf("unexpected first message: %s (err=%v)", data, err)
			return
		}
		assigned, _ := json.Marshal(PlayerAssigned{
			Type:        TypePlayerAssigned,
			PlayerIndex: 1,
			SessionID:   "sess-1",
			Seed:        42,
		})
		conn.Write(ctx, websocket.MessageText, assigned)
		time.Sleep(200 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "done")
	})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	var mu sync.Mutex
	var got *PlayerAssigned
	assignedCh := make(chan struct{})

	c := New(wsURL, "tok", "scene-a", "participant-1", Handlers{
		OnPlayerAssigned: func(msg PlayerAssigned) {
			mu.Lock()
			got = &msg
			mu.Unlock()
			close(assignedCh)
		},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-assignedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for player_assigned")
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil || got.SessionID != "sess-1" || got.PlayerIndex != 1 || got.Seed != 42 {
		t.Fatalf("unexpected assignment: %+v", got)
	}

	cancel()
	<-done
}

func TestClientReconnectsWithBackoff(t *testing.T) {
	var connCount int
	var mu sync.Mutex

	srv := newTestServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		connCount++
		n := connCount
		mu.Unlock()

		ctx := context.Background()
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}

		if n == 1 {
			conn.Close(websocket.StatusGoingAway, "test disconnect")
			return
		}
		time.Sleep(1 * time.Second)
		conn.Close(websocket.StatusNormalClosure, "done")
	})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(wsURL, "tok", "scene-a", "participant-1", Handlers{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := connCount
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for reconnect, connections: %d", n)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestSendPlayerActionWithoutConnectionErrors(t *testing.T) {
	c := New("ws://localhost:0/ws", "tok", "scene-a", "participant-1", Handlers{}, nil)
	err := c.SendPlayerAction(context.Background(), "sess-1", 0, 5, 7)
	if err == nil {
		t.Fatal("expected error sending on unconnected client")
	}
}
