package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"game_host/internal/broadcast"
	"game_host/internal/domain"
	"game_host/internal/logger"
	"game_host/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRoom struct {
	id     string
	seated map[string]bool

	mu        sync.Mutex
	connected map[string]int
	actions   chan domain.ActionEnvelope
}

func newFakeRoom(id string, players ...string) *fakeRoom {
	r := &fakeRoom{id: id, seated: map[string]bool{}, connected: map[string]int{}, actions: make(chan domain.ActionEnvelope, 16)}
	for _, p := range players {
		r.seated[p] = true
	}
	return r
}

func (r *fakeRoom) RoomID() string { return r.id }

func (r *fakeRoom) Seated(_ context.Context, playerID string) (bool, error) {
	return r.seated[playerID], nil
}

func (r *fakeRoom) Submit(_ context.Context, env domain.ActionEnvelope) error {
	r.actions <- env
	return nil
}

func (r *fakeRoom) Connect(_ context.Context, playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[playerID]++
	return nil
}

func (r *fakeRoom) Disconnect(_ context.Context, playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[playerID]--
	return nil
}

func (r *fakeRoom) connections(playerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected[playerID]
}

func setup(t *testing.T, tokens *service.TokenVerifier, room *fakeRoom) (*httptest.Server, *broadcast.Hub) {
	t.Helper()
	hub := broadcast.NewHub(broadcast.WithLogger(logger.Discard()))
	hub.Publish(broadcast.StateUpdate{RoomID: room.id, Version: 1, Phase: domain.PhaseActive, Players: []string{"alice", "bob"}, State: json.RawMessage(`{"turn":"alice"}`)})

	lookup := LookupFunc(func(id string) (Room, bool) {
		if id == room.id {
			return room, true
		}
		return nil, false
	})
	h := NewHandler(lookup, hub, tokens, "", logger.Discard())

	r := gin.New()
	r.GET("/ws", h.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, code)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) broadcast.StateUpdate {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var u broadcast.StateUpdate
	if err := conn.ReadJSON(&u); err != nil {
		t.Fatalf("read: %v", err)
	}
	return u
}

func TestSnapshotFirstThenActionsAndFinal(t *testing.T) {
	room := newFakeRoom("r1", "alice", "bob")
	srv, hub := setup(t, service.NewTokenVerifier(""), room)
	conn := dial(t, srv, "room=r1&player=alice")

	first := readUpdate(t, conn)
	if first.Type != "state" || first.Version != 1 || string(first.State) != `{"turn":"alice"}` {
		t.Fatalf("expected latest snapshot first, got %+v", first)
	}

	if err := conn.WriteJSON(map[string]any{"moveName": "place", "payload": map[string]int{"cell": 4}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case env := <-room.actions:
		if env.PlayerID != "alice" || env.MoveName != "place" || env.RoomID != "r1" || string(env.Payload) != `{"cell":4}` {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("action not submitted")
	}

	hub.Publish(broadcast.StateUpdate{RoomID: "r1", Version: 2, Phase: domain.PhaseFinished, State: json.RawMessage(`{}`), Final: true})
	final := readUpdate(t, conn)
	if !final.Final || final.Version != 2 {
		t.Fatalf("expected final update, got %+v", final)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for room.connections("alice") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := room.connections("alice"); n != 0 {
		t.Fatalf("expected disconnect after close, got %d connections", n)
	}
}

func TestMalformedFrameGetsError(t *testing.T) {
	room := newFakeRoom("r1", "alice")
	srv, _ := setup(t, service.NewTokenVerifier(""), room)
	conn := dial(t, srv, "room=r1&player=alice")
	readUpdate(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame errorFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != "error" {
		t.Fatalf("expected error frame, got %+v", frame)
	}
	select {
	case env := <-room.actions:
		t.Fatalf("malformed frame must not be submitted, got %+v", env)
	default:
	}
}

func TestHandshakeRejections(t *testing.T) {
	room := newFakeRoom("r1", "alice")
	cases := []struct {
		name   string
		tokens *service.TokenVerifier
		query  string
		code   int
	}{
		{"no room", service.NewTokenVerifier(""), "player=alice", http.StatusBadRequest},
		{"no player", service.NewTokenVerifier(""), "room=r1", http.StatusBadRequest},
		{"unknown room", service.NewTokenVerifier(""), "room=zz&player=alice", http.StatusNotFound},
		{"not seated", service.NewTokenVerifier(""), "room=r1&player=mallory", http.StatusForbidden},
		{"token required", service.NewTokenVerifier("s3cret"), "room=r1&player=alice", http.StatusUnauthorized},
		{"bad token", service.NewTokenVerifier("s3cret"), "room=r1&token=junk", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := setup(t, tc.tokens, room)
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + tc.query
			_, resp, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				t.Fatal("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got %+v", tc.code, resp)
			}
		})
	}
}
