package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/MusicRoom/internal/adapters/signal"
	"github.com/dkeye/MusicRoom/internal/app/broadcast"
	"github.com/dkeye/MusicRoom/internal/app/orch"
	"github.com/dkeye/MusicRoom/internal/auth"
	"github.com/dkeye/MusicRoom/internal/config"
	"github.com/dkeye/MusicRoom/internal/domain"
	"github.com/dkeye/MusicRoom/internal/metrics"
	"github.com/dkeye/MusicRoom/internal/store"
	"github.com/dkeye/MusicRoom/internal/workflow/local"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*httptest.Server
	orch      *orch.Orchestrator
	store     *store.Store
	verifier  *auth.Verifier
	ctrl      *signal.SignalWSController
	stopConns context.CancelFunc
}

type serverOpts struct {
	jwtSecret string
	limit     int
	health    func(context.Context) error
}

func newTestServer(t *testing.T, opts serverOpts) *testServer {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	engine := local.New()
	o := orch.New(st.Devices(), st.Rooms(), engine, broadcast.NewManager(broadcast.SimplePolicy{}), nil)
	engine.SetListener(o.OnWorkflowUpdate)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	health := opts.health
	if health == nil {
		health = st.Ping
	}
	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-session-secret",
		ReadLimit:  32768,
		PingPeriod: time.Minute,
		SendBuffer: 64,
	}
	verifier := auth.NewVerifier(opts.jwtSecret)
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := NewSignalController(cfg, o, signal.NewActionRateLimiter(opts.limit, time.Minute))
	r := SetupRouter(ctx, cfg, Deps{
		Orch:     o,
		Signal:   ctrl,
		Verifier: verifier,
		Gatherer: reg,
		Health:   health,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, orch: o, store: st, verifier: verifier, ctrl: ctrl, stopConns: cancel}
}

func (s *testServer) wsURL(device string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/api/ws?device=" + device
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *testServer) dialAs(t *testing.T, user, device string) *client {
	t.Helper()
	tok, err := s.verifier.Issue(domain.UserID(user), time.Minute)
	require.NoError(t, err)
	header := http.Header{"Authorization": []string{"Bearer " + tok}}
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(device), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

type frame struct {
	Type       string          `json:"type"`
	Request    string          `json:"request"`
	Room       string          `json:"room"`
	Error      string          `json:"error"`
	State      json.RawMessage `json:"state"`
	User       string          `json:"user"`
	Connection string          `json:"connection"`
	Device     string          `json:"device"`
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// waitFor reads frames until one of type msgType arrives and returns it with
// every frame seen before it.
func (c *client) waitFor(msgType string) (frame, []frame) {
	c.t.Helper()
	var seen []frame
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		err := c.conn.ReadJSON(&f)
		require.NoError(c.t, err, "waiting for %s, saw %v", msgType, seen)
		if f.Type == msgType {
			return f, seen
		}
		seen = append(seen, f)
	}
}

func types(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func (s *testServer) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(s.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestWS_RoomLifecycle(t *testing.T) {
	s := newTestServer(t, serverOpts{jwtSecret: "jwt-secret"})
	alice := s.dialAs(t, "alice", "laptop")

	alice.send(map[string]any{"type": "create_room", "request": "c1", "name": "Friday", "kind": "mtv"})
	ack, before := alice.waitFor("ack")
	assert.Equal(t, "c1", ack.Request)
	require.NotEmpty(t, ack.Room)
	assert.Equal(t, []string{"retrieve_context"}, types(before))
	room := ack.Room

	bob := s.dialAs(t, "bob", "phone")
	bob.send(map[string]any{"type": "join_room", "request": "j1", "room": room})
	ack, before = bob.waitFor("ack")
	assert.Equal(t, room, ack.Room)
	assert.Equal(t, []string{"retrieve_context"}, types(before))

	var details orch.RoomDetails
	require.Equal(t, http.StatusOK, s.getJSON(t, "/api/rooms/"+room, &details))
	assert.Len(t, details.Members, 2)
	assert.Equal(t, 2, details.Connections)

	alice.send(map[string]any{"type": "control", "request": "p1", "room": room, "action": "play"})
	update, _ := bob.waitFor("state_update")
	assert.Equal(t, room, update.Room)
	assert.Contains(t, string(update.State), `"playing":true`)

	require.NoError(t, alice.conn.Close())
	forced, _ := bob.waitFor("forced_disconnection")
	assert.Equal(t, room, forced.Room)

	var list struct {
		Rooms []json.RawMessage `json:"rooms"`
	}
	require.Equal(t, http.StatusOK, s.getJSON(t, "/api/rooms", &list))
	assert.Empty(t, list.Rooms)
	assert.Equal(t, http.StatusNotFound, s.getJSON(t, "/api/rooms/"+room, nil))
}

func TestWS_ReconnectResumesRoom(t *testing.T) {
	s := newTestServer(t, serverOpts{jwtSecret: "jwt-secret"})
	alice := s.dialAs(t, "alice", "laptop")
	alice.send(map[string]any{"type": "create_room", "request": "c1", "name": "Friday"})
	ack, _ := alice.waitFor("ack")

	bob := s.dialAs(t, "bob", "phone")
	bob.send(map[string]any{"type": "join_room", "request": "j1", "room": ack.Room})
	bob.waitFor("ack")
	require.NoError(t, bob.conn.Close())

	bob2 := s.dialAs(t, "bob", "tablet")
	resumed, _ := bob2.waitFor("retrieve_context")
	assert.Equal(t, ack.Room, resumed.Room)
}

func TestWS_ErrorCodes(t *testing.T) {
	s := newTestServer(t, serverOpts{jwtSecret: "jwt-secret"})
	c := s.dialAs(t, "carol", "laptop")

	tests := []struct {
		msg  any
		code string
	}{
		{map[string]any{"type": "control", "request": "1", "room": "nope", "action": "play"}, "not_a_member"},
		{map[string]any{"type": "join_room", "request": "2", "room": "nope"}, "room_not_found"},
		{map[string]any{"type": "join_room", "request": "3"}, "bad_payload"},
		{map[string]any{"type": "create_room", "request": "4", "name": ""}, "bad_payload"},
		{map[string]any{"type": "create_room", "request": "5", "name": "x", "kind": "karaoke"}, "bad_payload"},
		{map[string]any{"type": "dance", "request": "6"}, "unknown_type"},
	}
	for _, tt := range tests {
		c.send(tt.msg)
		f, _ := c.waitFor("error")
		assert.Equal(t, tt.code, f.Error, "%v", tt.msg)
	}

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f, _ := c.waitFor("error")
	assert.Equal(t, "bad_payload", f.Error)

	c.send(map[string]any{"type": "ping"})
	c.waitFor("pong")
}

func TestWS_RateLimited(t *testing.T) {
	s := newTestServer(t, serverOpts{jwtSecret: "jwt-secret", limit: 1})
	c := s.dialAs(t, "alice", "laptop")

	c.send(map[string]any{"type": "create_room", "request": "1", "name": "one"})
	c.waitFor("ack")
	c.send(map[string]any{"type": "create_room", "request": "2", "name": "two"})
	f, _ := c.waitFor("error")
	assert.Equal(t, "rate_limited", f.Error)

	// Reads are not limited.
	c.send(map[string]any{"type": "whoami"})
	c.waitFor("whoami")
}

func TestWS_RequiresToken(t *testing.T) {
	s := newTestServer(t, serverOpts{jwtSecret: "jwt-secret"})
	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL("laptop"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := s.verifier.Issue("alice", time.Minute)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("laptop")+"&token="+tok, nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestWS_GuestSessionIsOneUser(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	dialer := &websocket.Dialer{Jar: jar, HandshakeTimeout: 3 * time.Second}

	dial := func(device string) *client {
		conn, _, err := dialer.Dial(s.wsURL(device), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return &client{t: t, conn: conn}
	}
	first := dial("tab1")
	second := dial("tab2")

	first.send(map[string]any{"type": "whoami"})
	w1, _ := first.waitFor("whoami")
	second.send(map[string]any{"type": "whoami"})
	w2, _ := second.waitFor("whoami")

	assert.NotEmpty(t, w1.User)
	assert.Equal(t, w1.User, w2.User)
	assert.NotEqual(t, w1.Connection, w2.Connection)
	assert.Equal(t, "tab2", w2.Device)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	assert.Equal(t, http.StatusOK, s.getJSON(t, "/healthz", nil))

	down := newTestServer(t, serverOpts{health: func(context.Context) error { return errors.New("db down") }})
	assert.Equal(t, http.StatusServiceUnavailable, down.getJSON(t, "/healthz", nil))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, serverOpts{})
	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "musicroom_active_connections")
}

func TestShutdown_DrainsConnectionsWithoutEviction(t *testing.T) {
	s := newTestServer(t, serverOpts{jwtSecret: "jwt-secret"})
	alice := s.dialAs(t, "alice", "laptop")
	alice.send(map[string]any{"type": "create_room", "request": "c1", "name": "Friday"})
	ack, _ := alice.waitFor("ack")
	bob := s.dialAs(t, "bob", "phone")
	bob.send(map[string]any{"type": "join_room", "request": "j1", "room": ack.Room})
	bob.waitFor("ack")

	s.orch.BeginShutdown()
	s.stopConns()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.ctrl.Drain(ctx))

	for _, user := range []domain.UserID{"alice", "bob"} {
		devices, err := s.store.Devices().ListByUser(ctx, user)
		require.NoError(t, err)
		assert.Empty(t, devices, user)
	}
	_, err := s.store.Rooms().Get(ctx, domain.RoomID(ack.Room))
	require.NoError(t, err)
}
