package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/realtime/internal/config"
	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

type fakeServer struct {
	*httptest.Server
	frames  chan protocol.Envelope
	conns   chan *websocket.Conn
	queries chan string
	reply   bool
}

func newFakeServer(t *testing.T, reply bool) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		frames:  make(chan protocol.Envelope, 64),
		conns:   make(chan *websocket.Conn, 8),
		queries: make(chan string, 8),
		reply:   reply,
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.queries <- r.URL.RawQuery
		fs.conns <- conn
		defer conn.Close()
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if fs.reply && env.Type == protocol.Ping && env.ID != "" {
				rep, _ := protocol.Reply(env, protocol.Pong, protocol.PongEvent{Timestamp: 1})
				_ = conn.WriteJSON(rep)
			}
			fs.frames <- env
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func testConfig(url string) config.Client {
	cfg := config.DefaultClient()
	cfg.ServerURL = url
	cfg.ReconnectInterval = 10 * time.Millisecond
	cfg.ConnectionTimeout = time.Second
	cfg.ResponseTimeout = time.Second
	return cfg
}

func nextFrame(t *testing.T, ch <-chan protocol.Envelope) protocol.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return protocol.Envelope{}
	}
}

func TestReconnectDelay(t *testing.T) {
	base := 3 * time.Second
	assert.Equal(t, 3*time.Second, ReconnectDelay(base, 1))
	assert.Equal(t, 4500*time.Millisecond, ReconnectDelay(base, 2))
	assert.Equal(t, 6750*time.Millisecond, ReconnectDelay(base, 3))
	assert.Equal(t, base, ReconnectDelay(base, 0))
}

func TestSendWhileDisconnectedQueuesAndSchedulesReconnect(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1/ws")
	cfg.ReconnectInterval = time.Hour
	s := New(cfg)
	defer s.Destroy()

	require.NoError(t, s.Send(protocol.MessageSend, map[string]string{"text": "hi"}))

	assert.Equal(t, 1, s.Queued())
	assert.True(t, s.ReconnectPending())
	assert.Equal(t, model.Reconnecting, s.State())
	assert.Equal(t, 1, s.Attempts())
}

func TestRequestWhileDisconnected(t *testing.T) {
	s := New(testConfig("ws://127.0.0.1:1/ws"))
	defer s.Destroy()

	_, err := s.Request(context.Background(), protocol.Ping, protocol.PingPayload{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, s.Queued())
}

func TestQueueFlushedInOrder(t *testing.T) {
	fs := newFakeServer(t, false)
	cfg := testConfig(fs.wsURL())
	cfg.ReconnectInterval = time.Hour
	s := New(cfg)
	defer s.Destroy()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Send(protocol.MessageSend, protocol.SendMessagePayload{
			ClientID: string(rune('a' + i)),
		}))
	}
	require.Equal(t, 5, s.Queued())

	require.NoError(t, s.Connect(context.Background(), "u1"))
	assert.Equal(t, model.Connected, s.State())
	assert.Contains(t, <-fs.queries, "userId=u1")

	for i := 0; i < 5; i++ {
		env := nextFrame(t, fs.frames)
		var p protocol.SendMessagePayload
		require.NoError(t, env.Bind(&p))
		assert.Equal(t, string(rune('a'+i)), p.ClientID)
	}
	assert.Zero(t, s.Queued())

	require.NoError(t, s.Send(protocol.TypingStart, protocol.TypingPayload{ConversationID: "c1"}))
	assert.Equal(t, protocol.TypingStart, nextFrame(t, fs.frames).Type)
}

type staticToken string

func (s staticToken) Token(context.Context, string) (string, error) { return string(s), nil }

func TestConnectSendsToken(t *testing.T) {
	fs := newFakeServer(t, false)
	s := New(testConfig(fs.wsURL()), WithTokenSource(staticToken("tok123")))
	defer s.Destroy()

	require.NoError(t, s.Connect(context.Background(), "u1"))
	q := <-fs.queries
	assert.Contains(t, q, "token=tok123")
	assert.Contains(t, q, "userId=u1")

	require.NoError(t, s.Connect(context.Background(), "u1"))
	select {
	case <-fs.queries:
		t.Fatal("second Connect dialed again")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGiveUpAfterMaxAttempts(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	cfg := testConfig(url)
	cfg.ReconnectInterval = time.Millisecond
	cfg.MaxReconnectAttempts = 3

	var (
		mu       sync.Mutex
		attempts []int
	)
	gaveUp := make(chan struct{})
	s := New(cfg,
		WithStateListener(func(st model.ConnectionState, n int) {
			if st == model.Reconnecting {
				mu.Lock()
				attempts = append(attempts, n)
				mu.Unlock()
			}
		}),
		WithGiveUpHandler(func() { close(gaveUp) }),
	)
	defer s.Destroy()

	require.NoError(t, s.Send(protocol.MessageSend, nil))

	select {
	case <-gaveUp:
	case <-time.After(3 * time.Second):
		t.Fatal("never gave up")
	}
	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	mu.Unlock()
	assert.Equal(t, model.Disconnected, s.State())
	assert.False(t, s.ReconnectPending())

	require.NoError(t, s.Send(protocol.MessageSend, nil))
	assert.False(t, s.ReconnectPending())
	assert.Equal(t, 2, s.Queued())
}

func TestRequestResponse(t *testing.T) {
	fs := newFakeServer(t, true)
	s := New(testConfig(fs.wsURL()))
	defer s.Destroy()
	require.NoError(t, s.Connect(context.Background(), "u1"))

	env, err := s.Request(context.Background(), protocol.Ping, protocol.PingPayload{Timestamp: 7})
	require.NoError(t, err)
	assert.Equal(t, protocol.Pong, env.Type)
}

func TestRequestTimeout(t *testing.T) {
	fs := newFakeServer(t, false)
	cfg := testConfig(fs.wsURL())
	cfg.ResponseTimeout = 50 * time.Millisecond
	s := New(cfg)
	defer s.Destroy()
	require.NoError(t, s.Connect(context.Background(), "u1"))

	_, err := s.Request(context.Background(), protocol.Ping, nil)
	assert.ErrorIs(t, err, ErrResponseTimeout)

	s.mu.Lock()
	assert.Empty(t, s.pending)
	s.mu.Unlock()
}

func TestDestroyFailsPendingRequests(t *testing.T) {
	fs := newFakeServer(t, false)
	s := New(testConfig(fs.wsURL()))
	require.NoError(t, s.Connect(context.Background(), "u1"))

	errs := make(chan error, 1)
	go func() {
		_, err := s.Request(context.Background(), protocol.Ping, nil)
		errs <- err
	}()
	nextFrame(t, fs.frames)
	s.Destroy()

	assert.ErrorIs(t, <-errs, ErrDestroyed)
	assert.ErrorIs(t, s.Connect(context.Background(), "u1"), ErrDestroyed)
	assert.ErrorIs(t, s.Send(protocol.Ping, nil), ErrDestroyed)
}

func TestReconnectRejoinsRoom(t *testing.T) {
	fs := newFakeServer(t, false)
	s := New(testConfig(fs.wsURL()))
	defer s.Destroy()

	require.NoError(t, s.Connect(context.Background(), "u1"))
	s.SetRoom("c42")
	first := <-fs.conns
	<-fs.queries
	require.NoError(t, first.Close())

	<-fs.queries
	env := nextFrame(t, fs.frames)
	assert.Equal(t, protocol.ConversationJoin, env.Type)
	var room protocol.RoomPayload
	require.NoError(t, env.Bind(&room))
	assert.Equal(t, "c42", room.ConversationID)

	assert.Eventually(t, func() bool {
		return s.State() == model.Connected && s.Attempts() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestConnectTimeoutIsSilent(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.ConnectionTimeout = 50 * time.Millisecond
	s := New(cfg)
	defer s.Destroy()

	require.NoError(t, s.Connect(context.Background(), "u1"))
	assert.Equal(t, model.Disconnected, s.State())
	assert.False(t, s.ReconnectPending())
}

func TestConnectRefusedReturnsError(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	s := New(testConfig(url))
	defer s.Destroy()
	assert.Error(t, s.Connect(context.Background(), "u1"))
	assert.Equal(t, model.Disconnected, s.State())
}

func TestInboundEventsReachHandler(t *testing.T) {
	fs := newFakeServer(t, false)
	events := make(chan protocol.Event, 4)
	s := New(testConfig(fs.wsURL()), WithEventHandler(func(ev protocol.Event) { events <- ev }))
	defer s.Destroy()
	require.NoError(t, s.Connect(context.Background(), "u1"))

	conn := <-fs.conns
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	env, _ := protocol.NewEnvelope(protocol.MessageNew, protocol.WireMessage{ID: "m1", ConversationID: "c1"})
	raw, _ := json.Marshal(env)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	select {
	case ev := <-events:
		m, ok := ev.(protocol.MessageNewEvent)
		require.True(t, ok)
		assert.Equal(t, "m1", m.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	fs := newFakeServer(t, false)
	var states []model.ConnectionState
	var mu sync.Mutex
	s := New(testConfig(fs.wsURL()), WithStateListener(func(st model.ConnectionState, _ int) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	}))
	defer s.Destroy()

	require.NoError(t, s.Connect(context.Background(), "u1"))
	s.Disconnect()
	s.Disconnect()

	mu.Lock()
	assert.Equal(t, []model.ConnectionState{model.Connecting, model.Connected, model.Disconnected}, states)
	mu.Unlock()
	assert.False(t, s.ReconnectPending())
}

func TestSingleton(t *testing.T) {
	s, err := Init(testConfig("ws://127.0.0.1:1/ws"))
	require.NoError(t, err)
	again, err := Init(testConfig("ws://127.0.0.1:1/ws"))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Same(t, s, again)
	assert.Same(t, s, Default())

	Destroy()
	assert.Nil(t, Default())
	assert.ErrorIs(t, s.Send(protocol.Ping, nil), ErrDestroyed)
}

// recordingServer keeps the client ids of the message:send frames read on
// each connection, in arrival order.
type recordingServer struct {
	*httptest.Server
	mu    sync.Mutex
	conns [][]string
}

func newRecordingServer(t *testing.T, dropFirst bool) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		rs.mu.Lock()
		idx := len(rs.conns)
		rs.conns = append(rs.conns, nil)
		rs.mu.Unlock()
		if dropFirst && idx == 0 {
			return
		}
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			var p protocol.SendMessagePayload
			if env.Type != protocol.MessageSend || env.Bind(&p) != nil {
				continue
			}
			rs.mu.Lock()
			rs.conns[idx] = append(rs.conns[idx], p.ClientID)
			rs.mu.Unlock()
		}
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) wsURL() string {
	return "ws" + strings.TrimPrefix(rs.URL, "http")
}

func (rs *recordingServer) received() [][]string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([][]string, len(rs.conns))
	for i, c := range rs.conns {
		out[i] = append([]string(nil), c...)
	}
	return out
}

var errLinkDown = errors.New("link down")

// brokenConn lets the upgrade request through, then accepts budget frame
// writes before every write fails.
type brokenConn struct {
	net.Conn
	budget int32
	frames atomic.Int32
}

func (c *brokenConn) Write(p []byte) (int, error) {
	if bytes.HasPrefix(p, []byte("GET ")) {
		return c.Conn.Write(p)
	}
	if c.frames.Add(1) > c.budget {
		return 0, errLinkDown
	}
	return c.Conn.Write(p)
}

// breakFirstDial returns a dialer whose first connection breaks after
// budget frames. Later connections are healthy.
func breakFirstDial(budget int32) *websocket.Dialer {
	var dials atomic.Int32
	var d net.Dialer
	return &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil || dials.Add(1) > 1 {
				return conn, err
			}
			return &brokenConn{Conn: conn, budget: budget}, nil
		},
	}
}

func queueSends(t *testing.T, s *Session, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.Itoa(i)
		require.NoError(t, s.Send(protocol.MessageSend, protocol.SendMessagePayload{ClientID: ids[i]}))
	}
	require.Equal(t, n, s.Queued())
	return ids
}

func offlineSession(t *testing.T, url string, dialer *websocket.Dialer) *Session {
	t.Helper()
	cfg := testConfig(url)
	cfg.ReconnectInterval = time.Hour
	cfg.HeartbeatInterval = time.Hour
	s := New(cfg, WithDialer(dialer))
	t.Cleanup(s.Destroy)
	return s
}

func TestQueueSurvivesLinkDyingAfterUpgrade(t *testing.T) {
	rs := newRecordingServer(t, true)
	s := offlineSession(t, rs.wsURL(), breakFirstDial(0))
	ids := queueSends(t, s, 300)

	s.mu.Lock()
	s.cfg.ReconnectInterval = 10 * time.Millisecond
	s.mu.Unlock()
	require.NoError(t, s.Connect(context.Background(), "u1"))

	require.Eventually(t, func() bool {
		got := rs.received()
		return len(got) >= 2 && len(got[1]) == len(ids)
	}, 5*time.Second, 10*time.Millisecond)

	got := rs.received()
	assert.Empty(t, got[0])
	assert.Equal(t, ids, got[1])
	assert.Zero(t, s.Queued())
	assert.Equal(t, model.Connected, s.State())
}

func TestFlushResumesAfterPartialWrite(t *testing.T) {
	rs := newRecordingServer(t, false)
	s := offlineSession(t, rs.wsURL(), breakFirstDial(40))
	ids := queueSends(t, s, 300)

	s.mu.Lock()
	s.cfg.ReconnectInterval = 10 * time.Millisecond
	s.mu.Unlock()
	require.NoError(t, s.Connect(context.Background(), "u1"))

	require.Eventually(t, func() bool {
		got := rs.received()
		return len(got) >= 2 && len(got[0])+len(got[1]) == len(ids)
	}, 5*time.Second, 10*time.Millisecond)

	got := rs.received()
	assert.Equal(t, ids[:40], got[0])
	assert.Equal(t, ids[40:], got[1])
}
