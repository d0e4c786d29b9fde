// Package transport owns the realtime socket: dialing with a token, the
// heartbeat, reconnecting with backoff and queueing frames while offline.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/config"
	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
	"github.com/ageniuscoder/mmchat/realtime/internal/metrics"
	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrResponseTimeout = errors.New("response timeout")
	ErrDestroyed       = errors.New("session destroyed")
	ErrServer          = errors.New("server error")
)

// TokenFetcher returns a socket token for userID.
type TokenFetcher interface {
	Token(ctx context.Context, userID string) (string, error)
}

type Option func(*Session)

func WithTokenSource(t TokenFetcher) Option {
	return func(s *Session) { s.tokens = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = logging.OrNop(l).Named("transport") }
}

func WithMetrics(m *metrics.Session) Option {
	return func(s *Session) { s.metrics = m }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithStateListener is called after every connection state change, outside
// the session lock.
func WithStateListener(fn func(model.ConnectionState, int)) Option {
	return func(s *Session) { s.onState = fn }
}

// WithEventHandler receives every decoded inbound event, in arrival order, on
// the connection's read goroutine.
func WithEventHandler(fn func(protocol.Event)) Option {
	return func(s *Session) { s.onEvent = fn }
}

// WithGiveUpHandler is called once the reconnect attempts are exhausted.
func WithGiveUpHandler(fn func()) Option {
	return func(s *Session) { s.onGiveUp = fn }
}

type result struct {
	env protocol.Envelope
	err error
}

type Session struct {
	cfg      config.Client
	tokens   TokenFetcher
	dialer   *websocket.Dialer
	log      *zap.Logger
	metrics  *metrics.Session
	onState  func(model.ConnectionState, int)
	onEvent  func(protocol.Event)
	onGiveUp func()

	mu        sync.Mutex
	state     model.ConnectionState
	attempts  int
	userID    string
	room      string
	gen       uint64
	conn      *websocket.Conn
	out       chan []byte
	queue     [][]byte
	inflight  [][]byte
	pending   map[string]chan result
	timer     *time.Timer
	gaveUp    bool
	destroyed bool
}

// New builds an isolated session. Most callers go through Init.
func New(cfg config.Client, opts ...Option) *Session {
	s := &Session{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		log:     zap.NewNop(),
		state:   model.Disconnected,
		pending: make(map[string]chan result),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ReconnectDelay is the wait before reconnect attempt k (1-based):
// base * 1.5^(k-1).
func ReconnectDelay(base time.Duration, k int) time.Duration {
	if k < 1 {
		k = 1
	}
	return time.Duration(float64(base) * math.Pow(1.5, float64(k-1)))
}

func (s *Session) State() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Queued is the number of frames waiting for a connection.
func (s *Session) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ReconnectPending reports whether a reconnect attempt is scheduled.
func (s *Session) ReconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// SetRoom records the conversation to rejoin after a reconnect. Empty clears it.
func (s *Session) SetRoom(conversationID string) {
	s.mu.Lock()
	s.room = conversationID
	s.mu.Unlock()
}

// Connect opens the socket for userID. It is a no-op while connected or
// connecting. When the server does not answer within the connection timeout
// the session silently stays disconnected and Connect returns nil.
func (s *Session) Connect(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.state == model.Connected || s.state == model.Connecting {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	s.userID = userID
	s.attempts = 0
	s.gaveUp = false
	s.gen++
	gen := s.gen
	s.state = model.Connecting
	s.mu.Unlock()
	s.emitState(model.Connecting, 0)

	conn, err := s.dial(ctx, userID)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		s.mu.Lock()
		if s.gen == gen && s.state == model.Connecting {
			s.state = model.Disconnected
			s.mu.Unlock()
			s.emitState(model.Disconnected, 0)
		} else {
			s.mu.Unlock()
		}
		if timedOut {
			s.log.Warn("connect timed out, continuing without realtime",
				zap.Duration("timeout", s.cfg.ConnectionTimeout))
			return nil
		}
		return fmt.Errorf("connect: %w", err)
	}
	s.opened(gen, conn)
	return nil
}

// Disconnect closes the socket and cancels any scheduled reconnect. Queued
// frames are kept for the next Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	changed := s.closeLocked()
	attempts := s.attempts
	s.mu.Unlock()
	if changed {
		s.emitState(model.Disconnected, attempts)
	}
}

// Destroy ends the session for good. Pending requests fail with ErrDestroyed
// and nothing reconnects afterwards.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	changed := s.closeLocked()
	pending := s.pending
	s.pending = make(map[string]chan result)
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: ErrDestroyed}
	}
	if changed {
		s.emitState(model.Disconnected, 0)
	}
}

func (s *Session) closeLocked() bool {
	s.stopTimerLocked()
	s.gen++
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.conn = nil
	s.inflight = nil
	s.attempts = 0
	changed := s.state != model.Disconnected
	s.state = model.Disconnected
	return changed
}

// Send emits typ with payload when connected. Otherwise the frame is queued
// and, unless one is already underway, a reconnect is scheduled.
func (s *Session) Send(typ string, payload any) error {
	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if s.state == model.Connected {
		s.deliverLocked(frame)
		s.mu.Unlock()
		return nil
	}
	s.queue = append(s.queue, frame)
	s.metrics.SetQueued(len(s.queue))
	var notify func()
	if s.state == model.Disconnected && !s.gaveUp {
		notify = s.scheduleReconnectLocked()
	}
	s.mu.Unlock()
	s.log.Debug("queued frame while offline", zap.String("type", typ))
	if notify != nil {
		notify()
	}
	return nil
}

// Request sends typ and waits for the frame whose reply_to matches. It fails
// with ErrNotConnected right away when there is no live connection.
func (s *Session) Request(ctx context.Context, typ string, payload any) (protocol.Envelope, error) {
	env, err := protocol.NewEnvelope(typ, payload)
	if err != nil {
		return protocol.Envelope{}, err
	}
	env.ID = uuid.NewString()
	frame, err := json.Marshal(env)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}

	ch := make(chan result, 1)
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return protocol.Envelope{}, ErrDestroyed
	}
	if s.state != model.Connected {
		s.mu.Unlock()
		return protocol.Envelope{}, ErrNotConnected
	}
	s.pending[env.ID] = ch
	s.deliverLocked(frame)
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.ResponseTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return protocol.Envelope{}, res.err
		}
		if res.env.Type == protocol.Error {
			var e protocol.ErrorEvent
			_ = res.env.Bind(&e)
			return res.env, fmt.Errorf("%w: %s", ErrServer, e.Message)
		}
		return res.env, nil
	case <-timer.C:
		s.dropPending(env.ID)
		return protocol.Envelope{}, fmt.Errorf("%s: %w", typ, ErrResponseTimeout)
	case <-ctx.Done():
		s.dropPending(env.ID)
		return protocol.Envelope{}, ctx.Err()
	}
}

func (s *Session) dropPending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// deliverLocked hands frame to the write pump and tracks it as in flight
// until the pump has written it. A full buffer means the peer stopped
// reading: the frame is queued and the connection dropped so the reconnect
// path flushes it.
func (s *Session) deliverLocked(frame []byte) {
	select {
	case s.out <- frame:
		s.inflight = append(s.inflight, frame)
	default:
		s.log.Warn("send buffer full, recycling connection")
		s.queue = append(s.queue, frame)
		s.metrics.SetQueued(len(s.queue))
		if s.conn != nil {
			_ = s.conn.Close()
		}
	}
}

func (s *Session) dial(ctx context.Context, userID string) (*websocket.Conn, error) {
	token := ""
	if s.tokens != nil {
		t, err := s.tokens.Token(ctx, userID)
		if err != nil {
			s.log.Warn("token fetch failed, dialing without token", zap.Error(err))
		} else {
			token = t
		}
	}

	u, err := url.Parse(s.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	if userID != "" {
		q.Set("userId", userID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()
	conn, resp, err := s.dialer.DialContext(dialCtx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		var ne net.Error
		if dialCtx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
			return nil, fmt.Errorf("dial %s: %w", u.Host, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	return conn, nil
}

// opened installs conn as the live connection if no Disconnect or newer
// Connect happened while dialing. The queue is flushed first, then the
// previous room is rejoined. Flushed frames stay in flight until written, so
// a link that dies mid-flush hands them back to the queue.
func (s *Session) opened(gen uint64, conn *websocket.Conn) {
	s.mu.Lock()
	if s.destroyed || s.gen != gen {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	initial := s.queue
	s.queue = nil
	if s.room != "" {
		if frame, err := joinFrame(s.room); err == nil {
			initial = append(initial, frame)
		}
	}
	s.inflight = append([][]byte(nil), initial...)
	out := make(chan []byte, sendBuffer)
	s.conn = conn
	s.out = out
	s.attempts = 0
	s.state = model.Connected
	s.metrics.SetQueued(0)
	s.mu.Unlock()

	s.log.Info("connected", zap.Int("flushed", len(initial)))
	s.emitState(model.Connected, 0)

	go s.writePump(gen, conn, out, initial)
	go s.readPump(gen, conn)
}

func joinFrame(room string) ([]byte, error) {
	env, err := protocol.NewEnvelope(protocol.ConversationJoin, protocol.RoomPayload{ConversationID: room})
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// lost handles an abnormal close of the connection from generation gen.
// Frames that never made it onto the wire go back to the head of the queue,
// ahead of anything queued since.
func (s *Session) lost(gen uint64, cause error) {
	s.mu.Lock()
	if s.gen != gen || s.destroyed {
		s.mu.Unlock()
		return
	}
	s.gen++
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	requeued := len(s.inflight)
	if requeued > 0 {
		s.queue = append(s.inflight, s.queue...)
		s.inflight = nil
		s.metrics.SetQueued(len(s.queue))
	}
	s.state = model.Disconnected
	s.log.Warn("connection lost", zap.Int("requeued", requeued), zap.Error(cause))
	notify := s.scheduleReconnectLocked()
	s.mu.Unlock()
	notify()
}

// scheduleReconnectLocked arms the reconnect timer for the next attempt or
// gives up when the attempts are exhausted. The returned func emits the
// resulting state and must run after the lock is released.
func (s *Session) scheduleReconnectLocked() func() {
	if s.timer != nil {
		return func() {}
	}
	if s.attempts >= s.cfg.MaxReconnectAttempts {
		s.state = model.Disconnected
		s.gaveUp = true
		attempts := s.attempts
		s.log.Error("giving up reconnecting", zap.Int("attempts", attempts))
		return func() {
			s.emitState(model.Disconnected, attempts)
			if s.onGiveUp != nil {
				s.onGiveUp()
			}
		}
	}
	s.attempts++
	attempts := s.attempts
	delay := ReconnectDelay(s.cfg.ReconnectInterval, attempts)
	s.state = model.Reconnecting
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.reconnect(gen) })
	s.metrics.ReconnectAttempt()
	s.log.Info("reconnect scheduled", zap.Int("attempt", attempts), zap.Duration("delay", delay))
	return func() { s.emitState(model.Reconnecting, attempts) }
}

func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.destroyed || s.state != model.Reconnecting {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	userID := s.userID
	s.mu.Unlock()

	conn, err := s.dial(context.Background(), userID)
	if err != nil {
		s.mu.Lock()
		if s.gen != gen || s.destroyed {
			s.mu.Unlock()
			return
		}
		s.log.Warn("reconnect failed", zap.Int("attempt", s.attempts), zap.Error(err))
		notify := s.scheduleReconnectLocked()
		s.mu.Unlock()
		notify()
		return
	}
	s.opened(gen, conn)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) emitState(state model.ConnectionState, attempts int) {
	s.metrics.SetState(string(state))
	if s.onState != nil {
		s.onState(state, attempts)
	}
}

func (s *Session) liveness() time.Duration {
	return s.cfg.HeartbeatInterval + s.cfg.PongTimeout
}

// readPump reads frames until the connection fails. Every inbound frame,
// including control frames, pushes the read deadline out; a link that stays
// silent past heartbeat plus pong timeout is treated as dead.
func (s *Session) readPump(gen uint64, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.liveness()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.liveness()))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.liveness()))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.lost(gen, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.liveness()))
		s.handleFrame(data)
	}
}

func (s *Session) handleFrame(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.metrics.Dropped()
		s.log.Debug("malformed frame", zap.Error(err))
		return
	}
	if env.ReplyTo != "" {
		s.mu.Lock()
		ch, ok := s.pending[env.ReplyTo]
		delete(s.pending, env.ReplyTo)
		s.mu.Unlock()
		if ok {
			ch <- result{env: env}
		}
	}
	ev, err := protocol.Decode(env)
	if err != nil {
		s.metrics.Dropped()
		s.log.Debug("undecodable frame", zap.String("type", env.Type), zap.Error(err))
		return
	}
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// writePump owns all data writes on conn. initial is written before anything
// sent through out, which keeps the offline queue ahead of new frames.
func (s *Session) writePump(gen uint64, conn *websocket.Conn, out <-chan []byte, initial [][]byte) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for _, frame := range initial {
		if err := s.writeTracked(gen, conn, frame); err != nil {
			s.log.Warn("flush failed", zap.Error(err))
			return
		}
	}

	for {
		select {
		case frame, ok := <-out:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.writeTracked(gen, conn, frame); err != nil {
				return
			}
		case <-ticker.C:
			env, err := protocol.NewEnvelope(protocol.Ping, protocol.PingPayload{Timestamp: time.Now().UnixMilli()})
			if err != nil {
				continue
			}
			frame, _ := json.Marshal(env)
			if err := write(conn, frame); err != nil {
				return
			}
		}
	}
}

// writeTracked writes frame and then drops it from the head of the in-flight
// list of connection gen.
func (s *Session) writeTracked(gen uint64, conn *websocket.Conn, frame []byte) error {
	if err := write(conn, frame); err != nil {
		return err
	}
	s.mu.Lock()
	if s.gen == gen && len(s.inflight) > 0 {
		s.inflight = s.inflight[1:]
	}
	s.mu.Unlock()
	return nil
}

func write(conn *websocket.Conn, frame []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}
