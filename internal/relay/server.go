// Package relay is a development broker speaking the realtime protocol: it
// issues socket tokens, serves history pages and routes frames between
// connected clients.
package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ageniuscoder/mmchat/realtime/internal/auth"
	"github.com/ageniuscoder/mmchat/realtime/internal/config"
	"github.com/ageniuscoder/mmchat/realtime/internal/httpx"
	"github.com/ageniuscoder/mmchat/realtime/internal/logging"
	"github.com/ageniuscoder/mmchat/realtime/internal/metrics"
	"github.com/ageniuscoder/mmchat/realtime/internal/model"
	"github.com/ageniuscoder/mmchat/realtime/internal/protocol"
)

const devSecret = "mmchat-dev-secret"

// MessageRepository is the history store behind the relay.
type MessageRepository interface {
	Insert(ctx context.Context, m protocol.WireMessage) error
	Get(ctx context.Context, id string) (protocol.WireMessage, error)
	Update(ctx context.Context, m protocol.WireMessage) error
	Delete(ctx context.Context, id string) error
	Page(ctx context.Context, conversationID, before string, limit int) ([]protocol.WireMessage, error)
}

type Server struct {
	cfg      config.Relay
	hub      *Hub
	repo     MessageRepository
	presence Presence
	pub      Publisher
	metrics  *metrics.Relay
	gatherer prometheus.Gatherer
	health   func(context.Context) error
	log      *zap.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
	now      func() time.Time
}

type Option func(*Server)

func WithPresence(p Presence) Option   { return func(s *Server) { s.presence = p } }
func WithPublisher(p Publisher) Option { return func(s *Server) { s.pub = p } }
func WithLogger(l *zap.Logger) Option  { return func(s *Server) { s.log = logging.OrNop(l).Named("relay") } }

// WithRegistry registers the relay collectors on reg and serves it on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = metrics.NewRelay(reg)
		s.gatherer = reg
	}
}

// WithHealthCheck is run by GET /health, typically the database ping.
func WithHealthCheck(fn func(context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

func NewServer(cfg config.Relay, repo MessageRepository, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		repo:     repo,
		presence: NewMemoryPresence(),
		pub:      NopPublisher{},
		log:      zap.NewNop(),
		validate: newValidator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Allow CORS for local development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.JWTSecret == "" {
		s.log.Warn("JWT_SECRET not set, using the development secret")
		s.cfg.JWTSecret = devSecret
	}
	if s.cfg.JWTTTLMin <= 0 {
		s.cfg.JWTTTLMin = 15
	}
	s.hub = NewHub(s.metrics, s.log, s.presenceChanged)
	return s
}

// Start runs the hub until ctx is done. It must be called before serving.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
}

func (s *Server) presenceChanged(userID string, online bool) {
	status := model.PresenceOffline
	if online {
		status = model.PresenceOnline
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.setStatus(ctx, userID, status, nil)
}

func (s *Server) Router() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/health", s.healthz)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(s.gatherer)))
	}

	api := r.Group("/api")
	api.GET("/socket/token", s.token)

	authed := auth.JWTMiddleware(s.cfg.JWTSecret, s.cfg.AllowAnonymous)
	api.GET("/conversations/:id/messages", authed, s.history)
	api.GET("/users/:id/status", authed, s.status)
	r.GET("/ws", authed, s.serveWS)
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			httpx.Err(c, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	httpx.OK(c, gin.H{"status": "ok"})
}

type tokenReq struct {
	UserID string `form:"userId" binding:"required"`
}

func (s *Server) token(c *gin.Context) {
	var req tokenReq
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	tok, err := auth.NewToken(s.cfg.JWTSecret, req.UserID, s.cfg.JWTTTLMin)
	if err != nil {
		s.log.Error("sign token", zap.Error(err))
		httpx.Err(c, http.StatusInternalServerError, "could not issue token")
		return
	}
	httpx.OK(c, gin.H{"token": tok})
}

type pageReq struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
	Before string `form:"before"`
}

func (s *Server) history(c *gin.Context) {
	var req pageReq
	if err := c.ShouldBindQuery(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = 50
	}
	msgs, err := s.repo.Page(c.Request.Context(), c.Param("id"), req.Before, req.Limit)
	if err != nil {
		s.log.Error("history page", zap.String("conversation_id", c.Param("id")), zap.Error(err))
		httpx.Err(c, http.StatusInternalServerError, "could not load messages")
		return
	}
	if msgs == nil {
		msgs = []protocol.WireMessage{}
	}
	httpx.OK(c, gin.H{"messages": msgs})
}

func (s *Server) status(c *gin.Context) {
	st, err := s.presence.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.log.Error("presence lookup", zap.String("user_id", c.Param("id")), zap.Error(err))
		httpx.Err(c, http.StatusInternalServerError, "could not load status")
		return
	}
	httpx.OK(c, st)
}

func (s *Server) serveWS(c *gin.Context) {
	uid := auth.MustUserID(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := newClient(s.hub, conn, uid, s.cfg.RateLimitRPS)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump(s.handleFrame, s.log)
}

// ListenAndServe runs the hub and the HTTP server until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.Start(ctx)
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("relay listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := s.pub.Close(); err != nil {
		s.log.Warn("close publisher", zap.Error(err))
	}
	return nil
}
