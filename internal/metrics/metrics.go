// Package metrics exposes prometheus collectors for the transport session and
// the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session tracks one transport session. A nil *Session is valid and records
// nothing.
type Session struct {
	state      *prometheus.GaugeVec
	reconnects prometheus.Counter
	queued     prometheus.Gauge
	dropped    prometheus.Counter
}

// NewSession registers the session collectors on reg.
func NewSession(reg prometheus.Registerer) *Session {
	s := &Session{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mmchat_session_state",
			Help: "1 for the current connection state of the realtime session",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mmchat_session_reconnect_attempts_total",
			Help: "Reconnect attempts made by the realtime session",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mmchat_session_queued_frames",
			Help: "Outbound frames waiting for a connection",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mmchat_session_inbound_dropped_total",
			Help: "Inbound frames that could not be decoded",
		}),
	}
	reg.MustRegister(s.state, s.reconnects, s.queued, s.dropped)
	return s
}

var states = []string{"disconnected", "connecting", "connected", "reconnecting"}

func (s *Session) SetState(state string) {
	if s == nil {
		return
	}
	for _, st := range states {
		v := 0.0
		if st == state {
			v = 1
		}
		s.state.WithLabelValues(st).Set(v)
	}
}

func (s *Session) ReconnectAttempt() {
	if s == nil {
		return
	}
	s.reconnects.Inc()
}

func (s *Session) SetQueued(n int) {
	if s == nil {
		return
	}
	s.queued.Set(float64(n))
}

func (s *Session) Dropped() {
	if s == nil {
		return
	}
	s.dropped.Inc()
}

// Relay tracks the development broker.
type Relay struct {
	Connections prometheus.Gauge
	Frames      *prometheus.CounterVec
	RateLimited prometheus.Counter
}

func NewRelay(reg prometheus.Registerer) *Relay {
	r := &Relay{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Active websocket connections",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mmchat_relay_frames_total",
			Help: "Inbound frames handled by the relay, by event type",
		}, []string{"type"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mmchat_relay_rate_limited_total",
			Help: "Inbound frames rejected by the per-connection limiter",
		}),
	}
	reg.MustRegister(r.Connections, r.Frames, r.RateLimited)
	return r
}

// Handler returns an http.Handler for Prometheus scraping of g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
