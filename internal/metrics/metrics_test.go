package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSessionState(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSession(reg)

	s.SetState("connected")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.state.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(s.state.WithLabelValues("reconnecting")))

	s.SetState("reconnecting")
	s.ReconnectAttempt()
	s.SetQueued(3)
	assert.Equal(t, 0.0, testutil.ToFloat64(s.state.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.reconnects))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.queued))
}

func TestNilSessionIsSafe(t *testing.T) {
	var s *Session
	assert.NotPanics(t, func() {
		s.SetState("connected")
		s.ReconnectAttempt()
		s.SetQueued(1)
		s.Dropped()
	})
}
