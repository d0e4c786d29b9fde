package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMustLoadDefaults(t *testing.T) {
	cfg := MustLoad()

	assert.Equal(t, 3*time.Second, cfg.Client.ReconnectInterval)
	assert.Equal(t, 10, cfg.Client.MaxReconnectAttempts)
	assert.Equal(t, 30*time.Second, cfg.Client.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Client.ConnectionTimeout)
	assert.Equal(t, 3*time.Second, cfg.Client.TypingTimeout)
	assert.Equal(t, "sqlite", cfg.Relay.DBDriver)
}

func TestMustLoadOverrides(t *testing.T) {
	t.Setenv("MMCHAT_WS_URL", "ws://chat.example.com/ws")
	t.Setenv("MMCHAT_RECONNECT_INTERVAL_MS", "1500")
	t.Setenv("MMCHAT_MAX_RECONNECT_ATTEMPTS", "4")
	t.Setenv("MMCHAT_DEBUG", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg := MustLoad()

	assert.Equal(t, "ws://chat.example.com/ws", cfg.Client.ServerURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Client.ReconnectInterval)
	assert.Equal(t, 4, cfg.Client.MaxReconnectAttempts)
	assert.True(t, cfg.Client.Debug)
	assert.True(t, cfg.Relay.Debug)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Relay.KafkaBrokers)
}

func TestMustLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("MMCHAT_HEARTBEAT_INTERVAL_MS", "soon")
	t.Setenv("MMCHAT_CONNECTION_TIMEOUT_MS", "-5")

	cfg := MustLoad()

	assert.Equal(t, 30*time.Second, cfg.Client.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Client.ConnectionTimeout)
}
