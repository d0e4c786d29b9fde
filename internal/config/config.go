package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Client configures the messaging core running inside the app.
type Client struct {
	ServerURL            string
	TokenURL             string
	HistoryURL           string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	ConnectionTimeout    time.Duration
	ResponseTimeout      time.Duration
	PongTimeout          time.Duration
	TypingTimeout        time.Duration
	TypingExpiry         time.Duration
	HistoryPageSize      int
	Debug                bool
	SQLITEDsn            string
}

// Relay configures the development broker.
type Relay struct {
	Addr           string
	JWTSecret      string
	JWTTTLMin      int
	DBDriver       string
	SQLITEDsn      string
	PostgresDsn    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	KafkaBrokers   []string
	KafkaTopic     string
	RateLimitRPS   int
	AllowAnonymous bool
	Debug          bool
}

type Config struct {
	Client Client
	Relay  Relay
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val != "" {
		return val
	}
	return def
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getms(key string, def time.Duration) time.Duration {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func getbool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

func getlist(key string) []string {
	raw := getenv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultClient returns the stated defaults: 3s reconnect base, 10 attempts,
// 30s heartbeat, 5s connect timeout.
func DefaultClient() Client {
	return Client{
		ServerURL:            "ws://localhost:8080/ws",
		TokenURL:             "http://localhost:8080/api/socket/token",
		HistoryURL:           "http://localhost:8080/api/conversations",
		ReconnectInterval:    3 * time.Second,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    30 * time.Second,
		ConnectionTimeout:    5 * time.Second,
		ResponseTimeout:      10 * time.Second,
		PongTimeout:          10 * time.Second,
		TypingTimeout:        3 * time.Second,
		TypingExpiry:         5 * time.Second,
		HistoryPageSize:      50,
		SQLITEDsn:            "file:mmchat-client.db?_pragma=foreign_keys(ON)",
	}
}

func MustLoad() Config {
	def := DefaultClient()
	debug := getbool("MMCHAT_DEBUG", false)

	client := Client{
		ServerURL:            getenv("MMCHAT_WS_URL", def.ServerURL),
		TokenURL:             getenv("MMCHAT_TOKEN_URL", def.TokenURL),
		HistoryURL:           getenv("MMCHAT_HISTORY_URL", def.HistoryURL),
		ReconnectInterval:    getms("MMCHAT_RECONNECT_INTERVAL_MS", def.ReconnectInterval),
		MaxReconnectAttempts: getint("MMCHAT_MAX_RECONNECT_ATTEMPTS", def.MaxReconnectAttempts),
		HeartbeatInterval:    getms("MMCHAT_HEARTBEAT_INTERVAL_MS", def.HeartbeatInterval),
		ConnectionTimeout:    getms("MMCHAT_CONNECTION_TIMEOUT_MS", def.ConnectionTimeout),
		ResponseTimeout:      getms("MMCHAT_RESPONSE_TIMEOUT_MS", def.ResponseTimeout),
		PongTimeout:          getms("MMCHAT_PONG_TIMEOUT_MS", def.PongTimeout),
		TypingTimeout:        getms("MMCHAT_TYPING_TIMEOUT_MS", def.TypingTimeout),
		TypingExpiry:         getms("MMCHAT_TYPING_EXPIRY_MS", def.TypingExpiry),
		HistoryPageSize:      getint("MMCHAT_HISTORY_PAGE_SIZE", def.HistoryPageSize),
		Debug:                debug,
		SQLITEDsn:            getenv("SQLITE_DSN", def.SQLITEDsn),
	}

	relay := Relay{
		Addr:           getenv("HTTP_ADDR", ":8080"),
		JWTSecret:      getenv("JWT_SECRET", ""),
		JWTTTLMin:      getint("JWT_TTL_MIN", 15),
		DBDriver:       getenv("RELAY_DB_DRIVER", "sqlite"),
		SQLITEDsn:      getenv("RELAY_SQLITE_DSN", "file:mmchat-relay.db?_pragma=foreign_keys(ON)"),
		PostgresDsn:    getenv("POSTGRES_DSN", ""),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		RedisDB:        getint("REDIS_DB", 0),
		KafkaBrokers:   getlist("KAFKA_BROKERS"),
		KafkaTopic:     getenv("KAFKA_TOPIC", "mmchat.messages"),
		RateLimitRPS:   getint("RELAY_RATE_LIMIT_RPS", 20),
		AllowAnonymous: getbool("RELAY_ALLOW_ANONYMOUS", false),
		Debug:          debug,
	}
	return Config{Client: client, Relay: relay}
}
