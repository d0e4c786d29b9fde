package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ageniuscoder/mmchat/realtime/internal/model"
)

// presenceTTL bounds how long a status outlives a relay that died without
// marking its users offline.
const presenceTTL = 2 * time.Minute

// Presence stores the last known status per user.
type Presence interface {
	Set(ctx context.Context, st model.UserStatus) error
	Get(ctx context.Context, userID string) (model.UserStatus, error)
}

type MemoryPresence struct {
	mu       sync.RWMutex
	statuses map[string]model.UserStatus
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{statuses: make(map[string]model.UserStatus)}
}

func (p *MemoryPresence) Set(_ context.Context, st model.UserStatus) error {
	p.mu.Lock()
	p.statuses[st.UserID] = st
	p.mu.Unlock()
	return nil
}

// Get returns offline for users never seen.
func (p *MemoryPresence) Get(_ context.Context, userID string) (model.UserStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if st, ok := p.statuses[userID]; ok {
		return st, nil
	}
	return model.UserStatus{UserID: userID, Status: model.PresenceOffline}, nil
}

// RedisPresence keeps statuses under presence:<userID> so several relay
// processes share them.
type RedisPresence struct {
	Cli *redis.Client
}

func NewRedisPresence(ctx context.Context, addr, password string, db int) (*RedisPresence, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisPresence{Cli: r}, nil
}

func presenceKey(userID string) string { return "presence:" + userID }

func (p *RedisPresence) Set(ctx context.Context, st model.UserStatus) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return p.Cli.Set(ctx, presenceKey(st.UserID), b, presenceTTL).Err()
}

func (p *RedisPresence) Get(ctx context.Context, userID string) (model.UserStatus, error) {
	s, err := p.Cli.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return model.UserStatus{UserID: userID, Status: model.PresenceOffline}, nil
	}
	if err != nil {
		return model.UserStatus{}, err
	}
	var st model.UserStatus
	if err := json.Unmarshal([]byte(s), &st); err != nil {
		return model.UserStatus{}, fmt.Errorf("decode presence for %s: %w", userID, err)
	}
	return st, nil
}

func (p *RedisPresence) Close() error {
	return p.Cli.Close()
}
