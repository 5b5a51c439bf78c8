// Package persistence backs the runtime's snapshot and alert-mirroring
// needs behind one interface, with an in-memory default and a Redis
// implementation for multi-process deployments.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/autonomic-run/agentruntime/core"
)

// Store is the pluggable backend behind FSM/memory snapshots and the
// mirrored system-alert queue. Every operation is scoped to one agent's
// keys; no implementation may read or write across agent IDs.
type Store interface {
	SaveAgentState(ctx context.Context, agentID string, data []byte) error
	LoadAgentState(ctx context.Context, agentID string) ([]byte, bool, error)
	SaveMemorySnapshot(ctx context.Context, agentID string, data []byte) error
	LoadMemorySnapshot(ctx context.Context, agentID string) ([]byte, bool, error)
	PushAlert(ctx context.Context, agentID string, alert []byte) error
	DrainAlerts(ctx context.Context, agentID string) ([][]byte, error)
}

// InMemoryStore implements Store with plain maps, guarded by a mutex. The
// default for tests and single-process deployments.
type InMemoryStore struct {
	mu     sync.Mutex
	state  map[string][]byte
	memory map[string][]byte
	alerts map[string][][]byte
}

// NewInMemoryStore constructs an empty in-memory backend.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		state:  make(map[string][]byte),
		memory: make(map[string][]byte),
		alerts: make(map[string][][]byte),
	}
}

func (s *InMemoryStore) SaveAgentState(ctx context.Context, agentID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[agentID] = append([]byte(nil), data...)
	return nil
}

func (s *InMemoryStore) LoadAgentState(ctx context.Context, agentID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.state[agentID]
	return data, ok, nil
}

func (s *InMemoryStore) SaveMemorySnapshot(ctx context.Context, agentID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory[agentID] = append([]byte(nil), data...)
	return nil
}

func (s *InMemoryStore) LoadMemorySnapshot(ctx context.Context, agentID string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.memory[agentID]
	return data, ok, nil
}

func (s *InMemoryStore) PushAlert(ctx context.Context, agentID string, alert []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[agentID] = append(s.alerts[agentID], append([]byte(nil), alert...))
	return nil
}

func (s *InMemoryStore) DrainAlerts(ctx context.Context, agentID string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.alerts[agentID]
	delete(s.alerts, agentID)
	return pending, nil
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore implements Store against Redis, for multi-process
// deployments where several agent instances or cooperating tools share
// one backend.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore from cfg. TTL defaults to 24h,
// matching the retention window the teacher's workflow-state store uses
// for execution history.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, ttl: ttl}
}

func stateKey(agentID string) string  { return fmt.Sprintf("agent:%s:state", agentID) }
func memoryKey(agentID string) string { return fmt.Sprintf("agent:%s:memory", agentID) }
func alertsKey(agentID string) string { return fmt.Sprintf("agent:%s:alerts", agentID) }

func (s *RedisStore) SaveAgentState(ctx context.Context, agentID string, data []byte) error {
	if err := s.client.Set(ctx, stateKey(agentID), data, s.ttl).Err(); err != nil {
		return core.NewFrameworkErrorWithID("persistence.SaveAgentState", core.KindPersistence, agentID, err)
	}
	return nil
}

func (s *RedisStore) LoadAgentState(ctx context.Context, agentID string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, stateKey(agentID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, core.NewFrameworkErrorWithID("persistence.LoadAgentState", core.KindPersistence, agentID, err)
	}
	return data, true, nil
}

func (s *RedisStore) SaveMemorySnapshot(ctx context.Context, agentID string, data []byte) error {
	if err := s.client.Set(ctx, memoryKey(agentID), data, s.ttl).Err(); err != nil {
		return core.NewFrameworkErrorWithID("persistence.SaveMemorySnapshot", core.KindPersistence, agentID, err)
	}
	return nil
}

func (s *RedisStore) LoadMemorySnapshot(ctx context.Context, agentID string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, memoryKey(agentID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, core.NewFrameworkErrorWithID("persistence.LoadMemorySnapshot", core.KindPersistence, agentID, err)
	}
	return data, true, nil
}

func (s *RedisStore) PushAlert(ctx context.Context, agentID string, alert []byte) error {
	if err := s.client.LPush(ctx, alertsKey(agentID), alert).Err(); err != nil {
		return core.NewFrameworkErrorWithID("persistence.PushAlert", core.KindPersistence, agentID, err)
	}
	s.client.Expire(ctx, alertsKey(agentID), s.ttl)
	return nil
}

func (s *RedisStore) DrainAlerts(ctx context.Context, agentID string) ([][]byte, error) {
	key := alertsKey(agentID)
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, core.NewFrameworkErrorWithID("persistence.DrainAlerts", core.KindPersistence, agentID, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return nil, core.NewFrameworkErrorWithID("persistence.DrainAlerts", core.KindPersistence, agentID, err)
	}
	out := make([][]byte, len(raw))
	for i, v := range raw {
		out[i] = []byte(v)
	}
	return out, nil
}

// MarshalJSON is a convenience helper for callers snapshotting structured
// state before handing it to Store.
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
