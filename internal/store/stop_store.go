package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/risk"
)

const (
	stopKeyPrefix = "bot:stop:"
	stopTTL       = 7 * 24 * time.Hour
)

// StopStore persists trailing-stop state in Redis so accumulated best prices
// survive a restart. Without Redis (or when it is unreachable) it degrades to
// an in-memory map, which keeps the bot running at the cost of persistence.
type StopStore struct {
	rdb    *redis.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	fallback map[string][]byte
}

// NewStopStore connects to Redis when addr is set; an empty addr yields a
// memory-only store.
func NewStopStore(addr, password string, db int, logger zerolog.Logger) *StopStore {
	s := &StopStore{
		logger:   logger.With().Str("component", "stop_store").Logger(),
		fallback: make(map[string][]byte),
	}
	if addr != "" {
		s.rdb = redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	}
	return s
}

func redisKey(key risk.StopKey) string {
	return stopKeyPrefix + key.Symbol + ":" + key.Side
}

// Save writes the stop state.
func (s *StopStore) Save(ctx context.Context, stop risk.TrailingStop) error {
	data, err := json.Marshal(stop)
	if err != nil {
		return fmt.Errorf("encoding stop state: %w", err)
	}
	key := redisKey(risk.StopKey{Symbol: stop.Symbol, Side: stop.Side})

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, key, data, stopTTL).Err(); err == nil {
			return nil
		} else {
			s.logger.Warn().Err(err).Str("key", key).Msg("redis save failed, using memory fallback")
		}
	}

	s.mu.Lock()
	s.fallback[key] = data
	s.mu.Unlock()
	return nil
}

// Delete removes the stop state.
func (s *StopStore) Delete(ctx context.Context, key risk.StopKey) error {
	k := redisKey(key)
	if s.rdb != nil {
		if err := s.rdb.Del(ctx, k).Err(); err != nil {
			s.logger.Warn().Err(err).Str("key", k).Msg("redis delete failed")
		}
	}
	s.mu.Lock()
	delete(s.fallback, k)
	s.mu.Unlock()
	return nil
}

// LoadAll returns every persisted stop, merging Redis and fallback entries.
func (s *StopStore) LoadAll(ctx context.Context) ([]risk.TrailingStop, error) {
	seen := make(map[string]struct{})
	var out []risk.TrailingStop

	decode := func(key string, data []byte) {
		if _, dup := seen[key]; dup {
			return
		}
		var stop risk.TrailingStop
		if err := json.Unmarshal(data, &stop); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("dropping undecodable stop state")
			return
		}
		seen[key] = struct{}{}
		out = append(out, stop)
	}

	if s.rdb != nil {
		iter := s.rdb.Scan(ctx, 0, stopKeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			data, err := s.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			decode(key, data)
		}
		if err := iter.Err(); err != nil {
			s.logger.Warn().Err(err).Msg("redis scan failed, falling back to memory")
		}
	}

	s.mu.RLock()
	for key, data := range s.fallback {
		decode(key, data)
	}
	s.mu.RUnlock()

	return out, nil
}

// Close releases the Redis connection.
func (s *StopStore) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
