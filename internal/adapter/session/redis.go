// Package session implements the advisory session-flag cache on Redis.
// Losing a flag is harmless: the inbound router rebuilds it from the
// durable conversation state.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsohq/pulso/internal/domain"
)

const keyPrefix = "session:"

// Store holds per-respondent routing flags with a TTL so abandoned
// conversations fade out on their own.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New constructs a Store around an existing Redis client.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// NewClient creates the underlying Redis client.
func NewClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

// Get returns the stage for the phone; a missing key is StageNone.
func (s *Store) Get(ctx domain.Context, phone string) (domain.SessionStage, error) {
	v, err := s.rdb.Get(ctx, keyPrefix+phone).Result()
	if errors.Is(err, redis.Nil) {
		return domain.StageNone, nil
	}
	if err != nil {
		return domain.StageNone, fmt.Errorf("op=session.get: %w", err)
	}
	return domain.SessionStage(v), nil
}

// Set stores the stage and refreshes the TTL. Setting StageNone is
// equivalent to Clear.
func (s *Store) Set(ctx domain.Context, phone string, stage domain.SessionStage) error {
	if stage == domain.StageNone {
		return s.Clear(ctx, phone)
	}
	if err := s.rdb.Set(ctx, keyPrefix+phone, string(stage), s.ttl).Err(); err != nil {
		return fmt.Errorf("op=session.set: %w", err)
	}
	return nil
}

// Clear drops the flag for the phone.
func (s *Store) Clear(ctx domain.Context, phone string) error {
	if err := s.rdb.Del(ctx, keyPrefix+phone).Err(); err != nil {
		return fmt.Errorf("op=session.clear: %w", err)
	}
	return nil
}
