package match

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists session snapshots and the seat sets used to arbitrate
// racing joins across instances.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) keySession(id string) string { return "dama:session:" + strings.TrimSpace(id) }
func (s *Store) keySeats(id string) string   { return s.keySession(id) + ":seats" }
func (s *Store) keyOpen() string             { return "dama:open" }

func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.keySession(snap.ID), raw, s.ttl).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keySeats(snap.ID), s.ttl).Err()
}

func (s *Store) LoadSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	raw, err := s.rdb.Get(ctx, s.keySession(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.keySession(id), s.keySeats(id)).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, s.keyOpen(), id).Err()
}

// ClaimSeat reserves one of the two seats under WATCH so racing joins,
// including joins landing on another instance, cannot both succeed.
// Claiming a seat already held by userID is a no-op.
func (s *Store) ClaimSeat(ctx context.Context, id, userID string) error {
	seats := s.keySeats(id)
	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		members, err := tx.SMembers(ctx, seats).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		for _, m := range members {
			if m == userID {
				return nil
			}
		}
		if len(members) >= 2 {
			return ErrRoomFull
		}
		pipe := tx.TxPipeline()
		pipe.SAdd(ctx, seats, userID)
		pipe.Expire(ctx, seats, s.ttl)
		_, pErr := pipe.Exec(ctx)
		return pErr
	}, seats)
}

func (s *Store) ReleaseSeat(ctx context.Context, id, userID string) error {
	return s.rdb.SRem(ctx, s.keySeats(id), userID).Err()
}

// Open session index, for lobby listings.

func (s *Store) AddOpen(ctx context.Context, id string) error {
	if err := s.rdb.SAdd(ctx, s.keyOpen(), id).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.keyOpen(), s.ttl).Err()
}

func (s *Store) RemoveOpen(ctx context.Context, id string) error {
	return s.rdb.SRem(ctx, s.keyOpen(), id).Err()
}

func (s *Store) ListOpen(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyOpen()).Result()
}
