package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store remembers processed webhook dedup keys for ttl. It is a cache in front
// of the ledger's own dedup table, so losing entries only costs a round trip.
type Store struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, prefix: "idem:webhook:"}
}

func (s *Store) Key(id string) string {
	return s.prefix + id
}

func (s *Store) HasProcessed(ctx context.Context, key string) (bool, error) {
	_, err := s.rdb.Get(ctx, s.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) MarkProcessed(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, s.Key(key), "1", s.ttl).Err()
}

// Seen marks the key and reports whether it was already present.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.Key(key), "1", s.ttl).Result()
	if err != nil {
		return false, err
	}

	return !ok, nil
}

// Forget releases a key taken by Seen so the request can be retried.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.Key(key)).Err()
}
