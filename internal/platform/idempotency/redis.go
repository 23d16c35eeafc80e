package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps one JSON value per scoped key with a native expiry, so CleanupExpired has
// nothing to sweep. Updates run under WATCH and fail instead of overwriting a concurrent change.
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore parses a redis:// or rediss:// URL and connects lazily.
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("idempotency: parse redis url: %w", err)
	}
	return &RedisStore{rdb: redis.NewClient(opt)}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rdb redis.UniversalClient) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New("idempotency store requires redis client")
	}
	return &RedisStore{rdb: rdb}, nil
}

// Ping checks connectivity for readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := pendingRecord(key, fingerprint, now.UTC(), ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}
	k := redisKey(key)

	// A key that expires between SETNX and GET is reserved on the second pass.
	for range 2 {
		created, err := s.rdb.SetNX(ctx, k, payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}
		existing, found, err := s.load(ctx, s.rdb, k)
		if err != nil {
			return Reservation{}, err
		}
		if found {
			return reservationFor(existing, fingerprint)
		}
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := redisKey(key)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		record, found, err := s.load(ctx, tx, k)
		if err != nil {
			return err
		}
		if !found {
			record = Record{Key: key, Fingerprint: fingerprint}
		} else if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		payload, err := json.Marshal(completeRecord(record, resp, now.UTC(), ttl))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, ttl)
			return nil
		})
		return err
	}, k)
	return redisError("save response", err)
}

// Release implements Store. Only the owner of the fingerprint may release the key.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	k := redisKey(key)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		record, found, err := s.load(ctx, tx, k)
		if err != nil || !found || record.Fingerprint != fingerprint {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		return err
	}, k)
	return redisError("release", err)
}

// CleanupExpired implements Store. Redis evicts expired keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, c getter, k string) (Record, bool, error) {
	raw, err := c.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}

func redisKey(key string) string {
	return redisKeyPrefix + recordID(key)
}

func redisError(op string, err error) error {
	switch {
	case err == nil, errors.Is(err, ErrFingerprintMismatch):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return fmt.Errorf("idempotency: %s: concurrent update: %w", op, err)
	default:
		return fmt.Errorf("idempotency: %s: %w", op, err)
	}
}
