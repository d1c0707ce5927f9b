package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"medvoice/internal/apperrors"
)

const defaultKeyPrefix = "medvoice:breaker:"

// updateRetries bounds optimistic-lock retries when concurrent instances
// mutate the same provider record.
const updateRetries = 16

// RedisStore shares circuit records across service instances. Records are
// JSON documents under one key per provider; mutation uses WATCH-based
// compare-and-set so concurrent updates for a provider serialize.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// Update applies fn under an optimistic transaction, retrying on contention.
func (s *RedisStore) Update(ctx context.Context, name string, fn func(*Record)) (Record, error) {
	key := s.key(name)
	var out Record

	txn := func(tx *redis.Tx) error {
		rec, err := s.load(tx.Get(ctx, key))
		if err != nil {
			return err
		}
		fn(&rec)

		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal breaker record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}

	for i := 0; i < updateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Record{}, fmt.Errorf("update breaker record for %s: %w", name, err)
	}
	return Record{}, apperrors.Newf("breaker record for %s under contention", name)
}

// View returns a copy of the provider's record, the initial record when none
// is stored yet.
func (s *RedisStore) View(ctx context.Context, name string) (Record, error) {
	rec, err := s.load(s.client.Get(ctx, s.key(name)))
	if err != nil {
		return Record{}, fmt.Errorf("view breaker record for %s: %w", name, err)
	}
	return rec, nil
}

// Names scans the key space for known providers.
func (s *RedisStore) Names(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan breaker records: %w", err)
	}
	return names, nil
}

func (s *RedisStore) load(get *redis.StringCmd) (Record, error) {
	raw, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return NewRecord(), nil
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal breaker record: %w", err)
	}
	if rec.State == "" {
		rec.State = StateClosed
	}
	return rec, nil
}
