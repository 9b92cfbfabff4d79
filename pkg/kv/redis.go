package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
)

// casAttempts bounds optimistic WATCH retries before giving up.
const casAttempts = 3

// RedisStore is a Store backed by Redis. Compare-and-swap semantics use
// WATCH transactions. Revision metadata is not tracked by this backend;
// entry revision fields are always zero.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreURL connects to a Redis URL (redis://host:port/db).
func NewRedisStoreURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Read implements Store.
func (s *RedisStore) Read(ctx context.Context, req ReadRequest) (ReadResult, error) {
	val, err := s.client.Get(ctx, req.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ReadResult{}, nil
	}
	if err != nil {
		return ReadResult{}, fmt.Errorf("redis get: %w", err)
	}
	return ReadResult{KV: &Entry{Key: req.Key, Value: val}}, nil
}

// Write implements Store.
func (s *RedisStore) Write(ctx context.Context, cmd WriteCommand) (WriteResult, error) {
	switch c := cmd.(type) {
	case Set:
		if err := s.client.Set(ctx, c.Key, c.Value, 0).Err(); err != nil {
			return WriteResult{}, fmt.Errorf("redis set: %w", err)
		}
		return WriteResult{}, nil

	case Delete:
		if err := s.client.Del(ctx, c.Key).Err(); err != nil {
			return WriteResult{}, fmt.Errorf("redis del: %w", err)
		}
		return WriteResult{}, nil

	case CompareAndSwap:
		err := s.guarded(ctx, c.Key, c.Expected, func(p redis.Pipeliner) {
			p.Set(ctx, c.Key, c.NewValue, 0)
		})
		return WriteResult{}, err

	case CompareAndDelete:
		err := s.guarded(ctx, c.Key, c.Expected, func(p redis.Pipeliner) {
			p.Del(ctx, c.Key)
		})
		return WriteResult{}, err

	case Batch:
		_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			applyRedisOps(ctx, p, c.Operations)
			return nil
		})
		if err != nil {
			return WriteResult{}, fmt.Errorf("redis batch: %w", err)
		}
		applied := len(c.Operations)
		return WriteResult{BatchApplied: &applied}, nil

	case ConditionalBatch:
		return s.conditionalBatch(ctx, c)

	default:
		return WriteResult{}, &unknownCommandError{}
	}
}

// Scan implements Store. Keys are collected via SCAN, sorted, then read
// back with MGET so results are deterministic like MemoryStore.
func (s *RedisStore) Scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, req.Prefix+"*", MaxScanResults).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if req.ContinuationToken != "" && k <= req.ContinuationToken {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return ScanResult{}, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(keys)

	limit := int(BoundScanLimit(req.Limit))
	truncated := len(keys) > limit
	if truncated {
		keys = keys[:limit]
	}

	result := ScanResult{IsTruncated: truncated}
	if len(keys) == 0 {
		return result, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return ScanResult{}, fmt.Errorf("redis mget: %w", err)
	}
	for i, k := range keys {
		// Keys deleted between SCAN and MGET come back nil; skip them.
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		result.Entries = append(result.Entries, Entry{Key: k, Value: []byte(raw)})
	}
	result.Count = len(result.Entries)
	if truncated {
		result.ContinuationToken = keys[len(keys)-1]
	}
	return result, nil
}

// guarded runs a pipeline only when the watched key's current value
// matches expected (nil expected = key must be absent).
func (s *RedisStore) guarded(ctx context.Context, key string, expected []byte, apply func(redis.Pipeliner)) error {
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		absent := errors.Is(err, redis.Nil)
		if err != nil && !absent {
			return fmt.Errorf("redis get: %w", err)
		}
		if expected == nil {
			if !absent {
				return &CasFailedError{Key: key, Actual: current}
			}
		} else {
			if absent {
				return &CasFailedError{Key: key}
			}
			if !bytes.Equal(current, expected) {
				return &CasFailedError{Key: key, Actual: current}
			}
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			apply(p)
			return nil
		})
		return err
	}

	for i := 0; i < casAttempts; i++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent modification, retry
		}
		return err
	}
	return fmt.Errorf("redis cas: too much contention on %s", key)
}

func (s *RedisStore) conditionalBatch(ctx context.Context, c ConditionalBatch) (WriteResult, error) {
	watched := conditionKeys(c.Conditions)
	met := true

	txn := func(tx *redis.Tx) error {
		for i, cond := range c.Conditions {
			ok, err := redisConditionHolds(ctx, tx, cond)
			if err != nil {
				return err
			}
			if !ok {
				met = false
				return &conditionFailed{index: i}
			}
		}
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			applyRedisOps(ctx, p, c.Operations)
			return nil
		})
		return err
	}

	for i := 0; i < casAttempts; i++ {
		err := s.client.Watch(ctx, txn, watched...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var cf *conditionFailed
		if errors.As(err, &cf) {
			notMet := false
			return WriteResult{ConditionsMet: &notMet, FailedConditionIndex: &cf.index}, nil
		}
		if err != nil {
			return WriteResult{}, err
		}
		applied := len(c.Operations)
		return WriteResult{ConditionsMet: &met, BatchApplied: &applied}, nil
	}
	return WriteResult{}, fmt.Errorf("redis conditional batch: too much contention")
}

func redisConditionHolds(ctx context.Context, tx *redis.Tx, cond Condition) (bool, error) {
	switch c := cond.(type) {
	case ValueEquals:
		current, err := tx.Get(ctx, c.Key).Bytes()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("redis get: %w", err)
		}
		return bytes.Equal(current, c.Expected), nil
	case KeyExists:
		n, err := tx.Exists(ctx, c.Key).Result()
		if err != nil {
			return false, fmt.Errorf("redis exists: %w", err)
		}
		return n == 1, nil
	case KeyNotExists:
		n, err := tx.Exists(ctx, c.Key).Result()
		if err != nil {
			return false, fmt.Errorf("redis exists: %w", err)
		}
		return n == 0, nil
	default:
		return false, nil
	}
}

func applyRedisOps(ctx context.Context, p redis.Pipeliner, ops []BatchOp) {
	for _, op := range ops {
		switch o := op.(type) {
		case BatchSet:
			p.Set(ctx, o.Key, o.Value, 0)
		case BatchDelete:
			p.Del(ctx, o.Key)
		}
	}
}

func conditionKeys(conds []Condition) []string {
	keys := make([]string, 0, len(conds))
	for _, cond := range conds {
		switch c := cond.(type) {
		case ValueEquals:
			keys = append(keys, c.Key)
		case KeyExists:
			keys = append(keys, c.Key)
		case KeyNotExists:
			keys = append(keys, c.Key)
		}
	}
	return keys
}

type conditionFailed struct {
	index int
}

func (e *conditionFailed) Error() string {
	return fmt.Sprintf("condition %d not met", e.index)
}
