package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/types"
)

// RedisStore keeps each record as a JSON value written with SETNX and indexes run IDs in
// sorted sets scored by start time, one for all runs and one per request type.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL expires records after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisLogger sets a custom logger
func WithRedisLogger(logger *zap.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStore creates a store from an existing client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "grantflow:run:",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "redis_run_store"))
	return s
}

func (s *RedisStore) key(runID string) string { return s.prefix + runID }

func (s *RedisStore) indexKey(requestType string) string {
	if requestType == "" {
		return s.prefix + "index"
	}
	return s.prefix + "index:" + requestType
}

// Append 实现 Store
func (s *RedisStore) Append(ctx context.Context, rec Record) error {
	if err := checkRecord(rec); err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.key(rec.RunID), data, s.ttl).Result()
	if err != nil {
		return redisError(ctx, err)
	}
	if !ok {
		return duplicateError(rec.RunID)
	}

	score := float64(rec.StartedAt.UnixNano())
	member := redis.Z{Score: score, Member: rec.RunID}
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.indexKey(""), member)
	if rec.RequestType != "" {
		pipe.ZAdd(ctx, s.indexKey(rec.RequestType), member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// 记录已写入，索引缺失只影响 List
		s.logger.Warn("run index update failed", zap.String("run_id", rec.RunID), zap.Error(err))
	}
	return nil
}

// Get 实现 Store
func (s *RedisStore) Get(ctx context.Context, runID string) (Record, error) {
	data, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, notFoundError(runID)
	}
	if err != nil {
		return Record{}, redisError(ctx, err)
	}
	return decodeRecord(data)
}

// List 实现 Store。已过期记录的索引项会被顺带清理
func (s *RedisStore) List(ctx context.Context, requestType string, limit int) ([]Record, error) {
	idx := s.indexKey(requestType)
	ids, err := s.client.ZRevRange(ctx, idx, 0, int64(listLimit(limit)-1)).Result()
	if err != nil {
		return nil, redisError(ctx, err)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, redisError(ctx, err)
	}

	out := make([]Record, 0, len(values))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := decodeRecord([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, idx, stale...).Err(); err != nil {
			s.logger.Debug("stale index cleanup failed", zap.Error(err))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, types.NewError(types.KindInternal, "stored run record is corrupt").WithCause(err)
	}
	return rec, nil
}

func redisError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return types.FromContext(ctx)
	}
	return types.NewTransientError("run_store", "run store unavailable").WithCause(err)
}
