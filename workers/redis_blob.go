package workers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/types"
)

const refPrefix = "blob:"

// RedisBlobStore implements BlobStore on Redis string values.
type RedisBlobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// BlobOption configures a RedisBlobStore.
type BlobOption func(*RedisBlobStore)

// WithBlobPrefix sets the key prefix.
func WithBlobPrefix(prefix string) BlobOption {
	return func(s *RedisBlobStore) { s.prefix = prefix }
}

// WithBlobTTL sets an expiration for stored blobs. Zero keeps them forever.
func WithBlobTTL(ttl time.Duration) BlobOption {
	return func(s *RedisBlobStore) { s.ttl = ttl }
}

// WithBlobLogger sets a custom logger
func WithBlobLogger(logger *zap.Logger) BlobOption {
	return func(s *RedisBlobStore) { s.logger = logger }
}

// NewRedisBlobStore creates a blob store on an existing client.
func NewRedisBlobStore(client *redis.Client, opts ...BlobOption) *RedisBlobStore {
	s := &RedisBlobStore{
		client: client,
		prefix: "grantflow:blob:",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "redis_blob_store"))
	return s
}

func (s *RedisBlobStore) key(ref Ref) (string, error) {
	path, ok := strings.CutPrefix(string(ref), refPrefix)
	if !ok || path == "" {
		return "", types.NewValidationError("malformed blob reference").WithDependency(WorkerBlob)
	}
	return s.prefix + path, nil
}

// StoreBlob 写入数据，相同路径会被覆盖
func (s *RedisBlobStore) StoreBlob(ctx context.Context, data []byte, path string) (Ref, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return "", types.NewValidationError("blob path is empty").WithDependency(WorkerBlob)
	}
	ref := Ref(refPrefix + path)
	key, _ := s.key(ref)

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return "", storageError(err)
	}
	s.logger.Debug("blob stored", zap.String("ref", string(ref)), zap.Int("bytes", len(data)))
	return ref, nil
}

// FetchBlob 读取数据，不存在时返回 not_found
func (s *RedisBlobStore) FetchBlob(ctx context.Context, ref Ref) ([]byte, error) {
	key, err := s.key(ref)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewNotFoundError("blob not found").WithDependency(WorkerBlob)
	}
	if err != nil {
		return nil, storageError(err)
	}
	return data, nil
}

// DeleteBlob 删除数据，不存在时返回 not_found
func (s *RedisBlobStore) DeleteBlob(ctx context.Context, ref Ref) error {
	key, err := s.key(ref)
	if err != nil {
		return err
	}
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return storageError(err)
	}
	if n == 0 {
		return types.NewNotFoundError("blob not found").WithDependency(WorkerBlob)
	}
	return nil
}

// storageError Redis 不可用属于临时故障
func storageError(err error) error {
	return types.NewTransientError(WorkerBlob, "blob storage unavailable").WithCause(err)
}
