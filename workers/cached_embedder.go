package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/grantflow/internal/cache"
)

// CachedEmbedder memoizes embeddings in Redis keyed by the SHA-256 of the text and collapses
// identical concurrent requests into one upstream call. Cache failures degrade to a direct call.
type CachedEmbedder struct {
	inner  Embedder
	cache  *cache.Manager
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger

	onLookup func(hit bool)
}

// NewCachedEmbedder wraps inner. A nil cache disables memoization but keeps request collapsing.
func NewCachedEmbedder(inner Embedder, c *cache.Manager, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "cached_embedder")),
	}
}

// OnLookup registers a hook called after each cache read with whether it hit.
func (e *CachedEmbedder) OnLookup(fn func(hit bool)) *CachedEmbedder {
	e.onLookup = fn
	return e
}

func (e *CachedEmbedder) lookup(hit bool) {
	if e.onLookup != nil {
		e.onLookup(hit)
	}
}

// EmbedText 实现 Embedder
func (e *CachedEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	key := embeddingKey(text)

	if e.cache != nil {
		var vec []float64
		err := e.cache.GetJSON(ctx, key, &vec)
		switch {
		case err == nil:
			e.lookup(true)
			return vec, nil
		case !cache.IsCacheMiss(err):
			e.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		e.lookup(false)
	}

	v, err, shared := e.group.Do(key, func() (any, error) {
		vec, err := e.inner.EmbedText(ctx, text)
		if err != nil {
			return nil, err
		}
		if e.cache != nil {
			if err := e.cache.SetJSON(ctx, key, vec, e.ttl); err != nil {
				e.logger.Warn("embedding cache write failed", zap.Error(err))
			}
		}
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		e.logger.Debug("embedding request collapsed", zap.String("key", key))
	}
	return v.([]float64), nil
}

func embeddingKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + hex.EncodeToString(sum[:])
}
