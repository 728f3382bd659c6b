package workers

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/internal/cache"
	"github.com/BaSui01/grantflow/types"
)

func candidate(id string) types.CandidateRecord {
	return types.CandidateRecord{ID: id, Title: "Grant " + id}
}

func TestMemoryIndex_SearchOrdersBySimilarity(t *testing.T) {
	idx := NewMemoryIndex(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx,
		IndexedCandidate{Record: candidate("c"), Embedding: []float64{0, 1}},
		IndexedCandidate{Record: candidate("a"), Embedding: []float64{1, 0}},
		IndexedCandidate{Record: candidate("b"), Embedding: []float64{1, 0}},
		IndexedCandidate{Record: candidate("d"), Embedding: []float64{1, 1}},
	))
	assert.Equal(t, 4, idx.Count())

	matches, err := idx.SearchSimilar(ctx, []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// 相同相似度按 ID 升序
	assert.Equal(t, "a", matches[0].Candidate.ID)
	assert.Equal(t, "b", matches[1].Candidate.ID)
	assert.Equal(t, "d", matches[2].Candidate.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
	assert.InDelta(t, 1/math.Sqrt2, matches[2].Similarity, 1e-9)
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	idx := NewMemoryIndex(nil)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, IndexedCandidate{Record: candidate("a"), Embedding: []float64{1, 0}}))
	require.NoError(t, idx.Upsert(ctx, IndexedCandidate{Record: candidate("a"), Embedding: []float64{0, 1}}))
	assert.Equal(t, 1, idx.Count())

	matches, err := idx.SearchSimilar(ctx, []float64{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestMemoryIndex_Errors(t *testing.T) {
	idx := NewMemoryIndex(nil)
	ctx := context.Background()

	err := idx.Upsert(ctx, IndexedCandidate{Record: candidate("x")})
	assert.True(t, types.IsKind(err, types.KindValidation))

	_, err = idx.SearchSimilar(ctx, nil, 3)
	assert.True(t, types.IsKind(err, types.KindValidation))

	matches, err := idx.SearchSimilar(ctx, []float64{1}, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = idx.SearchSimilar(cancelled, []float64{1}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCosineSimilarity_Degenerate(t *testing.T) {
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1, 2}, []float64{1}))
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 1}))
	assert.InDelta(t, -1.0, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
}

func TestBagOfWordsEmbedder(t *testing.T) {
	e := NewBagOfWordsEmbedder(32, nil)
	ctx := context.Background()

	v1, err := e.EmbedText(ctx, "Clean water research")
	require.NoError(t, err)
	assert.Len(t, v1, 32)

	var norm float64
	for _, v := range v1 {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-9)

	// 大小写与标点不影响结果
	v2, err := e.EmbedText(ctx, "clean, WATER research!")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	_, err = e.EmbedText(ctx, "  ... ")
	assert.True(t, types.IsKind(err, types.KindValidation))

	assert.Len(t, mustEmbed(t, NewBagOfWordsEmbedder(0, nil), "x"), 128)
}

func mustEmbed(t *testing.T, e Embedder, text string) []float64 {
	t.Helper()
	v, err := e.EmbedText(context.Background(), text)
	require.NoError(t, err)
	return v
}

type countingEmbedder struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return []float64{float64(len(text)), 1}, nil
}

func newTestCache(t *testing.T) (*miniredis.Miniredis, *cache.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "t:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return mr, m
}

func TestCachedEmbedder_MemoizesInRedis(t *testing.T) {
	mr, c := newTestCache(t)
	inner := &countingEmbedder{}
	e := NewCachedEmbedder(inner, c, time.Hour, zap.NewNop())

	first := mustEmbed(t, e, "solar")
	second := mustEmbed(t, e, "solar")
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.True(t, mr.Exists("t:"+embeddingKey("solar")))

	mustEmbed(t, e, "wind")
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedEmbedder_LookupHook(t *testing.T) {
	_, c := newTestCache(t)
	var hits, misses int
	e := NewCachedEmbedder(&countingEmbedder{}, c, time.Hour, nil).OnLookup(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	})

	mustEmbed(t, e, "solar")
	mustEmbed(t, e, "solar")
	mustEmbed(t, e, "wind")
	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, misses)
}

func TestCachedEmbedder_CollapsesConcurrentCalls(t *testing.T) {
	inner := &countingEmbedder{delay: 50 * time.Millisecond}
	e := NewCachedEmbedder(inner, nil, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.EmbedText(context.Background(), "same text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, inner.calls.Load(), int32(8))
}

func TestCachedEmbedder_PropagatesErrors(t *testing.T) {
	_, c := newTestCache(t)
	inner := &countingEmbedder{err: EmbeddingError(types.KindTransient, "boom")}
	e := NewCachedEmbedder(inner, c, time.Hour, nil)

	_, err := e.EmbedText(context.Background(), "x")
	assert.True(t, types.IsTransient(err))
}

func TestCachedEmbedder_DegradesWhenCacheDown(t *testing.T) {
	mr, c := newTestCache(t)
	inner := &countingEmbedder{}
	e := NewCachedEmbedder(inner, c, time.Hour, nil)

	mr.Close()
	v := mustEmbed(t, e, "abc")
	assert.Equal(t, []float64{3, 1}, v)
}

func newTestBlobStore(t *testing.T, opts ...BlobOption) (*miniredis.Miniredis, *RedisBlobStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisBlobStore(client, opts...)
}

func TestRedisBlobStore_Lifecycle(t *testing.T) {
	mr, store := newTestBlobStore(t, WithBlobPrefix("b:"), WithBlobLogger(zap.NewNop()))
	ctx := context.Background()

	ref, err := store.StoreBlob(ctx, []byte("draft"), "/apps/1/draft.md")
	require.NoError(t, err)
	assert.Equal(t, Ref("blob:apps/1/draft.md"), ref)
	assert.True(t, mr.Exists("b:apps/1/draft.md"))

	data, err := store.FetchBlob(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "draft", string(data))

	require.NoError(t, store.DeleteBlob(ctx, ref))

	_, err = store.FetchBlob(ctx, ref)
	assert.True(t, types.IsKind(err, types.KindNotFound))
	err = store.DeleteBlob(ctx, ref)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestRedisBlobStore_TTLAndValidation(t *testing.T) {
	mr, store := newTestBlobStore(t, WithBlobTTL(time.Minute))
	ctx := context.Background()

	ref, err := store.StoreBlob(ctx, []byte("x"), "a")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("grantflow:blob:a"))

	_, err = store.StoreBlob(ctx, nil, "")
	assert.True(t, types.IsKind(err, types.KindValidation))
	_, err = store.FetchBlob(ctx, Ref("s3://a"))
	assert.True(t, types.IsKind(err, types.KindValidation))

	mr.FastForward(2 * time.Minute)
	_, err = store.FetchBlob(ctx, ref)
	assert.True(t, types.IsKind(err, types.KindNotFound))
}

func TestRedisBlobStore_UnavailableIsTransient(t *testing.T) {
	mr, store := newTestBlobStore(t)
	mr.Close()

	_, err := store.StoreBlob(context.Background(), []byte("x"), "a")
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, WorkerBlob, e.Dependency)
}

func TestLineExtractor(t *testing.T) {
	doc := []byte("Document Type: license\nExpiry Date: 2030-01-31\n\nnoise line\n")
	fields, conf, err := LineExtractor{}.ExtractDocumentFields(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, "license", fields["document_type"])
	assert.Equal(t, "2030-01-31", fields["expiry_date"])
	assert.InDelta(t, 2.0/3.0, conf, 1e-9)

	_, _, err = LineExtractor{}.ExtractDocumentFields(context.Background(), []byte("  \n"))
	assert.True(t, types.IsKind(err, types.KindValidation))
}

func TestTemplateGenerator(t *testing.T) {
	out, err := TemplateGenerator{}.GenerateText(context.Background(), "Water project\nmore detail",
		Constraints{Format: "markdown", Sections: []string{"Summary", "Budget"}})
	require.NoError(t, err)
	assert.Contains(t, out, "## Summary")
	assert.Contains(t, out, "## Budget")
	assert.Contains(t, out, "Water project")
	assert.NotContains(t, out, "more detail")

	out, err = TemplateGenerator{}.GenerateText(context.Background(), "p", Constraints{MaxTokens: 2})
	require.NoError(t, err)
	assert.Len(t, strings.Fields(out), 2)

	_, err = TemplateGenerator{}.GenerateText(context.Background(), " ", Constraints{})
	assert.True(t, types.IsKind(err, types.KindValidation))
}
