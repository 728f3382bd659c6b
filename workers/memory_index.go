package workers

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/types"
)

// IndexedCandidate is a candidate with its embedding.
type IndexedCandidate struct {
	Record    types.CandidateRecord
	Embedding []float64
}

// MemoryIndex 内存相似度索引，用于开发与测试。
// 线性扫描 + 余弦相似度，不是生产级向量索引
type MemoryIndex struct {
	mu      sync.RWMutex
	entries []IndexedCandidate
	logger  *zap.Logger
}

// NewMemoryIndex 创建内存索引
func NewMemoryIndex(logger *zap.Logger) *MemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryIndex{
		logger: logger.With(zap.String("component", "memory_index")),
	}
}

// Upsert adds candidates, replacing any with the same ID.
func (m *MemoryIndex) Upsert(ctx context.Context, items ...IndexedCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range items {
		if len(it.Embedding) == 0 {
			return SearchError(types.KindValidation, "candidate "+it.Record.ID+" has no embedding")
		}
		replaced := false
		for i := range m.entries {
			if m.entries[i].Record.ID == it.Record.ID {
				m.entries[i] = it
				replaced = true
				break
			}
		}
		if !replaced {
			m.entries = append(m.entries, it)
		}
	}

	m.logger.Debug("candidates indexed",
		zap.Int("count", len(items)),
		zap.Int("total", len(m.entries)))
	return nil
}

// Count returns the number of indexed candidates.
func (m *MemoryIndex) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SearchSimilar 实现 Searcher：按余弦相似度降序返回前 k 个（相同时按 ID 升序）
func (m *MemoryIndex) SearchSimilar(ctx context.Context, vector []float64, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, SearchError(types.KindValidation, "empty query vector")
	}
	if k <= 0 {
		return []Match{}, nil
	}

	m.mu.RLock()
	matches := make([]Match, 0, len(m.entries))
	for _, e := range m.entries {
		matches = append(matches, Match{
			Candidate:  e.Record,
			Similarity: cosineSimilarity(vector, e.Embedding),
		})
	}
	m.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Candidate.ID < matches[j].Candidate.ID
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// cosineSimilarity 维度不一致或零向量时返回 0
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
