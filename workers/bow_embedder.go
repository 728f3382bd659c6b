package workers

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/grantflow/types"
)

// BagOfWordsEmbedder 基于词袋 + 哈希的本地嵌入生成器，不依赖外部服务。
// 适用于本地开发和测试
type BagOfWordsEmbedder struct {
	dimension int
	logger    *zap.Logger
}

// NewBagOfWordsEmbedder creates an embedder with the given dimension (default 128).
func NewBagOfWordsEmbedder(dimension int, logger *zap.Logger) *BagOfWordsEmbedder {
	if dimension <= 0 {
		dimension = 128
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BagOfWordsEmbedder{
		dimension: dimension,
		logger:    logger.With(zap.String("component", "bow_embedder")),
	}
}

// EmbedText 实现 Embedder，结果已做 L2 归一化
func (e *BagOfWordsEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil, EmbeddingError(types.KindValidation, "text has no words")
	}

	vec := make([]float64, e.dimension)
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32()%uint32(e.dimension))] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}

	e.logger.Debug("embedding generated",
		zap.Int("word_count", len(words)),
		zap.Int("dimension", e.dimension))
	return vec, nil
}
