package workers

import (
	"context"

	"github.com/BaSui01/grantflow/types"
)

// Worker names, also used as circuit breaker dependency names.
const (
	WorkerExtraction = "extraction"
	WorkerEmbedding  = "embedding"
	WorkerSearch     = "similarity_search"
	WorkerGeneration = "generation"
	WorkerBlob       = "blob_storage"
)

// Extractor 从文档中提取结构化字段
type Extractor interface {
	// ExtractDocumentFields returns the extracted fields and a confidence in [0,1].
	ExtractDocumentFields(ctx context.Context, document []byte) (map[string]string, float64, error)
}

// Embedder 将文本转换为向量
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float64, error)
}

// Match is one similarity search hit.
type Match struct {
	Candidate  types.CandidateRecord `json:"candidate"`
	Similarity float64               `json:"similarity"`
}

// Searcher 相似度检索，结果按相似度降序
type Searcher interface {
	SearchSimilar(ctx context.Context, vector []float64, k int) ([]Match, error)
}

// Constraints shape a generation request.
type Constraints struct {
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float32  `json:"temperature,omitempty"`
	Format      string   `json:"format,omitempty"`
	Sections    []string `json:"sections,omitempty"`
}

// Generator 文本生成
type Generator interface {
	GenerateText(ctx context.Context, prompt string, c Constraints) (string, error)
}

// Ref identifies a stored blob.
type Ref string

// BlobStore 二进制对象存储
type BlobStore interface {
	StoreBlob(ctx context.Context, data []byte, path string) (Ref, error)
	FetchBlob(ctx context.Context, ref Ref) ([]byte, error)
	DeleteBlob(ctx context.Context, ref Ref) error
}

// ExtractionError creates an extraction worker failure.
func ExtractionError(kind types.ErrorKind, msg string) *types.Error {
	return types.NewError(kind, msg).WithDependency(WorkerExtraction)
}

// EmbeddingError creates an embedding worker failure.
func EmbeddingError(kind types.ErrorKind, msg string) *types.Error {
	return types.NewError(kind, msg).WithDependency(WorkerEmbedding)
}

// SearchError creates a similarity search failure.
func SearchError(kind types.ErrorKind, msg string) *types.Error {
	return types.NewError(kind, msg).WithDependency(WorkerSearch)
}

// GenerationError creates a text generation failure.
func GenerationError(kind types.ErrorKind, msg string) *types.Error {
	return types.NewError(kind, msg).WithDependency(WorkerGeneration)
}
