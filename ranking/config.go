package ranking

import "github.com/BaSui01/grantflow/types"

// Weights of the composite score. They are normalized by their sum.
type Weights struct {
	Similarity float64 `yaml:"similarity" json:"similarity" env:"SIMILARITY"`
	Category   float64 `yaml:"category" json:"category" env:"CATEGORY"`
	Geography  float64 `yaml:"geography" json:"geography" env:"GEOGRAPHY"`
}

// Config 排序管道配置
type Config struct {
	// PoolSize is how many nearest candidates are fetched from the index.
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	// ShortlistSize caps the returned ranking.
	ShortlistSize int     `yaml:"shortlist_size" json:"shortlist_size" env:"SHORTLIST_SIZE"`
	Weights       Weights `yaml:"weights" json:"weights" env:"WEIGHTS"`
}

// DefaultConfig returns pool 20, shortlist 5, weights 0.7/0.2/0.1.
func DefaultConfig() Config {
	return Config{
		PoolSize:      20,
		ShortlistSize: 5,
		Weights: Weights{
			Similarity: 0.7,
			Category:   0.2,
			Geography:  0.1,
		},
	}
}

// Validate checks sizes and weights.
func (c Config) Validate() error {
	if c.PoolSize <= 0 {
		return types.NewValidationError("ranking pool_size must be positive")
	}
	if c.ShortlistSize <= 0 {
		return types.NewValidationError("ranking shortlist_size must be positive")
	}
	w := c.Weights
	if w.Similarity < 0 || w.Category < 0 || w.Geography < 0 {
		return types.NewValidationError("ranking weights cannot be negative")
	}
	if w.Similarity+w.Category+w.Geography == 0 {
		return types.NewValidationError("ranking weights cannot all be zero")
	}
	return nil
}

// normalized 用默认值替换非法字段
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	if c.ShortlistSize <= 0 {
		c.ShortlistSize = d.ShortlistSize
	}
	w := c.Weights
	if w.Similarity < 0 || w.Category < 0 || w.Geography < 0 || w.Similarity+w.Category+w.Geography == 0 {
		c.Weights = d.Weights
	}
	return c
}
