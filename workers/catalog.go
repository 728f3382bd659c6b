package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/grantflow/types"
)

// catalogConcurrency 建索引时并发嵌入的上限
const catalogConcurrency = 4

// LoadCatalog reads funding opportunities from a JSON or YAML file holding a list of
// candidate records. YAML keys follow the JSON field names.
func LoadCatalog(path string) ([]types.CandidateRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var generic []map[string]any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
		// 经 JSON 转一次，复用 json 标签
		if data, err = json.Marshal(generic); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}
	}

	var records []types.CandidateRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("catalog entry %q is duplicated", r.ID)
		}
		seen[r.ID] = true
	}
	return records, nil
}

// IndexCatalog embeds each record's title and description and upserts it into idx.
func IndexCatalog(ctx context.Context, emb Embedder, idx *MemoryIndex, records []types.CandidateRecord) error {
	items := make([]IndexedCandidate, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogConcurrency)
	for i, r := range records {
		g.Go(func() error {
			vec, err := emb.EmbedText(gctx, strings.TrimSpace(r.Title+"\n"+r.Description))
			if err != nil {
				return fmt.Errorf("embed catalog entry %q: %w", r.ID, err)
			}
			items[i] = IndexedCandidate{Record: r, Embedding: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := idx.Upsert(ctx, items...); err != nil {
		return err
	}
	idx.logger.Info("catalog indexed", zap.Int("candidates", len(items)))
	return nil
}
