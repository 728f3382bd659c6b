package workers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeCatalog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCatalog_JSON(t *testing.T) {
	path := writeCatalog(t, "catalog.json", `[
		{"id":"g1","title":"Clean Water","description":"water research","categories":["environment"],
		 "funding":{"min":1000,"max":5000},"regions":["north"]},
		{"id":"g2","description":"arts"}
	]`)

	recs, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Clean Water", recs[0].Title)
	assert.Equal(t, 5000.0, recs[0].Funding.Max)
	assert.Equal(t, []string{"north"}, recs[0].Regions)
	assert.Empty(t, recs[1].Regions)
}

func TestLoadCatalog_YAML(t *testing.T) {
	path := writeCatalog(t, "catalog.yaml", `
- id: g1
  title: Clean Water
  description: water research
  funding:
    min: 1000
    max: 5000
  regions: [north]
`)
	recs, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "g1", recs[0].ID)
	assert.Equal(t, 1000.0, recs[0].Funding.Min)
}

func TestLoadCatalog_Errors(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadCatalog(writeCatalog(t, "bad.json", `{"id":"x"}`))
	assert.Error(t, err)

	_, err = LoadCatalog(writeCatalog(t, "noid.json", `[{"description":"x"}]`))
	assert.ErrorContains(t, err, "has no id")

	_, err = LoadCatalog(writeCatalog(t, "dup.yml", "- id: a\n- id: a\n"))
	assert.ErrorContains(t, err, "duplicated")
}

func TestIndexCatalog(t *testing.T) {
	idx := NewMemoryIndex(zaptest.NewLogger(t))
	emb := NewBagOfWordsEmbedder(64, nil)
	recs, err := LoadCatalog(writeCatalog(t, "c.json", `[
		{"id":"water","title":"Clean Water","description":"river water quality"},
		{"id":"arts","title":"Community Arts","description":"theatre and music"}
	]`))
	require.NoError(t, err)

	require.NoError(t, IndexCatalog(context.Background(), emb, idx, recs))
	assert.Equal(t, 2, idx.Count())

	q := mustEmbed(t, emb, "water quality")
	matches, err := idx.SearchSimilar(context.Background(), q, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "water", matches[0].Candidate.ID)
}

func TestIndexCatalog_EmbeddingFailure(t *testing.T) {
	idx := NewMemoryIndex(nil)
	boom := errors.New("boom")
	recs, err := LoadCatalog(writeCatalog(t, "c.json", `[{"id":"a","description":"x"}]`))
	require.NoError(t, err)

	err = IndexCatalog(context.Background(), &countingEmbedder{err: boom}, idx, recs)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, idx.Count())
}
