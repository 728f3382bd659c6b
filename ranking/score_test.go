package ranking

import (
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workers"
)

func match(id string, sim float64) workers.Match {
	return workers.Match{Candidate: types.CandidateRecord{ID: id}, Similarity: sim}
}

func TestScore_TwoMatchesAreNotPadded(t *testing.T) {
	r := Score([]workers.Match{match("b", 0.4), match("a", 0.9)}, Profile{}, DefaultConfig())

	require.Len(t, r.Candidates, 2)
	assert.Empty(t, r.Note)
	assert.Equal(t, "a", r.Candidates[0].Candidate.ID)
	assert.InDelta(t, 0.8, r.Candidates[0].Score, 1e-9)
	// 最低相似度归一化为 0，只剩地区得分（不限地区计为匹配）
	assert.InDelta(t, 0.1, r.Candidates[1].Score, 1e-9)
}

func TestScore_TenMatchesGiveFiveSorted(t *testing.T) {
	var matches []workers.Match
	for i := 0; i < 10; i++ {
		matches = append(matches, match(fmt.Sprintf("c%02d", i), float64(i%4)/10))
	}

	r := Score(matches, Profile{}, DefaultConfig())
	require.Len(t, r.Candidates, 5)
	assert.Empty(t, r.Note)

	ids := make([]string, 0, 5)
	for _, c := range r.Candidates {
		ids = append(ids, c.Candidate.ID)
	}
	assert.Equal(t, []string{"c03", "c07", "c02", "c06", "c01"}, ids)
	assert.True(t, sort.SliceIsSorted(r.Candidates, func(i, j int) bool {
		return r.Candidates[i].Score > r.Candidates[j].Score
	}))
}

func TestScore_EmptyHasNote(t *testing.T) {
	r := Score(nil, Profile{}, DefaultConfig())
	assert.Empty(t, r.Candidates)
	assert.NotNil(t, r.Candidates)
	assert.Equal(t, NoCloseMatches, r.Note)
}

func TestScore_AllEqualSimilarityNormalizesToOne(t *testing.T) {
	r := Score([]workers.Match{match("b", 0.5), match("a", 0.5)}, Profile{}, DefaultConfig())
	require.Len(t, r.Candidates, 2)
	for _, c := range r.Candidates {
		assert.InDelta(t, 0.8, c.Score, 1e-9)
	}
	assert.Equal(t, "a", r.Candidates[0].Candidate.ID)
}

func TestScore_Filters(t *testing.T) {
	edu := workers.Match{Similarity: 0.9, Candidate: types.CandidateRecord{
		ID: "edu", Categories: []string{"Education"}, Funding: types.FundingRange{Min: 1000, Max: 5000},
	}}
	health := workers.Match{Similarity: 0.8, Candidate: types.CandidateRecord{
		ID: "health", Categories: []string{"health"}, Funding: types.FundingRange{Min: 50000, Max: 90000},
	}}
	big := workers.Match{Similarity: 0.7, Candidate: types.CandidateRecord{
		ID: "big", Categories: []string{"arts"}, Funding: types.FundingRange{Min: 2000, Max: 0},
	}}
	all := []workers.Match{edu, health, big}

	tests := []struct {
		name    string
		profile Profile
		want    []string
	}{
		{"no filters", Profile{}, []string{"edu", "health", "big"}},
		{"category only", Profile{Categories: []string{"education"}}, []string{"edu"}},
		{"funding only", Profile{Funding: types.FundingRange{Min: 3000, Max: 4000}}, []string{"edu", "big"}},
		// 只有未通过所有启用的过滤器才剔除
		{"category or funding", Profile{Categories: []string{"health"}, Funding: types.FundingRange{Min: 3000, Max: 4000}}, []string{"edu", "health", "big"}},
		{"nothing passes", Profile{Categories: []string{"sports"}, Funding: types.FundingRange{Min: 1, Max: 10}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Score(all, tt.profile, DefaultConfig())
			var got []string
			for _, c := range r.Candidates {
				got = append(got, c.Candidate.ID)
			}
			assert.ElementsMatch(t, tt.want, got)
			if len(tt.want) == 0 {
				assert.Equal(t, NoCloseMatches, r.Note)
			}
		})
	}
}

func TestScore_CategoryAndGeographyBoost(t *testing.T) {
	local := workers.Match{Similarity: 0.5, Candidate: types.CandidateRecord{
		ID: "local", Categories: []string{"water"}, Regions: []string{"KE"},
	}}
	foreign := workers.Match{Similarity: 0.6, Candidate: types.CandidateRecord{
		ID: "foreign", Categories: []string{"water"}, Regions: []string{"US"},
	}}
	global := workers.Match{Similarity: 0.6, Candidate: types.CandidateRecord{
		ID: "global", Categories: []string{"roads"},
	}}

	p := Profile{Categories: []string{"Water", "roads"}, Region: "ke"}
	r := Score([]workers.Match{local, foreign, global}, p, DefaultConfig())
	require.Len(t, r.Candidates, 3)

	byID := map[string]types.RankedCandidate{}
	for _, c := range r.Candidates {
		byID[c.Candidate.ID] = c
	}
	assert.InDelta(t, 0.3, byID["local"].Score, 1e-9)
	assert.InDelta(t, 0.9, byID["foreign"].Score, 1e-9)
	assert.InDelta(t, 1.0, byID["global"].Score, 1e-9)

	assert.Equal(t, []string{"semantic relevance 0.00", "category match: water", "eligible in ke"}, byID["local"].Reasons)
	assert.Contains(t, byID["global"].Reasons, "no regional restriction")
	assert.Len(t, byID["foreign"].Reasons, 2)
}

func TestScore_DedupesKeepingBest(t *testing.T) {
	r := Score([]workers.Match{match("a", 0.2), match("b", 0.5), match("a", 0.9)}, Profile{}, DefaultConfig())
	require.Len(t, r.Candidates, 2)
	assert.Equal(t, "a", r.Candidates[0].Candidate.ID)
}

func TestScore_ShortlistSizeConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShortlistSize = 2
	r := Score([]workers.Match{match("a", 0.1), match("b", 0.2), match("c", 0.3)}, Profile{}, cfg)
	assert.Len(t, r.Candidates, 2)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := []Config{
		{PoolSize: 0, ShortlistSize: 5, Weights: DefaultConfig().Weights},
		{PoolSize: 20, ShortlistSize: 0, Weights: DefaultConfig().Weights},
		{PoolSize: 20, ShortlistSize: 5, Weights: Weights{Similarity: -1}},
		{PoolSize: 20, ShortlistSize: 5},
	}
	for _, c := range bad {
		assert.True(t, types.IsKind(c.Validate(), types.KindValidation))
		assert.NoError(t, c.normalized().Validate())
	}
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile(map[string]any{
		"categories": []any{"health"},
		"funding":    map[string]any{"min": 100.0, "max": 900.0},
		"region":     "KE",
	})
	require.NoError(t, err)
	assert.Equal(t, Profile{Categories: []string{"health"}, Funding: types.FundingRange{Min: 100, Max: 900}, Region: "KE"}, p)

	p, err = ParseProfile(nil)
	require.NoError(t, err)
	assert.Equal(t, Profile{}, p)

	_, err = ParseProfile("not an object")
	assert.True(t, types.IsKind(err, types.KindValidation))
}

// 排序结果的长度、顺序与分数区间在任意输入下成立
func TestProperty_ScoreOrderingAndBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("shortlist is bounded, sorted and never padded", prop.ForAll(
		func(sims []float64) bool {
			matches := make([]workers.Match, len(sims))
			for i, s := range sims {
				matches[i] = match(fmt.Sprintf("id-%03d", i), s)
			}
			r := Score(matches, Profile{}, DefaultConfig())

			want := len(sims)
			if want > 5 {
				want = 5
			}
			if r.Len() != want {
				return false
			}
			if (r.Len() == 0) != (r.Note == NoCloseMatches) {
				return false
			}
			for i, c := range r.Candidates {
				if c.Score < 0 || c.Score > 1 {
					return false
				}
				if i == 0 {
					continue
				}
				prev := r.Candidates[i-1]
				if prev.Score < c.Score {
					return false
				}
				if prev.Score == c.Score && prev.Candidate.ID > c.Candidate.ID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(-1, 1)),
	))

	properties.Property("filtering never admits a candidate failing every active filter", prop.ForAll(
		func(profileMax float64, mins []float64) bool {
			profile := Profile{
				Categories: []string{"target"},
				Funding:    types.FundingRange{Min: 1, Max: profileMax},
			}
			matches := make([]workers.Match, len(mins))
			for i, m := range mins {
				matches[i] = workers.Match{Similarity: 0.5, Candidate: types.CandidateRecord{
					ID:         fmt.Sprintf("id-%03d", i),
					Categories: []string{"other"},
					Funding:    types.FundingRange{Min: m, Max: m + 10},
				}}
			}
			cfg := DefaultConfig()
			cfg.ShortlistSize = len(mins) + 1
			r := Score(matches, profile, cfg)
			for _, c := range r.Candidates {
				if !c.Candidate.Funding.Overlaps(profile.Funding) {
					return false
				}
			}
			return true
		},
		gen.Float64Range(1, 1000),
		gen.SliceOf(gen.Float64Range(0, 2000)),
	))

	properties.TestingRun(t)
}
