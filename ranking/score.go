package ranking

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/grantflow/types"
	"github.com/BaSui01/grantflow/workers"
)

// NoCloseMatches is the note attached to an empty ranking.
const NoCloseMatches = "no close matches"

// Profile 申请方画像，用于硬过滤和加分
type Profile struct {
	Categories []string           `json:"categories,omitempty" yaml:"categories"`
	Funding    types.FundingRange `json:"funding" yaml:"funding"`
	// Region is where the applicant is located.
	Region string `json:"region,omitempty" yaml:"region"`
}

// ParseProfile accepts a Profile, a *Profile or a decoded JSON object.
func ParseProfile(v any) (Profile, error) {
	switch p := v.(type) {
	case nil:
		return Profile{}, nil
	case Profile:
		return p, nil
	case *Profile:
		if p == nil {
			return Profile{}, nil
		}
		return *p, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return Profile{}, types.NewValidationError("profile is not an object").WithCause(err)
		}
		var out Profile
		if err := json.Unmarshal(raw, &out); err != nil {
			return Profile{}, types.NewValidationError("profile is malformed").WithCause(err)
		}
		return out, nil
	}
}

// Ranking is an ordered shortlist. Note is set only when the shortlist is empty.
type Ranking struct {
	Candidates []types.RankedCandidate `json:"candidates"`
	Note       string                  `json:"note,omitempty"`
}

// Len returns the number of shortlisted candidates.
func (r Ranking) Len() int { return len(r.Candidates) }

// Score applies profile filters, composite scoring, ordering and truncation to the raw
// similarity matches. It is deterministic for a given input.
func Score(matches []workers.Match, profile Profile, cfg Config) Ranking {
	cfg = cfg.normalized()

	kept := filter(dedupe(matches), profile)
	if len(kept) == 0 {
		return Ranking{Candidates: []types.RankedCandidate{}, Note: NoCloseMatches}
	}

	lo, hi := kept[0].Similarity, kept[0].Similarity
	for _, m := range kept[1:] {
		lo = min(lo, m.Similarity)
		hi = max(hi, m.Similarity)
	}

	w := cfg.Weights
	total := w.Similarity + w.Category + w.Geography

	ranked := make([]types.RankedCandidate, 0, len(kept))
	for _, m := range kept {
		sim := 1.0
		if hi > lo {
			sim = (m.Similarity - lo) / (hi - lo)
		}
		catHits := categoryOverlap(m.Candidate.Categories, profile.Categories)
		geo := geographicMatch(m.Candidate.Regions, profile.Region)

		score := w.Similarity * sim
		if len(catHits) > 0 {
			score += w.Category
		}
		if geo {
			score += w.Geography
		}
		score /= total

		ranked = append(ranked, types.RankedCandidate{
			Candidate: m.Candidate,
			Score:     clamp01(score),
			Reasons:   reasons(m, sim, catHits, geo, profile),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Candidate.ID < ranked[j].Candidate.ID
	})
	if len(ranked) > cfg.ShortlistSize {
		ranked = ranked[:cfg.ShortlistSize]
	}
	return Ranking{Candidates: ranked}
}

// dedupe 相同 ID 只保留相似度最高的一条
func dedupe(matches []workers.Match) []workers.Match {
	pos := make(map[string]int, len(matches))
	out := make([]workers.Match, 0, len(matches))
	for _, m := range matches {
		if i, ok := pos[m.Candidate.ID]; ok {
			if m.Similarity > out[i].Similarity {
				out[i] = m
			}
			continue
		}
		pos[m.Candidate.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// filter 仅当候选未通过所有已启用的过滤器时才剔除
func filter(matches []workers.Match, p Profile) []workers.Match {
	byCategory := len(p.Categories) > 0
	byFunding := !p.Funding.IsZero()
	if !byCategory && !byFunding {
		return matches
	}

	out := matches[:0:0]
	for _, m := range matches {
		if byCategory && len(categoryOverlap(m.Candidate.Categories, p.Categories)) > 0 {
			out = append(out, m)
			continue
		}
		if byFunding && m.Candidate.Funding.Overlaps(p.Funding) {
			out = append(out, m)
		}
	}
	return out
}

// categoryOverlap returns the candidate's categories that the profile also lists, in the
// candidate's order. Comparison ignores case.
func categoryOverlap(candidate, profile []string) []string {
	if len(candidate) == 0 || len(profile) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(profile))
	for _, c := range profile {
		want[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	var hits []string
	for _, c := range candidate {
		if _, ok := want[strings.ToLower(strings.TrimSpace(c))]; ok {
			hits = append(hits, c)
		}
	}
	return hits
}

// geographicMatch 候选不限地区，或列出了申请方所在地区
func geographicMatch(regions []string, region string) bool {
	if len(regions) == 0 {
		return true
	}
	for _, r := range regions {
		if region != "" && strings.EqualFold(strings.TrimSpace(r), strings.TrimSpace(region)) {
			return true
		}
	}
	return false
}

func reasons(m workers.Match, sim float64, catHits []string, geo bool, p Profile) []string {
	out := []string{fmt.Sprintf("semantic relevance %.2f", sim)}
	if len(catHits) > 0 {
		out = append(out, "category match: "+strings.Join(catHits, ", "))
	}
	if !p.Funding.IsZero() && m.Candidate.Funding.Overlaps(p.Funding) {
		out = append(out, "funding range overlaps")
	}
	switch {
	case geo && len(m.Candidate.Regions) == 0:
		out = append(out, "no regional restriction")
	case geo:
		out = append(out, "eligible in "+p.Region)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
