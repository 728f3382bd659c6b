package types

// FundingRange is an inclusive funding interval. A zero Max means unbounded.
type FundingRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max,omitempty"`
}

// IsZero reports whether no bound is set.
func (r FundingRange) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// Overlaps reports whether two ranges share at least one amount.
func (r FundingRange) Overlaps(o FundingRange) bool {
	if r.Max > 0 && o.Min > r.Max {
		return false
	}
	if o.Max > 0 && r.Min > o.Max {
		return false
	}
	return true
}

// CandidateRecord is a funding opportunity as returned by the similarity index.
// The embedding vector is owned by the index and never copied here.
type CandidateRecord struct {
	ID          string       `json:"id"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description"`
	Categories  []string     `json:"categories,omitempty"`
	Funding     FundingRange `json:"funding"`
	// Regions lists where applicants must be located. Empty means no restriction.
	Regions []string `json:"regions,omitempty"`
}

// RankedCandidate is a candidate with its composite score in [0,1] and the reasons for it.
type RankedCandidate struct {
	Candidate CandidateRecord `json:"candidate"`
	Score     float64         `json:"score"`
	Reasons   []string        `json:"reasons"`
}
