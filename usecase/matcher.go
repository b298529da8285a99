package usecase

import "github.com/mjones3/architect-transcript-insights/domain/entities"

// DefaultMatchThreshold is the minimum similarity for an utterance to be
// attributed to an existing profile.
const DefaultMatchThreshold = 0.75

// Candidate is the best-scoring profile for a feature vector.
type Candidate struct {
	Profile *entities.SpeakerProfile
	Score   float64
}

// Matcher finds the stored profile closest to a feature vector.
type Matcher struct {
	// Threshold gates acceptance: scores at or above it match.
	Threshold float64

	// Score compares two vectors. Defaults to entities.Similarity.
	Score func(a, b entities.FeatureVector) float64
}

// NewMatcher creates a matcher using entities.Similarity.
func NewMatcher(threshold float64) *Matcher {
	return &Matcher{
		Threshold: threshold,
		Score:     entities.Similarity,
	}
}

// Match scans profiles in order and returns the highest-scoring one if it
// reaches the threshold. Ties keep the earlier profile. A best candidate below
// the threshold is not returned.
func (m *Matcher) Match(v entities.FeatureVector, profiles []*entities.SpeakerProfile) (Candidate, bool) {
	score := m.Score
	if score == nil {
		score = entities.Similarity
	}

	var best Candidate
	found := false
	for _, p := range profiles {
		s := score(v, p.Features)
		if !found || s > best.Score {
			best = Candidate{Profile: p, Score: s}
			found = true
		}
	}

	if !found || best.Score < m.Threshold {
		return Candidate{}, false
	}
	return best, true
}
