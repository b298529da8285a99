package entities

import "math"

// Per-feature weights of the similarity score.
const (
	PitchWeight   = 0.30
	ToneWeight    = 0.20
	PaceWeight    = 0.15
	MFCCWeight    = 0.25
	FormantWeight = 0.10
)

// Normalization spans for frequency features, in Hz.
const (
	pitchSpan   = 100.0
	formantSpan = 1000.0
)

// Similarity scores how alike two feature vectors are, in [0, 1].
//
// Each feature contributes max(0, 1-|Δ|/span) times its weight. Optional
// features (MFCC, formants) only contribute when both vectors carry them,
// and the result is renormalized over the weights that applied. The
// function is deterministic and symmetric.
func Similarity(a, b FeatureVector) float64 {
	var total, weights float64

	total += PitchWeight * closeness(a.Pitch, b.Pitch, pitchSpan)
	weights += PitchWeight

	total += ToneWeight * closeness(a.Tone, b.Tone, 1)
	weights += ToneWeight

	total += PaceWeight * closeness(a.Pace, b.Pace, 1)
	weights += PaceWeight

	if sim, ok := seriesCloseness(a.MFCC, b.MFCC, 1); ok {
		total += MFCCWeight * sim
		weights += MFCCWeight
	}

	if sim, ok := seriesCloseness(a.Formants, b.Formants, formantSpan); ok {
		total += FormantWeight * sim
		weights += FormantWeight
	}

	if weights == 0 {
		return 0
	}
	score := total / weights
	if math.IsNaN(score) {
		return 0
	}
	return math.Min(1, math.Max(0, score))
}

func closeness(a, b, span float64) float64 {
	return math.Max(0, 1-math.Abs(a-b)/span)
}

// seriesCloseness averages closeness over the overlapping prefix. It reports
// false when either side is missing or the overlap is empty.
func seriesCloseness(a, b []float64, span float64) (float64, bool) {
	n := min(len(a), len(b))
	if n == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += closeness(a[i], b[i], span)
	}
	return sum / float64(n), true
}
