package entities

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

var (
	// ErrInvalidFeatureVector is returned when a feature vector cannot be scored.
	ErrInvalidFeatureVector = errors.New("invalid feature vector")

	// ErrInvalidProfile is returned when a profile breaks a store invariant.
	ErrInvalidProfile = errors.New("invalid speaker profile")
)

const (
	// UnknownSpeakerID is the placeholder ID attributed when no usable
	// feature vector could be produced for an utterance.
	UnknownSpeakerID = "unknown"

	// UnknownSpeakerName is the display name paired with UnknownSpeakerID.
	UnknownSpeakerName = "Unknown Speaker"
)

// FeatureVector is the numeric summary of one voice sample.
// Values are treated as immutable once produced; use Clone before mutating.
type FeatureVector struct {
	Pitch            float64   `json:"pitch" bson:"pitch"`
	Tone             float64   `json:"tone" bson:"tone"`
	Pace             float64   `json:"pace" bson:"pace"`
	SpectralCentroid *float64  `json:"spectral_centroid,omitempty" bson:"spectral_centroid,omitempty"`
	MFCC             []float64 `json:"mfcc,omitempty" bson:"mfcc,omitempty"`
	Formants         []float64 `json:"formants,omitempty" bson:"formants,omitempty"`
}

// Validate checks that the vector carries a voiced pitch and only finite values.
func (v FeatureVector) Validate() error {
	if !finite(v.Pitch) || !finite(v.Tone) || !finite(v.Pace) {
		return fmt.Errorf("%w: non-finite scalar", ErrInvalidFeatureVector)
	}
	if v.Pitch <= 0 {
		return fmt.Errorf("%w: pitch must be positive", ErrInvalidFeatureVector)
	}
	if v.SpectralCentroid != nil && !finite(*v.SpectralCentroid) {
		return fmt.Errorf("%w: non-finite spectral centroid", ErrInvalidFeatureVector)
	}
	for _, c := range v.MFCC {
		if !finite(c) {
			return fmt.Errorf("%w: non-finite mfcc coefficient", ErrInvalidFeatureVector)
		}
	}
	for _, f := range v.Formants {
		if !finite(f) {
			return fmt.Errorf("%w: non-finite formant", ErrInvalidFeatureVector)
		}
	}
	return nil
}

// Clone returns a deep copy of the vector.
func (v FeatureVector) Clone() FeatureVector {
	out := v
	if v.SpectralCentroid != nil {
		sc := *v.SpectralCentroid
		out.SpectralCentroid = &sc
	}
	out.MFCC = slices.Clone(v.MFCC)
	out.Formants = slices.Clone(v.Formants)
	return out
}

// Blend returns the weighted average of v and other.
//
// Scalars are averaged as (v*selfWeight + other*otherWeight) / (selfWeight+otherWeight).
// The spectral centroid is averaged when both sides carry one, otherwise the
// present value is kept. Array features are blended element-wise over v's
// length, falling back to v's own value where other is shorter; when v has no
// array at all, other's array is adopted.
func (v FeatureVector) Blend(other FeatureVector, selfWeight, otherWeight float64) FeatureVector {
	return v.blend(other, selfWeight, otherWeight, true)
}

// foldIn is Blend for a single observation: arrays stay at v's length, so an
// array v lacks is not introduced.
func (v FeatureVector) foldIn(other FeatureVector, selfWeight, otherWeight float64) FeatureVector {
	return v.blend(other, selfWeight, otherWeight, false)
}

func (v FeatureVector) blend(other FeatureVector, selfWeight, otherWeight float64, adoptArrays bool) FeatureVector {
	total := selfWeight + otherWeight
	if total <= 0 {
		return v.Clone()
	}
	mix := func(a, b float64) float64 {
		return (a*selfWeight + b*otherWeight) / total
	}

	out := FeatureVector{
		Pitch: mix(v.Pitch, other.Pitch),
		Tone:  mix(v.Tone, other.Tone),
		Pace:  mix(v.Pace, other.Pace),
	}

	switch {
	case v.SpectralCentroid != nil && other.SpectralCentroid != nil:
		sc := mix(*v.SpectralCentroid, *other.SpectralCentroid)
		out.SpectralCentroid = &sc
	case v.SpectralCentroid != nil:
		sc := *v.SpectralCentroid
		out.SpectralCentroid = &sc
	case other.SpectralCentroid != nil:
		sc := *other.SpectralCentroid
		out.SpectralCentroid = &sc
	}

	out.MFCC = blendSeries(v.MFCC, other.MFCC, mix, adoptArrays)
	out.Formants = blendSeries(v.Formants, other.Formants, mix, adoptArrays)
	return out
}

func blendSeries(own, other []float64, mix func(a, b float64) float64, adopt bool) []float64 {
	if len(own) == 0 {
		if adopt {
			return slices.Clone(other)
		}
		return slices.Clone(own)
	}
	out := make([]float64, len(own))
	for i, existing := range own {
		incoming := existing
		if i < len(other) {
			incoming = other[i]
		}
		out[i] = mix(existing, incoming)
	}
	return out
}

// SpeakerProfile is the durable record of one recognized speaker identity.
type SpeakerProfile struct {
	ID          string        `json:"id" bson:"id"`
	DisplayName string        `json:"display_name" bson:"display_name"`
	Features    FeatureVector `json:"features" bson:"features"`
	SampleCount int           `json:"sample_count" bson:"sample_count"`
	Verified    bool          `json:"verified" bson:"verified"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	LastSeen    time.Time     `json:"last_seen" bson:"last_seen"`
	MeetingIDs  []string      `json:"meeting_ids" bson:"meeting_ids"`
}

// NewSpeakerProfile creates a profile holding a single observation.
func NewSpeakerProfile(id, displayName string, features FeatureVector, meetingID string, verified bool, now time.Time) *SpeakerProfile {
	now = now.UTC()
	p := &SpeakerProfile{
		ID:          id,
		DisplayName: displayName,
		Features:    features.Clone(),
		SampleCount: 1,
		Verified:    verified,
		CreatedAt:   now,
		LastSeen:    now,
		MeetingIDs:  make([]string, 0, 1),
	}
	p.AddMeeting(meetingID)
	return p
}

// Clone returns a deep copy of the profile.
func (p *SpeakerProfile) Clone() *SpeakerProfile {
	out := *p
	out.Features = p.Features.Clone()
	out.MeetingIDs = slices.Clone(p.MeetingIDs)
	if out.MeetingIDs == nil {
		out.MeetingIDs = []string{}
	}
	return &out
}

// AddMeeting records a meeting the speaker appeared in. Duplicates and empty
// IDs are ignored.
func (p *SpeakerProfile) AddMeeting(meetingID string) {
	if meetingID == "" || slices.Contains(p.MeetingIDs, meetingID) {
		return
	}
	p.MeetingIDs = append(p.MeetingIDs, meetingID)
}

// Fold merges one new observation into the running feature estimate. The
// existing estimate weighs min(SampleCount, weightCap) against the new
// sample's weight of 1.
func (p *SpeakerProfile) Fold(v FeatureVector, weightCap int, meetingID string, now time.Time) {
	existingWeight := min(p.SampleCount, weightCap)
	p.Features = p.Features.foldIn(v, float64(existingWeight), 1)
	p.SampleCount++
	p.LastSeen = now.UTC()
	p.AddMeeting(meetingID)
}

// Absorb merges other into p: features are averaged weighted by each side's
// sample count, meetings are unioned, counts are summed, and LastSeen and
// CreatedAt take the later and earlier of the two respectively.
func (p *SpeakerProfile) Absorb(other *SpeakerProfile) {
	p.Features = p.Features.Blend(other.Features, float64(p.SampleCount), float64(other.SampleCount))
	for _, m := range other.MeetingIDs {
		p.AddMeeting(m)
	}
	p.SampleCount += other.SampleCount
	if other.LastSeen.After(p.LastSeen) {
		p.LastSeen = other.LastSeen
	}
	if other.CreatedAt.Before(p.CreatedAt) {
		p.CreatedAt = other.CreatedAt
	}
	p.Verified = p.Verified || other.Verified
}

// Validate checks the invariants every stored profile must hold.
func (p *SpeakerProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProfile)
	}
	if p.DisplayName == "" {
		return fmt.Errorf("%w: display name is required", ErrInvalidProfile)
	}
	if p.SampleCount < 1 {
		return fmt.Errorf("%w: profile %s has sample count %d", ErrInvalidProfile, p.ID, p.SampleCount)
	}
	return nil
}

// Match builds the attribution result for this profile.
func (p *SpeakerProfile) Match(confidence float64, isNew bool) SpeakerMatch {
	return SpeakerMatch{
		SpeakerID:    p.ID,
		SpeakerName:  p.DisplayName,
		Confidence:   confidence,
		IsNewSpeaker: isNew,
	}
}

// SpeakerMatch is the attribution of one utterance to a speaker.
type SpeakerMatch struct {
	SpeakerID    string  `json:"speaker_id"`
	SpeakerName  string  `json:"speaker_name"`
	Confidence   float64 `json:"confidence"`
	IsNewSpeaker bool    `json:"is_new_speaker"`
}

// UnknownSpeaker is the low-confidence placeholder returned when an utterance
// cannot be attributed.
func UnknownSpeaker() SpeakerMatch {
	return SpeakerMatch{
		SpeakerID:   UnknownSpeakerID,
		SpeakerName: UnknownSpeakerName,
	}
}

// IsUnknown reports whether m is the unknown-speaker placeholder.
func (m SpeakerMatch) IsUnknown() bool {
	return m.SpeakerID == UnknownSpeakerID
}

// SpeakerStats aggregates the profile store.
type SpeakerStats struct {
	TotalSpeakers      int     `json:"total_speakers"`
	VerifiedSpeakers   int     `json:"verified_speakers"`
	AverageSampleCount float64 `json:"average_sample_count"`
	RecentSpeakers     int     `json:"recent_speakers"`
}

// ComputeStats aggregates profiles. A profile is recent when it was last seen
// less than window before now.
func ComputeStats(profiles []*SpeakerProfile, now time.Time, window time.Duration) SpeakerStats {
	var stats SpeakerStats
	var samples int
	for _, p := range profiles {
		stats.TotalSpeakers++
		samples += p.SampleCount
		if p.Verified {
			stats.VerifiedSpeakers++
		}
		if now.Sub(p.LastSeen) < window {
			stats.RecentSpeakers++
		}
	}
	if stats.TotalSpeakers > 0 {
		stats.AverageSampleCount = float64(samples) / float64(stats.TotalSpeakers)
	}
	return stats
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
