package voice

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"errors"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
	"github.com/mjones3/architect-transcript-insights/domain/repositories"
)

// MFCCLength is the number of coefficients produced per sample.
const MFCCLength = 13

// ErrEmptySample is returned for audio with no bytes.
var ErrEmptySample = errors.New("voice: empty audio sample")

// HashExtractor derives a deterministic pseudo feature vector from the MD5 of
// the sample bytes. It stands in for a real acoustic model: identical audio
// always yields an identical vector, unrelated audio a scattered one.
type HashExtractor struct{}

var _ repositories.FeatureExtractor = HashExtractor{}

// NewHashExtractor creates a hash-derived feature extractor.
func NewHashExtractor() HashExtractor {
	return HashExtractor{}
}

// Extract implements repositories.FeatureExtractor
func (HashExtractor) Extract(ctx context.Context, audio []byte) (*entities.FeatureVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, ErrEmptySample
	}
	v := FromSeed(Seed(audio))
	return &v, nil
}

// Seed is the first four bytes of the sample's MD5, big endian.
func Seed(audio []byte) uint32 {
	sum := md5.Sum(audio)
	return binary.BigEndian.Uint32(sum[:4])
}

// FromSeed expands a seed into a vector in realistic ranges: pitch 80-280 Hz,
// pace 0.8-1.2, spectral centroid 1000-4000 Hz, three formants.
func FromSeed(seed uint32) entities.FeatureVector {
	s := uint64(seed)
	centroid := float64(1000 + s%3000)

	mfcc := make([]float64, MFCCLength)
	for i := range mfcc {
		mfcc[i] = float64((s+uint64(i)*37)%100) / 100
	}

	return entities.FeatureVector{
		Pitch:            float64(80 + s%200),
		Tone:             float64(s%100) / 100,
		Pace:             0.8 + float64(s%40)/100,
		SpectralCentroid: &centroid,
		MFCC:             mfcc,
		Formants: []float64{
			float64(200 + s%300),
			float64(800 + s%1200),
			float64(2000 + s%1500),
		},
	}
}
