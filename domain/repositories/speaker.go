package repositories

import (
	"context"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
)

// ProfileRepository persists the full set of speaker profiles.
//
// SaveAll must replace the stored set atomically: a concurrent or subsequent
// LoadAll observes either the previous set or the new one, never a mix.
// LoadAll returns profiles in the order they were saved. A repository that has
// never been written returns an empty slice and no error.
type ProfileRepository interface {
	LoadAll(ctx context.Context) ([]*entities.SpeakerProfile, error)
	SaveAll(ctx context.Context, profiles []*entities.SpeakerProfile) error
}

// FeatureExtractor turns one utterance's audio into a comparable feature
// vector. Implementations may block; a nil vector or an error means the
// sample carried nothing usable.
type FeatureExtractor interface {
	Extract(ctx context.Context, audio []byte) (*entities.FeatureVector, error)
}

// ProfileEventPublisher is notified after a profile change has been committed.
// Implementations must not block for long; they are called outside the
// store's critical section.
type ProfileEventPublisher interface {
	PublishProfileEvent(event entities.ProfileEvent)
}
