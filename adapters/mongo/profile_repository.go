package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
	"github.com/mjones3/architect-transcript-insights/domain/repositories"
)

const (
	profilesCollection = "speaker_profiles"
	profileSetID       = "speaker_profiles"
)

// profileSet is the single document holding every profile. Replacing one
// document is atomic, so readers never see a partially written set.
type profileSet struct {
	ID        string          `bson:"_id"`
	Profiles  []profileRecord `bson:"profiles"`
	UpdatedAt time.Time       `bson:"updated_at"`
}

// profileRecord stores dates as RFC 3339 strings; BSON datetimes would drop
// sub-millisecond precision.
type profileRecord struct {
	ID          string                 `bson:"id"`
	DisplayName string                 `bson:"display_name"`
	Features    entities.FeatureVector `bson:"features"`
	SampleCount int                    `bson:"sample_count"`
	Verified    bool                   `bson:"verified"`
	CreatedAt   string                 `bson:"created_at"`
	LastSeen    string                 `bson:"last_seen"`
	MeetingIDs  []string               `bson:"meeting_ids"`
}

// ProfileRepository implements repositories.ProfileRepository on MongoDB.
type ProfileRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewProfileRepository creates a MongoDB profile repository
func NewProfileRepository(db *mongo.Database, logger *zap.Logger) repositories.ProfileRepository {
	return &ProfileRepository{
		collection: db.Collection(profilesCollection),
		logger:     logger,
	}
}

// LoadAll implements repositories.ProfileRepository
func (r *ProfileRepository) LoadAll(ctx context.Context) ([]*entities.SpeakerProfile, error) {
	var set profileSet
	err := r.collection.FindOne(ctx, bson.M{"_id": profileSetID}).Decode(&set)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []*entities.SpeakerProfile{}, nil
		}
		return nil, fmt.Errorf("failed to load speaker profiles: %w", err)
	}

	profiles := make([]*entities.SpeakerProfile, 0, len(set.Profiles))
	for _, rec := range set.Profiles {
		p, err := rec.toEntity()
		if err != nil {
			return nil, fmt.Errorf("failed to decode speaker profile %s: %w", rec.ID, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// SaveAll implements repositories.ProfileRepository
func (r *ProfileRepository) SaveAll(ctx context.Context, profiles []*entities.SpeakerProfile) error {
	set := profileSet{
		ID:        profileSetID,
		Profiles:  make([]profileRecord, len(profiles)),
		UpdatedAt: time.Now().UTC(),
	}
	for i, p := range profiles {
		set.Profiles[i] = newProfileRecord(p)
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": profileSetID}, set, opts); err != nil {
		return fmt.Errorf("failed to save speaker profiles: %w", err)
	}

	r.logger.Debug("Saved speaker profiles to MongoDB", zap.Int("count", len(profiles)))
	return nil
}

func newProfileRecord(p *entities.SpeakerProfile) profileRecord {
	return profileRecord{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Features:    p.Features,
		SampleCount: p.SampleCount,
		Verified:    p.Verified,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339Nano),
		LastSeen:    p.LastSeen.UTC().Format(time.RFC3339Nano),
		MeetingIDs:  p.MeetingIDs,
	}
}

func (rec profileRecord) toEntity() (*entities.SpeakerProfile, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	lastSeen, err := time.Parse(time.RFC3339Nano, rec.LastSeen)
	if err != nil {
		return nil, err
	}
	return &entities.SpeakerProfile{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		Features:    rec.Features,
		SampleCount: rec.SampleCount,
		Verified:    rec.Verified,
		CreatedAt:   createdAt.UTC(),
		LastSeen:    lastSeen.UTC(),
		MeetingIDs:  rec.MeetingIDs,
	}, nil
}
