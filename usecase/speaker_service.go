package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
	"github.com/mjones3/architect-transcript-insights/domain/repositories"
)

// Tunable defaults.
const (
	DefaultFoldWeightCap    = 10
	DefaultCachedConfidence = 0.9
	DefaultRecentWindow     = 7 * 24 * time.Hour
)

var (
	// ErrProfileNotFound is returned when a referenced profile does not exist.
	ErrProfileNotFound = errors.New("speaker profile not found")

	// ErrSelfMerge is returned when a profile is merged into itself.
	ErrSelfMerge = errors.New("cannot merge a speaker with itself")

	// ErrEmptyName is returned when a display name is blank.
	ErrEmptyName = errors.New("display name must not be empty")

	// ErrNoUsableSample is returned when a manual operation's audio yields no
	// feature vector.
	ErrNoUsableSample = errors.New("audio sample produced no usable voice features")
)

// SpeakerConfig tunes matching and folding.
type SpeakerConfig struct {
	MatchThreshold   float64
	FoldWeightCap    int
	CachedConfidence float64
	RecentWindow     time.Duration
}

// DefaultSpeakerConfig returns the stock tuning.
func DefaultSpeakerConfig() SpeakerConfig {
	return SpeakerConfig{
		MatchThreshold:   DefaultMatchThreshold,
		FoldWeightCap:    DefaultFoldWeightCap,
		CachedConfidence: DefaultCachedConfidence,
		RecentWindow:     DefaultRecentWindow,
	}
}

// SpeakerService attributes utterances to persistent speaker identities and
// applies manual corrections to the profile store.
type SpeakerService struct {
	store     *ProfileStore
	matcher   *Matcher
	extractor repositories.FeatureExtractor
	publisher repositories.ProfileEventPublisher
	sessions  *sessionRegistry
	cfg       SpeakerConfig
	logger    *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewSpeakerService creates a speaker service.
func NewSpeakerService(
	store *ProfileStore,
	extractor repositories.FeatureExtractor,
	cfg SpeakerConfig,
	logger *zap.Logger,
) *SpeakerService {
	if cfg.FoldWeightCap < 1 {
		cfg.FoldWeightCap = DefaultFoldWeightCap
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	return &SpeakerService{
		store:     store,
		matcher:   NewMatcher(cfg.MatchThreshold),
		extractor: extractor,
		sessions:  newSessionRegistry(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// SetPublisher registers the subscriber notified of committed profile
// changes. It must be called before the service handles requests.
func (s *SpeakerService) SetPublisher(p repositories.ProfileEventPublisher) {
	s.publisher = p
}

// OpenSession returns the label session for sessionID, creating it if needed.
// Sessions opened this way are closed by ExpireIdleSessions once idle.
// An empty sessionID gets a generated one.
func (s *SpeakerService) OpenSession(sessionID string) *LabelSession {
	return s.openSession(sessionID, false)
}

// AttachSession is like OpenSession but the session stays open until
// CloseSession, regardless of idleness. Used for connection-bound sessions.
func (s *SpeakerService) AttachSession(sessionID string) *LabelSession {
	return s.openSession(sessionID, true)
}

func (s *SpeakerService) openSession(sessionID string, pinned bool) *LabelSession {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	sess, created := s.sessions.open(sessionID, pinned, s.now())
	if created {
		s.logger.Info("Speaker session opened", zap.String("sessionID", sessionID))
	}
	return sess
}

// Session returns the open session with sessionID.
func (s *SpeakerService) Session(sessionID string) (*LabelSession, bool) {
	return s.sessions.get(sessionID)
}

// CloseSession ends a session and discards its label cache.
func (s *SpeakerService) CloseSession(sessionID string) bool {
	closed := s.sessions.close(sessionID)
	if closed {
		s.logger.Info("Speaker session closed", zap.String("sessionID", sessionID))
	}
	return closed
}

// ExpireIdleSessions closes unpinned sessions with no activity for ttl and
// returns how many were closed.
func (s *SpeakerService) ExpireIdleSessions(ttl time.Duration) int {
	ids := s.sessions.idle(s.now().Add(-ttl))
	for _, id := range ids {
		s.CloseSession(id)
	}
	return len(ids)
}

// OpenSessions returns the number of open sessions.
func (s *SpeakerService) OpenSessions() int {
	return s.sessions.len()
}

// ResolveSpeaker attributes one diarized utterance. A label already resolved
// in this session returns its cached speaker without re-scoring. Otherwise the
// audio is analyzed and matched, and the result is cached under the label.
//
// It never fails: when no usable vector can be produced or the store cannot be
// written, the unknown-speaker placeholder is returned.
func (s *SpeakerService) ResolveSpeaker(ctx context.Context, sess *LabelSession, label string, audio []byte) entities.SpeakerMatch {
	return s.resolve(ctx, sess, label, func(ctx context.Context) (*entities.FeatureVector, error) {
		return s.extractor.Extract(ctx, audio)
	})
}

// ResolveForSession is ResolveSpeaker keyed by session ID; the session is
// opened on first use.
func (s *SpeakerService) ResolveForSession(ctx context.Context, sessionID, label string, audio []byte) entities.SpeakerMatch {
	return s.ResolveSpeaker(ctx, s.OpenSession(sessionID), label, audio)
}

type vectorProducer func(ctx context.Context) (*entities.FeatureVector, error)

func (s *SpeakerService) resolve(ctx context.Context, sess *LabelSession, label string, produce vectorProducer) entities.SpeakerMatch {
	sess.touch(s.now())

	if label == "" {
		return s.observeProduced(ctx, sess, "", produce)
	}

	if m, ok := s.cachedMatch(ctx, sess, label); ok {
		return m
	}

	// Every waiter on the label shares the flight's result.
	shared := context.WithoutCancel(ctx)
	v, _, _ := sess.flight.Do(label, func() (interface{}, error) {
		// A concurrent call may have resolved the label while we waited.
		if m, ok := s.cachedMatch(shared, sess, label); ok {
			return m, nil
		}
		return s.observeProduced(shared, sess, label, produce), nil
	})
	return v.(entities.SpeakerMatch)
}

func (s *SpeakerService) cachedMatch(ctx context.Context, sess *LabelSession, label string) (entities.SpeakerMatch, bool) {
	speakerID, ok := sess.Lookup(label)
	if !ok {
		return entities.SpeakerMatch{}, false
	}
	p, ok := s.store.Get(ctx, speakerID)
	if !ok {
		sess.forget(label, speakerID)
		return entities.SpeakerMatch{}, false
	}
	s.logger.Debug("Speaker resolved from session cache",
		zap.String("sessionID", sess.ID()),
		zap.String("label", label),
		zap.String("speakerID", p.ID))
	return p.Match(s.cfg.CachedConfidence, false), true
}

func (s *SpeakerService) observeProduced(ctx context.Context, sess *LabelSession, label string, produce vectorProducer) entities.SpeakerMatch {
	v, err := produce(ctx)
	if err != nil || v == nil {
		s.logger.Warn("No usable voice features, attributing to unknown speaker",
			zap.String("sessionID", sess.ID()),
			zap.String("label", label),
			zap.Error(err))
		return entities.UnknownSpeaker()
	}

	var remember func(string)
	if label != "" {
		remember = func(speakerID string) { sess.remember(label, speakerID) }
	}

	m, err := s.observe(ctx, *v, sess.ID(), remember)
	if err != nil {
		s.logger.Error("Speaker observation failed, attributing to unknown speaker",
			zap.String("sessionID", sess.ID()),
			zap.String("label", label),
			zap.Error(err))
		return entities.UnknownSpeaker()
	}
	return m
}

// Observe matches v against the store, folding it into the best profile at or
// above the threshold or creating a new profile otherwise. The store is
// persisted before Observe returns.
func (s *SpeakerService) Observe(ctx context.Context, v entities.FeatureVector, meetingID string) (entities.SpeakerMatch, error) {
	return s.observe(ctx, v, meetingID, nil)
}

// observe runs onCommit with the attributed speaker ID inside the store's
// critical section, after the change has been persisted.
func (s *SpeakerService) observe(ctx context.Context, v entities.FeatureVector, meetingID string, onCommit func(speakerID string)) (entities.SpeakerMatch, error) {
	if err := v.Validate(); err != nil {
		return entities.SpeakerMatch{}, err
	}

	var (
		match   entities.SpeakerMatch
		created *entities.SpeakerProfile
	)
	err := s.store.Update(ctx, func(tx *ProfileTx) error {
		now := s.now()
		if cand, ok := s.matcher.Match(v, tx.Profiles()); ok {
			p, _ := tx.Get(cand.Profile.ID)
			p.Fold(v, s.cfg.FoldWeightCap, meetingID, now)
			match = p.Match(cand.Score, false)
		} else {
			p := entities.NewSpeakerProfile(s.newID(), nextSpeakerName(tx.Profiles()), v, meetingID, false, now)
			tx.Put(p)
			created = p.Clone()
			match = p.Match(1.0, true)
		}
		if onCommit != nil {
			speakerID := match.SpeakerID
			tx.OnCommit(func() { onCommit(speakerID) })
		}
		return nil
	})
	if err != nil {
		return entities.SpeakerMatch{}, err
	}

	if created != nil {
		s.logger.Info("Created new speaker profile",
			zap.String("speakerID", created.ID),
			zap.String("displayName", created.DisplayName),
			zap.String("meetingID", meetingID))
		s.publish(entities.ProfileEventCreated, created, "")
	} else {
		s.logger.Debug("Matched speaker profile",
			zap.String("speakerID", match.SpeakerID),
			zap.Float64("confidence", match.Confidence),
			zap.String("meetingID", meetingID))
	}
	return match, nil
}

// nextSpeakerName derives "Speaker N" from the store size. N starts at size+1
// and skips names already in use, so it survives restarts without a counter.
func nextSpeakerName(profiles []*entities.SpeakerProfile) string {
	taken := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		taken[p.DisplayName] = true
	}
	for n := len(profiles) + 1; ; n++ {
		name := fmt.Sprintf("Speaker %d", n)
		if !taken[name] {
			return name
		}
	}
}

// Identify attributes a single sample outside any live session. When
// knownSpeakerID names an existing profile it is returned with full confidence
// without scoring.
func (s *SpeakerService) Identify(ctx context.Context, audio []byte, meetingID, knownSpeakerID string) entities.SpeakerMatch {
	if knownSpeakerID != "" {
		if p, ok := s.store.Get(ctx, knownSpeakerID); ok {
			return p.Match(1.0, false)
		}
	}
	if meetingID == "" {
		meetingID = "manual"
	}

	v, err := s.extractor.Extract(ctx, audio)
	if err != nil || v == nil {
		s.logger.Warn("Identification sample unusable", zap.Error(err))
		return entities.UnknownSpeaker()
	}
	m, err := s.Observe(ctx, *v, meetingID)
	if err != nil {
		s.logger.Error("Identification failed", zap.Error(err))
		return entities.UnknownSpeaker()
	}
	return m
}

// ListProfiles returns all profiles in store order.
func (s *SpeakerService) ListProfiles(ctx context.Context) []*entities.SpeakerProfile {
	return s.store.LoadAll(ctx)
}

// GetProfile returns the profile with the given ID.
func (s *SpeakerService) GetProfile(ctx context.Context, id string) (*entities.SpeakerProfile, bool) {
	return s.store.Get(ctx, id)
}

// Rename sets a profile's display name and marks it verified. It reports
// false when the profile does not exist.
func (s *SpeakerService) Rename(ctx context.Context, id, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrEmptyName
	}

	var renamed *entities.SpeakerProfile
	err := s.store.Update(ctx, func(tx *ProfileTx) error {
		p, ok := tx.Get(id)
		if !ok {
			return ErrProfileNotFound
		}
		p.DisplayName = name
		p.Verified = true
		renamed = p.Clone()
		return nil
	})
	if errors.Is(err, ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("Renamed speaker profile", zap.String("speakerID", id), zap.String("displayName", name))
	s.publish(entities.ProfileEventRenamed, renamed, "")
	return true, nil
}

// Merge folds secondary into primary and removes secondary permanently. Session
// labels pointing at secondary are remapped to primary. It reports false when
// either profile does not exist.
func (s *SpeakerService) Merge(ctx context.Context, primaryID, secondaryID string) (bool, error) {
	if primaryID == secondaryID {
		return false, ErrSelfMerge
	}

	var merged *entities.SpeakerProfile
	remapped := 0
	err := s.store.Update(ctx, func(tx *ProfileTx) error {
		secondary, ok := tx.Peek(secondaryID)
		if !ok {
			return ErrProfileNotFound
		}
		primary, ok := tx.Get(primaryID)
		if !ok {
			return ErrProfileNotFound
		}
		primary.Absorb(secondary)
		tx.Remove(secondaryID)
		merged = primary.Clone()
		tx.OnCommit(func() { remapped = s.sessions.remap(secondaryID, primaryID) })
		return nil
	})
	if errors.Is(err, ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("Merged speaker profiles",
		zap.String("primaryID", primaryID),
		zap.String("secondaryID", secondaryID),
		zap.Int("sampleCount", merged.SampleCount),
		zap.Int("remappedLabels", remapped))
	s.publish(entities.ProfileEventMerged, merged, secondaryID)
	return true, nil
}

// Delete removes a profile and drops session labels pointing at it. It reports
// false when the profile does not exist.
func (s *SpeakerService) Delete(ctx context.Context, id string) (bool, error) {
	dropped := 0
	err := s.store.Update(ctx, func(tx *ProfileTx) error {
		if !tx.Remove(id) {
			return ErrProfileNotFound
		}
		tx.OnCommit(func() { dropped = s.sessions.forgetSpeaker(id) })
		return nil
	})
	if errors.Is(err, ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("Deleted speaker profile", zap.String("speakerID", id), zap.Int("droppedLabels", dropped))
	s.publish(entities.ProfileEventDeleted, nil, "", id)
	return true, nil
}

// Stats aggregates the store.
func (s *SpeakerService) Stats(ctx context.Context) entities.SpeakerStats {
	var stats entities.SpeakerStats
	s.store.View(ctx, func(profiles []*entities.SpeakerProfile) {
		stats = entities.ComputeStats(profiles, s.now(), s.cfg.RecentWindow)
	})
	return stats
}

// CreateProfile enrolls a new, verified speaker from a sample without matching.
func (s *SpeakerService) CreateProfile(ctx context.Context, displayName string, audio []byte, meetingID string) (*entities.SpeakerProfile, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrEmptyName
	}
	if meetingID == "" {
		meetingID = "manual"
	}

	v, err := s.extractVector(ctx, audio)
	if err != nil {
		return nil, err
	}

	p := entities.NewSpeakerProfile(s.newID(), displayName, *v, meetingID, true, s.now())
	err = s.store.Update(ctx, func(tx *ProfileTx) error {
		tx.Put(p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Enrolled speaker profile", zap.String("speakerID", p.ID), zap.String("displayName", displayName))
	s.publish(entities.ProfileEventCreated, p, "")
	return p.Clone(), nil
}

// Train folds a sample into a specific profile, bypassing matching. It reports
// false when the profile does not exist.
func (s *SpeakerService) Train(ctx context.Context, id string, audio []byte, meetingID string) (bool, error) {
	v, err := s.extractVector(ctx, audio)
	if err != nil {
		return false, err
	}

	var trained *entities.SpeakerProfile
	err = s.store.Update(ctx, func(tx *ProfileTx) error {
		p, ok := tx.Get(id)
		if !ok {
			return ErrProfileNotFound
		}
		p.Fold(*v, s.cfg.FoldWeightCap, meetingID, s.now())
		trained = p.Clone()
		return nil
	})
	if errors.Is(err, ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.logger.Info("Trained speaker profile", zap.String("speakerID", id), zap.Int("sampleCount", trained.SampleCount))
	s.publish(entities.ProfileEventTrained, trained, "")
	return true, nil
}

func (s *SpeakerService) extractVector(ctx context.Context, audio []byte) (*entities.FeatureVector, error) {
	v, err := s.extractor.Extract(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUsableSample, err)
	}
	if v == nil {
		return nil, ErrNoUsableSample
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// publish must be called outside the store's critical section.
func (s *SpeakerService) publish(kind entities.ProfileEventType, p *entities.SpeakerProfile, mergedFrom string, id ...string) {
	if s.publisher == nil {
		return
	}
	event := entities.ProfileEvent{
		Type:       kind,
		Profile:    p,
		MergedFrom: mergedFrom,
		Timestamp:  s.now().UTC(),
	}
	switch {
	case p != nil:
		event.ProfileID = p.ID
	case len(id) > 0:
		event.ProfileID = id[0]
	}
	s.publisher.PublishProfileEvent(event)
}
