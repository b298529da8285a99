package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
)

func TestEndToEndSessionScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("sample-a"))
	assert.True(t, first.IsNewSpeaker)
	assert.Equal(t, "Speaker 1", first.SpeakerName)
	assert.Equal(t, 1.0, first.Confidence)
	p1 := first.SpeakerID

	stored, ok := f.svc.GetProfile(ctx, p1)
	require.True(t, ok)
	assert.Equal(t, 1, stored.SampleCount)
	assert.Equal(t, []string{"s1"}, stored.MeetingIDs)

	callsBefore := f.extractor.calls.Load()
	cached := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("sample-a-ish"))
	assert.Equal(t, p1, cached.SpeakerID)
	assert.False(t, cached.IsNewSpeaker)
	assert.Equal(t, DefaultCachedConfidence, cached.Confidence)
	assert.Equal(t, callsBefore, f.extractor.calls.Load(), "cached label must not be re-analyzed")

	second := f.svc.ResolveForSession(ctx, "s1", "spk_1", []byte("sample-b"))
	assert.True(t, second.IsNewSpeaker)
	assert.Equal(t, "Speaker 2", second.SpeakerName)
	p2 := second.SpeakerID
	assert.NotEqual(t, p1, p2)

	ok, err := f.svc.Rename(ctx, p1, "Alice")
	require.NoError(t, err)
	require.True(t, ok)
	alice, _ := f.svc.GetProfile(ctx, p1)
	assert.True(t, alice.Verified)

	renamed := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("sample-a"))
	assert.Equal(t, "Alice", renamed.SpeakerName, "cached lookups return the current display name")

	ok, err = f.svc.Merge(ctx, p1, p2)
	require.NoError(t, err)
	require.True(t, ok)

	profiles := f.svc.ListProfiles(ctx)
	require.Len(t, profiles, 1)
	assert.Equal(t, "Alice", profiles[0].DisplayName)
	assert.Equal(t, 2, profiles[0].SampleCount)
	_, ok = f.svc.GetProfile(ctx, p2)
	assert.False(t, ok)

	assert.Len(t, f.repo.stored(), 1, "every change is persisted")
	assert.Equal(t,
		[]entities.ProfileEventType{
			entities.ProfileEventCreated,
			entities.ProfileEventCreated,
			entities.ProfileEventRenamed,
			entities.ProfileEventMerged,
		},
		f.publisher.types())
}

func TestObserveFoldsMatchedProfile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Observe(ctx, voiceA, "m1")
	require.NoError(t, err)
	require.True(t, created.IsNewSpeaker)

	f.clock.Advance(time.Minute)
	matched, err := f.svc.Observe(ctx, voiceANear, "m2")
	require.NoError(t, err)
	assert.False(t, matched.IsNewSpeaker)
	assert.Equal(t, created.SpeakerID, matched.SpeakerID)
	assert.InDelta(t, entities.Similarity(voiceANear, voiceA), matched.Confidence, 1e-12)

	p, _ := f.svc.GetProfile(ctx, created.SpeakerID)
	assert.Equal(t, 2, p.SampleCount)
	assert.GreaterOrEqual(t, p.Features.Pitch, voiceA.Pitch)
	assert.LessOrEqual(t, p.Features.Pitch, voiceANear.Pitch)
	assert.True(t, f.clock.Now().Equal(p.LastSeen))
	assert.Equal(t, []string{"m1", "m2"}, p.MeetingIDs)
}

func TestObserveRejectsInvalidVector(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Observe(context.Background(), entities.FeatureVector{Tone: 0.5}, "m1")
	assert.ErrorIs(t, err, entities.ErrInvalidFeatureVector)
	assert.Equal(t, 0, f.store.Len(context.Background()))
}

func TestSpeakerNamesSurviveRestart(t *testing.T) {
	f := newFixture(
		profile("x", "Speaker 1", voiceB),
		profile("y", "Speaker 3", voiceC),
	)

	m, err := f.svc.Observe(context.Background(), voiceA, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Speaker 4", m.SpeakerName, "Speaker 3 is taken, so the next free number is used")
}

func TestResolveFallsBackToUnknownSpeaker(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	m := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("silence"))
	assert.True(t, m.IsUnknown())
	assert.Equal(t, entities.UnknownSpeakerName, m.SpeakerName)
	assert.Zero(t, m.Confidence)

	sess, _ := f.svc.Session("s1")
	assert.Empty(t, sess.Labels(), "unknown attributions are not cached")
	assert.Equal(t, 0, f.store.Len(ctx))

	m = f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("sample-a"))
	assert.True(t, m.IsNewSpeaker)
}

func TestResolveSurfacesStorageFailureAsUnknown(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.repo.setSaveErr(errDiskFull)

	m := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("sample-a"))
	assert.True(t, m.IsUnknown())
	assert.Equal(t, 0, f.store.Len(ctx))

	sess, _ := f.svc.Session("s1")
	assert.Empty(t, sess.Labels())
}

func TestResolveSameLabelConcurrently(t *testing.T) {
	f := newFixture()
	f.extractor.delay = 20 * time.Millisecond
	ctx := context.Background()
	sess := f.svc.OpenSession("s1")

	const callers = 16
	results := make([]entities.SpeakerMatch, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.ResolveSpeaker(ctx, sess, "spk_0", []byte("sample-a"))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.Len(ctx), "one label resolves to at most one new profile")
	for _, m := range results {
		assert.Equal(t, results[0].SpeakerID, m.SpeakerID)
	}
}

func TestResolveSharedFlightOutlivesCancelledCaller(t *testing.T) {
	f := newFixture()
	f.extractor.delay = 50 * time.Millisecond
	ctx := context.Background()
	sess := f.svc.OpenSession("s1")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	const waiters = 8
	results := make([]entities.SpeakerMatch, waiters+1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = f.svc.ResolveSpeaker(cancelled, sess, "spk_0", []byte("sample-a"))
	}()
	require.Eventually(t, func() bool { return f.extractor.calls.Load() == 1 },
		time.Second, time.Millisecond)

	for i := 1; i <= waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.ResolveSpeaker(ctx, sess, "spk_0", []byte("sample-a"))
		}(i)
	}
	wg.Wait()

	for _, m := range results {
		assert.False(t, m.IsUnknown())
		assert.Equal(t, results[0].SpeakerID, m.SpeakerID)
	}
	assert.Equal(t, 1, f.store.Len(ctx))
	_, cached := sess.Lookup("spk_0")
	assert.True(t, cached)
}

func TestResolveSameLabelConcurrentFailure(t *testing.T) {
	f := newFixture()
	f.extractor.delay = 20 * time.Millisecond
	ctx := context.Background()
	sess := f.svc.OpenSession("s1")

	const callers = 16
	results := make([]entities.SpeakerMatch, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.svc.ResolveSpeaker(ctx, sess, "spk_0", []byte("silence"))
		}(i)
	}
	wg.Wait()

	for _, m := range results {
		assert.True(t, m.IsUnknown())
	}
	assert.Equal(t, 0, f.store.Len(ctx))
	assert.Empty(t, sess.Labels())

	calls := f.extractor.calls.Load()
	m := f.svc.ResolveSpeaker(ctx, sess, "spk_0", []byte("sample-a"))
	assert.True(t, m.IsNewSpeaker)
	assert.Equal(t, calls+1, f.extractor.calls.Load(), "the failed label is scored again")
}

func TestResolveUnvoicedAudioFallsBackToUnknown(t *testing.T) {
	f := newFixture()
	f.extractor.with("unvoiced", entities.FeatureVector{Pitch: 0, Tone: 0.3, Pace: 1.0})
	ctx := context.Background()

	m := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("unvoiced"))

	assert.True(t, m.IsUnknown())
	assert.Equal(t, 0, f.store.Len(ctx))
	sess, _ := f.svc.Session("s1")
	assert.Empty(t, sess.Labels())
}

func TestResolveAcrossSessionsMatchesExistingProfile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("sample-a"))
	b := f.svc.ResolveForSession(ctx, "s2", "spk_7", []byte("sample-a-ish"))

	assert.Equal(t, a.SpeakerID, b.SpeakerID)
	assert.False(t, b.IsNewSpeaker)
	p, _ := f.svc.GetProfile(ctx, a.SpeakerID)
	assert.ElementsMatch(t, []string{"s1", "s2"}, p.MeetingIDs)
}

func TestResolveWithoutLabelIsNotCached(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sess := f.svc.OpenSession("s1")

	f.svc.ResolveSpeaker(ctx, sess, "", []byte("sample-a"))
	f.svc.ResolveSpeaker(ctx, sess, "", []byte("sample-a"))

	assert.Empty(t, sess.Labels())
	assert.Equal(t, int32(2), f.extractor.calls.Load())
	assert.Equal(t, 1, f.store.Len(ctx))
}

func TestDeleteInvalidatesCachedLabels(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	deleted := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("sample-a"))

	ok, err := f.svc.Delete(ctx, deleted.SpeakerID)
	require.NoError(t, err)
	require.True(t, ok)

	sess, _ := f.svc.Session("s1")
	_, cached := sess.Lookup("spk_0")
	assert.False(t, cached)

	next := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("sample-a"))
	assert.NotEqual(t, deleted.SpeakerID, next.SpeakerID)
	assert.True(t, next.IsNewSpeaker)

	ok, err = f.svc.Delete(ctx, deleted.SpeakerID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMergeRemapsCachedLabels(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	primary := f.svc.ResolveForSession(ctx, "s1", "spk_0", []byte("sample-a"))
	secondary := f.svc.ResolveForSession(ctx, "s1", "spk_1", []byte("sample-b"))
	otherSession := f.svc.ResolveForSession(ctx, "s2", "spk_4", []byte("sample-b"))
	require.Equal(t, secondary.SpeakerID, otherSession.SpeakerID)

	before, _ := f.svc.GetProfile(ctx, secondary.SpeakerID)

	ok, err := f.svc.Merge(ctx, primary.SpeakerID, secondary.SpeakerID)
	require.NoError(t, err)
	require.True(t, ok)

	calls := f.extractor.calls.Load()
	m := f.svc.ResolveForSession(ctx, "s1", "spk_1", []byte("sample-b"))
	assert.Equal(t, primary.SpeakerID, m.SpeakerID)
	m = f.svc.ResolveForSession(ctx, "s2", "spk_4", []byte("sample-b"))
	assert.Equal(t, primary.SpeakerID, m.SpeakerID)
	assert.Equal(t, calls, f.extractor.calls.Load())

	merged, _ := f.svc.GetProfile(ctx, primary.SpeakerID)
	assert.Equal(t, 1+before.SampleCount, merged.SampleCount)
	assert.ElementsMatch(t, []string{"s1", "s2"}, merged.MeetingIDs)
}

func TestMergeRejections(t *testing.T) {
	f := newFixture(profile("a", "Speaker 1", voiceA), profile("b", "Speaker 2", voiceB))
	ctx := context.Background()

	_, err := f.svc.Merge(ctx, "a", "a")
	assert.ErrorIs(t, err, ErrSelfMerge)

	ok, err := f.svc.Merge(ctx, "a", "missing")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.Merge(ctx, "missing", "b")
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 2, f.store.Len(ctx))
	assert.Empty(t, f.publisher.types())
}

func TestRename(t *testing.T) {
	f := newFixture(profile("a", "Speaker 1", voiceA))
	ctx := context.Background()

	ok, err := f.svc.Rename(ctx, "missing", "Bob")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.Rename(ctx, "a", "   ")
	assert.ErrorIs(t, err, ErrEmptyName)

	f.repo.setSaveErr(errDiskFull)
	_, err = f.svc.Rename(ctx, "a", "Bob")
	assert.ErrorIs(t, err, errDiskFull)
	p, _ := f.svc.GetProfile(ctx, "a")
	assert.Equal(t, "Speaker 1", p.DisplayName)
	assert.False(t, p.Verified)

	f.repo.setSaveErr(nil)
	ok, err = f.svc.Rename(ctx, "a", " Bob ")
	require.NoError(t, err)
	assert.True(t, ok)
	p, _ = f.svc.GetProfile(ctx, "a")
	assert.Equal(t, "Bob", p.DisplayName)
	assert.True(t, p.Verified)
}

func TestStats(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	empty := f.svc.Stats(ctx)
	assert.Equal(t, entities.SpeakerStats{}, empty)

	f.svc.Observe(ctx, voiceA, "m1")
	f.svc.Observe(ctx, voiceANear, "m1")
	created, err := f.svc.Observe(ctx, voiceB, "m1")
	require.NoError(t, err)
	f.svc.Rename(ctx, created.SpeakerID, "Bob")

	stats := f.svc.Stats(ctx)
	assert.Equal(t, 2, stats.TotalSpeakers)
	assert.Equal(t, 1, stats.VerifiedSpeakers)
	assert.Equal(t, 1.5, stats.AverageSampleCount)
	assert.Equal(t, 2, stats.RecentSpeakers)

	f.clock.Advance(8 * 24 * time.Hour)
	assert.Equal(t, 0, f.svc.Stats(ctx).RecentSpeakers)
}

func TestCreateProfileAndTrain(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.CreateProfile(ctx, "", []byte("sample-a"), "")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = f.svc.CreateProfile(ctx, "Alice", []byte("silence"), "")
	assert.ErrorIs(t, err, ErrNoUsableSample)

	alice, err := f.svc.CreateProfile(ctx, "Alice", []byte("sample-a"), "")
	require.NoError(t, err)
	assert.True(t, alice.Verified)
	assert.Equal(t, []string{"manual"}, alice.MeetingIDs)

	ok, err := f.svc.Train(ctx, alice.ID, []byte("sample-c"), "m9")
	require.NoError(t, err)
	assert.True(t, ok)

	trained, _ := f.svc.GetProfile(ctx, alice.ID)
	assert.Equal(t, 2, trained.SampleCount)
	assert.Equal(t, (voiceA.Pitch+voiceC.Pitch)/2, trained.Features.Pitch)

	ok, err = f.svc.Train(ctx, "missing", []byte("sample-c"), "m9")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t,
		[]entities.ProfileEventType{entities.ProfileEventCreated, entities.ProfileEventTrained},
		f.publisher.types())
}

func TestIdentify(t *testing.T) {
	f := newFixture(profile("a", "Alice", voiceA))
	ctx := context.Background()

	known := f.svc.Identify(ctx, []byte("sample-b"), "", "a")
	assert.Equal(t, "a", known.SpeakerID)
	assert.Equal(t, 1.0, known.Confidence)
	assert.Equal(t, int32(0), f.extractor.calls.Load())

	matched := f.svc.Identify(ctx, []byte("sample-a-ish"), "m2", "")
	assert.Equal(t, "a", matched.SpeakerID)
	assert.False(t, matched.IsNewSpeaker)

	unknown := f.svc.Identify(ctx, []byte("noise"), "", "")
	assert.True(t, unknown.IsUnknown())
}

func TestPublishHappensOutsideStoreLock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Reading the store from the publisher would deadlock if the lock were held.
	seen := 0
	f.publisher.onEvent = func() { seen = f.svc.store.Len(ctx) }

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.svc.Observe(ctx, voiceA, "m1")
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher was called while the store lock was held")
	}
	assert.Equal(t, 1, seen)
}

func TestExpireIdleSessions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.svc.ResolveForSession(ctx, "rest", "spk_0", []byte("sample-a"))
	ws := f.svc.AttachSession("ws")
	f.svc.ResolveSpeaker(ctx, ws, "spk_0", []byte("sample-a"))

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, f.svc.ExpireIdleSessions(30*time.Minute))

	f.clock.Advance(25 * time.Minute)
	assert.Equal(t, 1, f.svc.ExpireIdleSessions(30*time.Minute))

	_, ok := f.svc.Session("rest")
	assert.False(t, ok)
	_, ok = f.svc.Session("ws")
	assert.True(t, ok)

	assert.True(t, f.svc.CloseSession("ws"))
	assert.Equal(t, 0, f.svc.OpenSessions())
}

func TestSessionCleanupServiceRunCleanup(t *testing.T) {
	f := newFixture()
	cleanup := NewSessionCleanupService(f.svc, time.Minute, zap.NewNop())

	f.svc.OpenSession("s1")
	assert.Equal(t, 0, cleanup.runCleanup())

	f.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, cleanup.runCleanup())
	assert.Equal(t, 0, f.svc.OpenSessions())
}

func TestOpenSessionGeneratesID(t *testing.T) {
	f := newFixture()
	sess := f.svc.OpenSession("")
	assert.NotEmpty(t, sess.ID())

	same := f.svc.OpenSession(sess.ID())
	assert.Same(t, sess, same)
}
