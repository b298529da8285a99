package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
)

var errDiskFull = errors.New("disk full")

// memoryRepo is an in-memory ProfileRepository with failure injection.
type memoryRepo struct {
	mu       sync.Mutex
	profiles []*entities.SpeakerProfile
	loadErr  error
	saveErr  error
	loads    int
	saves    int
}

func (r *memoryRepo) LoadAll(ctx context.Context) ([]*entities.SpeakerProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return cloneAll(r.profiles), nil
}

func (r *memoryRepo) SaveAll(ctx context.Context, profiles []*entities.SpeakerProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.profiles = cloneAll(profiles)
	return nil
}

// contextRepo is a memoryRepo whose reads honour cancellation.
type contextRepo struct {
	*memoryRepo
}

func (r contextRepo) LoadAll(ctx context.Context) ([]*entities.SpeakerProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memoryRepo.LoadAll(ctx)
}

func (r *memoryRepo) setLoadErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErr = err
}

func (r *memoryRepo) setSaveErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErr = err
}

func (r *memoryRepo) stored() []*entities.SpeakerProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.profiles)
}

func cloneAll(in []*entities.SpeakerProfile) []*entities.SpeakerProfile {
	out := make([]*entities.SpeakerProfile, len(in))
	for i, p := range in {
		out[i] = p.Clone()
	}
	return out
}

// stubExtractor maps audio payloads to fixed vectors. Unknown payloads fail.
type stubExtractor struct {
	vectors map[string]entities.FeatureVector
	calls   atomic.Int32
	delay   time.Duration
}

func newStubExtractor() *stubExtractor {
	return &stubExtractor{vectors: make(map[string]entities.FeatureVector)}
}

func (e *stubExtractor) with(audio string, v entities.FeatureVector) *stubExtractor {
	e.vectors[audio] = v
	return e
}

func (e *stubExtractor) Extract(ctx context.Context, audio []byte) (*entities.FeatureVector, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := e.vectors[string(audio)]
	if !ok {
		return nil, errors.New("no voice activity")
	}
	return &v, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	events  []entities.ProfileEvent
	onEvent func()
}

func (p *recordingPublisher) PublishProfileEvent(event entities.ProfileEvent) {
	if p.onEvent != nil {
		p.onEvent()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []entities.ProfileEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]entities.ProfileEventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	voiceA = entities.FeatureVector{
		Pitch: 120, Tone: 0.3, Pace: 1.0,
		MFCC:     []float64{0.1, 0.2, 0.3, 0.4},
		Formants: []float64{700, 1200, 2600},
	}
	// voiceANear is voiceA with small drift.
	voiceANear = entities.FeatureVector{
		Pitch: 124, Tone: 0.32, Pace: 1.02,
		MFCC:     []float64{0.12, 0.2, 0.31, 0.4},
		Formants: []float64{710, 1190, 2620},
	}
	voiceB = entities.FeatureVector{
		Pitch: 250, Tone: 0.9, Pace: 1.6,
		MFCC:     []float64{0.9, 0.8, 0.1, 0.0},
		Formants: []float64{300, 2300, 3000},
	}
	voiceC = entities.FeatureVector{
		Pitch: 180, Tone: 0.6, Pace: 0.6,
		MFCC:     []float64{0.5, 0.5, 0.9, 0.9},
		Formants: []float64{500, 800, 1900},
	}
)

type fixture struct {
	repo      *memoryRepo
	store     *ProfileStore
	extractor *stubExtractor
	publisher *recordingPublisher
	clock     *fakeClock
	svc       *SpeakerService
}

func newFixture(seed ...*entities.SpeakerProfile) *fixture {
	repo := &memoryRepo{profiles: cloneAll(seed)}
	store := NewProfileStore(repo, zap.NewNop())
	extractor := newStubExtractor().
		with("sample-a", voiceA).
		with("sample-a-ish", voiceANear).
		with("sample-b", voiceB).
		with("sample-c", voiceC)
	publisher := &recordingPublisher{}
	clock := newFakeClock()

	svc := NewSpeakerService(store, extractor, DefaultSpeakerConfig(), zap.NewNop())
	svc.SetPublisher(publisher)
	svc.now = clock.Now

	return &fixture{
		repo:      repo,
		store:     store,
		extractor: extractor,
		publisher: publisher,
		clock:     clock,
		svc:       svc,
	}
}
