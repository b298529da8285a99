package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
	"github.com/mjones3/architect-transcript-insights/domain/repositories"
)

// ProfileStore owns every SpeakerProfile. It loads lazily from the repository
// on first use and persists the full set before any mutation becomes visible.
//
// All access goes through one mutex: profile sets are small and each
// operation is a short read-decide-write sequence.
type ProfileStore struct {
	repo   repositories.ProfileRepository
	logger *zap.Logger

	mu       sync.Mutex
	loaded   bool
	profiles []*entities.SpeakerProfile
}

// NewProfileStore creates a store backed by repo.
func NewProfileStore(repo repositories.ProfileRepository, logger *zap.Logger) *ProfileStore {
	return &ProfileStore{
		repo:   repo,
		logger: logger,
	}
}

// ensureLoaded must be called with mu held. An unreadable repository leaves
// the store empty rather than failing. A load that timed out or was cancelled
// is not cached: the store stays unloaded and the error is returned, so no
// mutation can persist a set missing the stored profiles.
func (s *ProfileStore) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	// The first load fills the store for every caller, not just this one.
	profiles, err := s.repo.LoadAll(context.WithoutCancel(ctx))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("Loading speaker profiles interrupted, will retry", zap.Error(err))
		return fmt.Errorf("load speaker profiles: %w", err)
	}
	s.loaded = true
	if err != nil {
		s.logger.Warn("Speaker profiles unavailable, starting with an empty store", zap.Error(err))
		s.profiles = nil
		return nil
	}

	seen := make(map[string]bool, len(profiles))
	valid := make([]*entities.SpeakerProfile, 0, len(profiles))
	for _, p := range profiles {
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			s.logger.Warn("Skipping invalid stored speaker profile", zap.Error(err))
			continue
		}
		if seen[p.ID] {
			s.logger.Warn("Skipping duplicate stored speaker profile", zap.String("speakerID", p.ID))
			continue
		}
		seen[p.ID] = true
		valid = append(valid, p)
	}
	s.profiles = valid

	s.logger.Info("Loaded speaker profiles", zap.Int("count", len(valid)))
	return nil
}

// View runs fn with the current profiles in store order. The slice and the
// profiles it points to must not be modified or retained. If the store could
// not be loaded yet, fn sees no profiles.
func (s *ProfileStore) View(ctx context.Context, fn func(profiles []*entities.SpeakerProfile)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		fn(nil)
		return
	}
	fn(s.profiles)
}

// Update runs fn inside the store's critical section. Changes staged on the
// transaction are persisted with a single SaveAll; if fn fails or persisting
// fails, nothing changes. Hooks registered with OnCommit run after a
// successful commit while the lock is still held. Update fails without
// calling fn when the store could not be loaded.
func (s *ProfileStore) Update(ctx context.Context, fn func(tx *ProfileTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	tx := newProfileTx(s.profiles)
	if err := fn(tx); err != nil {
		return err
	}

	if tx.changed() {
		next, err := tx.apply()
		if err != nil {
			return err
		}
		if err := s.repo.SaveAll(ctx, next); err != nil {
			s.logger.Error("Failed to persist speaker profiles", zap.Error(err))
			return fmt.Errorf("persist speaker profiles: %w", err)
		}
		s.profiles = next
	}

	for _, hook := range tx.hooks {
		hook()
	}
	return nil
}

// LoadAll returns copies of all profiles in store order.
func (s *ProfileStore) LoadAll(ctx context.Context) []*entities.SpeakerProfile {
	var out []*entities.SpeakerProfile
	s.View(ctx, func(profiles []*entities.SpeakerProfile) {
		out = make([]*entities.SpeakerProfile, len(profiles))
		for i, p := range profiles {
			out[i] = p.Clone()
		}
	})
	return out
}

// SaveAll replaces the whole profile set, in the given order.
func (s *ProfileStore) SaveAll(ctx context.Context, profiles []*entities.SpeakerProfile) error {
	next := make([]*entities.SpeakerProfile, 0, len(profiles))
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate id %s", entities.ErrInvalidProfile, p.ID)
		}
		seen[p.ID] = true
		next = append(next, p.Clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = true

	if err := s.repo.SaveAll(ctx, next); err != nil {
		return fmt.Errorf("persist speaker profiles: %w", err)
	}
	s.profiles = next
	return nil
}

// Upsert inserts p or replaces the profile with the same ID.
func (s *ProfileStore) Upsert(ctx context.Context, p *entities.SpeakerProfile) error {
	return s.Update(ctx, func(tx *ProfileTx) error {
		tx.Put(p.Clone())
		return nil
	})
}

// Remove deletes the profile with the given ID. It reports false when no
// such profile exists.
func (s *ProfileStore) Remove(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := s.Update(ctx, func(tx *ProfileTx) error {
		removed = tx.Remove(id)
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Get returns a copy of the profile with the given ID.
func (s *ProfileStore) Get(ctx context.Context, id string) (*entities.SpeakerProfile, bool) {
	var out *entities.SpeakerProfile
	s.View(ctx, func(profiles []*entities.SpeakerProfile) {
		for _, p := range profiles {
			if p.ID == id {
				out = p.Clone()
				return
			}
		}
	})
	return out, out != nil
}

// Len returns the number of stored profiles.
func (s *ProfileStore) Len(ctx context.Context) int {
	var n int
	s.View(ctx, func(profiles []*entities.SpeakerProfile) {
		n = len(profiles)
	})
	return n
}

// ProfileTx stages changes against a snapshot of the store. Profiles returned
// by Get are private copies that may be modified freely; profiles returned by
// Profiles and Peek are shared and read-only.
type ProfileTx struct {
	base    []*entities.SpeakerProfile
	index   map[string]int
	working map[string]*entities.SpeakerProfile
	added   []string
	removed map[string]bool
	hooks   []func()
}

func newProfileTx(base []*entities.SpeakerProfile) *ProfileTx {
	index := make(map[string]int, len(base))
	for i, p := range base {
		index[p.ID] = i
	}
	return &ProfileTx{
		base:    base,
		index:   index,
		working: make(map[string]*entities.SpeakerProfile),
		removed: make(map[string]bool),
	}
}

// Profiles returns the transaction's current view in store order: existing
// profiles first, then profiles added in this transaction.
func (tx *ProfileTx) Profiles() []*entities.SpeakerProfile {
	out := make([]*entities.SpeakerProfile, 0, len(tx.base)+len(tx.added))
	for _, p := range tx.base {
		if tx.removed[p.ID] {
			continue
		}
		if w, ok := tx.working[p.ID]; ok {
			out = append(out, w)
			continue
		}
		out = append(out, p)
	}
	for _, id := range tx.added {
		if !tx.removed[id] {
			out = append(out, tx.working[id])
		}
	}
	return out
}

// Len returns the number of profiles in the transaction's view.
func (tx *ProfileTx) Len() int {
	n := len(tx.base) + len(tx.added)
	for id := range tx.removed {
		if tx.exists(id) {
			n--
		}
	}
	return n
}

func (tx *ProfileTx) exists(id string) bool {
	if _, ok := tx.index[id]; ok {
		return true
	}
	_, ok := tx.working[id]
	return ok
}

// Peek returns the profile without staging a change.
func (tx *ProfileTx) Peek(id string) (*entities.SpeakerProfile, bool) {
	if tx.removed[id] {
		return nil, false
	}
	if w, ok := tx.working[id]; ok {
		return w, true
	}
	if i, ok := tx.index[id]; ok {
		return tx.base[i], true
	}
	return nil, false
}

// Get returns a modifiable copy of the profile. Modifications are committed
// with the transaction.
func (tx *ProfileTx) Get(id string) (*entities.SpeakerProfile, bool) {
	if tx.removed[id] {
		return nil, false
	}
	if w, ok := tx.working[id]; ok {
		return w, true
	}
	i, ok := tx.index[id]
	if !ok {
		return nil, false
	}
	c := tx.base[i].Clone()
	tx.working[id] = c
	return c, true
}

// Put stages p as the new state of its ID, adding it if it does not exist.
func (tx *ProfileTx) Put(p *entities.SpeakerProfile) {
	delete(tx.removed, p.ID)
	if _, inBase := tx.index[p.ID]; !inBase {
		if _, staged := tx.working[p.ID]; !staged {
			tx.added = append(tx.added, p.ID)
		}
	}
	tx.working[p.ID] = p
}

// Remove stages the removal of id. It reports false if id does not exist.
func (tx *ProfileTx) Remove(id string) bool {
	if tx.removed[id] || !tx.exists(id) {
		return false
	}
	tx.removed[id] = true
	return true
}

// OnCommit registers fn to run once the transaction has been persisted.
func (tx *ProfileTx) OnCommit(fn func()) {
	tx.hooks = append(tx.hooks, fn)
}

func (tx *ProfileTx) changed() bool {
	return len(tx.working) > 0 || len(tx.removed) > 0
}

func (tx *ProfileTx) apply() ([]*entities.SpeakerProfile, error) {
	next := tx.Profiles()
	for _, p := range next {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return next, nil
}
