package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
	"github.com/mjones3/architect-transcript-insights/domain/repositories"
)

// profilePrefix namespaces profile keys. Keys carry the profile's position so
// that prefix iteration returns the saved order.
var profilePrefix = []byte("speaker:profile:")

// Options configures the BadgerDB profile store.
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool
}

// ProfileRepository implements repositories.ProfileRepository on BadgerDB.
// Each profile is one JSON value; SaveAll rewrites the whole prefix inside a
// single transaction.
type ProfileRepository struct {
	db     *badger.DB
	logger *zap.Logger
}

var _ repositories.ProfileRepository = (*ProfileRepository)(nil)

// Open opens a BadgerDB-backed profile repository.
func Open(opts Options, logger *zap.Logger) (*ProfileRepository, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(zapLogger{logger.Sugar()})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &ProfileRepository{db: db, logger: logger}, nil
}

// LoadAll implements repositories.ProfileRepository
func (r *ProfileRepository) LoadAll(_ context.Context) ([]*entities.SpeakerProfile, error) {
	profiles := []*entities.SpeakerProfile{}
	err := r.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = profilePrefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(profilePrefix); it.ValidForPrefix(profilePrefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var p entities.SpeakerProfile
			if err := json.Unmarshal(val, &p); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			profiles = append(profiles, &p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load speaker profiles: %w", err)
	}
	return profiles, nil
}

// SaveAll implements repositories.ProfileRepository
func (r *ProfileRepository) SaveAll(_ context.Context, profiles []*entities.SpeakerProfile) error {
	values := make([][]byte, len(profiles))
	for i, p := range profiles {
		val, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode speaker profile %s: %w", p.ID, err)
		}
		values[i] = val
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		stale, err := existingKeys(txn)
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for i, val := range values {
			if err := txn.Set(profileKey(i), val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save speaker profiles: %w", err)
	}

	r.logger.Debug("Saved speaker profiles to badger", zap.Int("count", len(profiles)))
	return nil
}

// Close closes the underlying database.
func (r *ProfileRepository) Close() error {
	return r.db.Close()
}

func existingKeys(txn *badger.Txn) ([][]byte, error) {
	iterOpts := badger.DefaultIteratorOptions
	iterOpts.Prefix = profilePrefix
	iterOpts.PrefetchValues = false
	it := txn.NewIterator(iterOpts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(profilePrefix); it.ValidForPrefix(profilePrefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys, nil
}

func profileKey(i int) []byte {
	return fmt.Appendf(append([]byte(nil), profilePrefix...), "%08d", i)
}

// zapLogger routes badger's logs through zap, dropping debug and info noise.
type zapLogger struct {
	*zap.SugaredLogger
}

func (l zapLogger) Errorf(f string, v ...interface{})   { l.SugaredLogger.Errorf("badger: "+f, v...) }
func (l zapLogger) Warningf(f string, v ...interface{}) { l.SugaredLogger.Warnf("badger: "+f, v...) }
func (l zapLogger) Infof(string, ...interface{})        {}
func (l zapLogger) Debugf(string, ...interface{})       {}
