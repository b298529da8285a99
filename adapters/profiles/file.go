package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
	"github.com/mjones3/architect-transcript-insights/domain/repositories"
)

// DefaultPath is where profiles are kept when no path is configured.
const DefaultPath = "data/speaker-profiles.json"

// FileRepository stores all profiles as one JSON array. Dates are written as
// RFC 3339 strings with nanoseconds.
type FileRepository struct {
	path   string
	logger *zap.Logger
}

// NewFileRepository creates a JSON file profile repository at path.
func NewFileRepository(path string, logger *zap.Logger) repositories.ProfileRepository {
	if path == "" {
		path = DefaultPath
	}
	return &FileRepository{path: path, logger: logger}
}

// LoadAll implements repositories.ProfileRepository. A missing file is an
// empty store.
func (r *FileRepository) LoadAll(_ context.Context) ([]*entities.SpeakerProfile, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []*entities.SpeakerProfile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}

	var profiles []*entities.SpeakerProfile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.path, err)
	}
	if profiles == nil {
		profiles = []*entities.SpeakerProfile{}
	}
	return profiles, nil
}

// SaveAll implements repositories.ProfileRepository. The file is replaced by
// renaming a fully written temp file over it.
func (r *FileRepository) SaveAll(_ context.Context, profiles []*entities.SpeakerProfile) error {
	if profiles == nil {
		profiles = []*entities.SpeakerProfile{}
	}
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("encode speaker profiles: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	_ = tmp.Chmod(0o644)
	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace %s: %w", r.path, err)
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	r.logger.Debug("Saved speaker profiles", zap.String("path", r.path), zap.Int("count", len(profiles)))
	return nil
}
