package profiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
)

func sampleProfiles() []*entities.SpeakerProfile {
	centroid := 1830.5
	t0 := time.Date(2026, 3, 9, 14, 30, 15, 123456789, time.UTC)

	alice := entities.NewSpeakerProfile("a1", "Alice", entities.FeatureVector{
		Pitch: 182.4, Tone: 0.61, Pace: 1.07,
		SpectralCentroid: &centroid,
		MFCC:             []float64{0.11, 0.42, 0.73, 0.05, 0.9},
		Formants:         []float64{710.2, 1220.8, 2590.1},
	}, "meeting-1", true, t0)
	alice.SampleCount = 7
	alice.LastSeen = t0.Add(36 * time.Hour)
	alice.AddMeeting("meeting-2")

	speaker2 := entities.NewSpeakerProfile("b2", "Speaker 2", entities.FeatureVector{
		Pitch: 104, Tone: 0.2, Pace: 0.94,
		MFCC: []float64{0.3, 0.3},
	}, "meeting-2", false, t0.Add(time.Hour))

	return []*entities.SpeakerProfile{alice, speaker2}
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "speaker-profiles.json")
	repo := NewFileRepository(path, zap.NewNop())
	ctx := context.Background()

	want := sampleProfiles()
	require.NoError(t, repo.SaveAll(ctx, want))

	got, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// load -> save -> load is stable
	require.NoError(t, repo.SaveAll(ctx, got))
	again, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, again)
}

func TestFileRepositoryMissingFileIsEmpty(t *testing.T) {
	repo := NewFileRepository(filepath.Join(t.TempDir(), "absent.json"), zap.NewNop())

	got, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileRepositoryCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speaker-profiles.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileRepository(path, zap.NewNop()).LoadAll(context.Background())
	assert.Error(t, err)
}

func TestFileRepositoryWritesISODates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speaker-profiles.json")
	repo := NewFileRepository(path, zap.NewNop())
	require.NoError(t, repo.SaveAll(context.Background(), sampleProfiles()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"created_at": "2026-03-09T14:30:15.123456789Z"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestFileRepositorySaveEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speaker-profiles.json")
	repo := NewFileRepository(path, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.SaveAll(ctx, sampleProfiles()))
	require.NoError(t, repo.SaveAll(ctx, nil))

	got, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
