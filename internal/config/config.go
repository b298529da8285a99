package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mjones3/architect-transcript-insights/usecase"
)

// Profile store backends.
const (
	StoreFile   = "file"
	StoreMongo  = "mongo"
	StoreBadger = "badger"
)

// Diarizer backends.
const (
	DiarizerMock   = "mock"
	DiarizerGoogle = "google"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port string

	ProfileStore   string
	ProfileFile    string
	BadgerDir      string
	MongoURI       string
	MongoDatabase  string
	MatchThreshold float64
	FoldWeightCap  int
	CachedConf     float64
	RecentWindow   time.Duration
	SessionIdleTTL time.Duration
	Diarizer       string
	SpeechLanguage string
	LogLevel       string
	LogFormat      string
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Config{
		Port:           getEnv("PORT", "8080"),
		ProfileStore:   strings.ToLower(getEnv("PROFILE_STORE", StoreFile)),
		ProfileFile:    getEnv("PROFILE_FILE", "data/speaker-profiles.json"),
		BadgerDir:      getEnv("BADGER_DIR", "data/badger"),
		MongoURI:       getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:  getEnv("MONGODB_DATABASE", "transcript_insights"),
		Diarizer:       strings.ToLower(getEnv("DIARIZER", DiarizerMock)),
		SpeechLanguage: getEnv("SPEECH_LANGUAGE", "en-US"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
	}

	var errs []error
	cfg.MatchThreshold = parseFloat("MATCH_THRESHOLD", usecase.DefaultMatchThreshold, &errs)
	cfg.FoldWeightCap = parseInt("FOLD_WEIGHT_CAP", usecase.DefaultFoldWeightCap, &errs)
	cfg.CachedConf = parseFloat("CACHED_CONFIDENCE", usecase.DefaultCachedConfidence, &errs)
	cfg.RecentWindow = parseDuration("RECENT_WINDOW", usecase.DefaultRecentWindow, &errs)
	cfg.SessionIdleTTL = parseDuration("SESSION_IDLE_TTL", 30*time.Minute, &errs)

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.ProfileStore {
	case StoreFile, StoreMongo, StoreBadger:
	default:
		errs = append(errs, fmt.Errorf("PROFILE_STORE: unknown backend %q", c.ProfileStore))
	}
	switch c.Diarizer {
	case DiarizerMock, DiarizerGoogle:
	default:
		errs = append(errs, fmt.Errorf("DIARIZER: unknown backend %q", c.Diarizer))
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD: %v is outside [0, 1]", c.MatchThreshold))
	}
	if c.CachedConf < 0 || c.CachedConf > 1 {
		errs = append(errs, fmt.Errorf("CACHED_CONFIDENCE: %v is outside [0, 1]", c.CachedConf))
	}
	if c.FoldWeightCap < 1 {
		errs = append(errs, fmt.Errorf("FOLD_WEIGHT_CAP: must be at least 1, got %d", c.FoldWeightCap))
	}
	if c.SessionIdleTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_IDLE_TTL: must be positive, got %s", c.SessionIdleTTL))
	}
	return errors.Join(errs...)
}

// Speaker returns the tuning for the speaker service.
func (c Config) Speaker() usecase.SpeakerConfig {
	return usecase.SpeakerConfig{
		MatchThreshold:   c.MatchThreshold,
		FoldWeightCap:    c.FoldWeightCap,
		CachedConfidence: c.CachedConf,
		RecentWindow:     c.RecentWindow,
	}
}

// NewLogger builds a zap logger for the configured level and format. The
// "console" format uses zap's development encoder; anything else is JSON.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	zc := zap.NewProductionConfig()
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func parseFloat(key string, fallback float64, errs *[]error) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func parseInt(key string, fallback int, errs *[]error) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func parseDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}
