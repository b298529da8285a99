// Command speakerid runs the speaker identification server and its
// offline tooling.
//
// Usage:
//
//	speakerid serve                      - HTTP + WebSocket server
//	speakerid profiles list|stats|...    - manage stored profiles
//	speakerid simulate                   - stream utterances to a server
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/adapters/badger"
	"github.com/mjones3/architect-transcript-insights/adapters/mongo"
	"github.com/mjones3/architect-transcript-insights/adapters/profiles"
	"github.com/mjones3/architect-transcript-insights/adapters/voice"
	"github.com/mjones3/architect-transcript-insights/domain/repositories"
	"github.com/mjones3/architect-transcript-insights/internal/config"
	"github.com/mjones3/architect-transcript-insights/usecase"
)

var rootCmd = &cobra.Command{
	Use:           "speakerid",
	Short:         "Speaker identification and profile management",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// environment is the configuration and logger shared by every command.
type environment struct {
	cfg    config.Config
	logger *zap.Logger
}

func loadEnvironment() (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return &environment{cfg: cfg, logger: logger}, nil
}

// openRepository opens the configured profile backend. The returned close
// function releases it.
func (env *environment) openRepository(ctx context.Context) (repositories.ProfileRepository, func(), error) {
	cfg, logger := env.cfg, env.logger

	switch cfg.ProfileStore {
	case config.StoreMongo:
		client, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = client.Close(ctx)
		}
		return mongo.NewProfileRepository(client.Database, logger), closeFn, nil

	case config.StoreBadger:
		repo, err := badger.Open(badger.Options{Dir: cfg.BadgerDir}, logger)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := repo.Close(); err != nil {
				logger.Error("Failed to close badger", zap.Error(err))
			}
		}
		return repo, closeFn, nil

	default:
		return profiles.NewFileRepository(cfg.ProfileFile, logger), func() {}, nil
	}
}

// newSpeakerService wires the engine over repo with the hash extractor.
func (env *environment) newSpeakerService(repo repositories.ProfileRepository) *usecase.SpeakerService {
	store := usecase.NewProfileStore(repo, env.logger)
	return usecase.NewSpeakerService(store, voice.NewHashExtractor(), env.cfg.Speaker(), env.logger)
}
