package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/adapters/stt"
	"github.com/mjones3/architect-transcript-insights/domain/repositories"
	"github.com/mjones3/architect-transcript-insights/internal/api"
	"github.com/mjones3/architect-transcript-insights/internal/config"
	"github.com/mjones3/architect-transcript-insights/internal/websocket"
	"github.com/mjones3/architect-transcript-insights/usecase"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		defer env.logger.Sync()
		return serve(env)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(env *environment) error {
	cfg, logger := env.cfg, env.logger

	repo, closeRepo, err := env.openRepository(context.Background())
	if err != nil {
		return err
	}
	defer closeRepo()

	speakers := env.newSpeakerService(repo)

	var diarizer repositories.Diarizer = stt.NewMockDiarizer(logger)
	if cfg.Diarizer == config.DiarizerGoogle {
		diarizer = stt.NewGoogleDiarizer(logger)
	}

	// Initialize WebSocket hub; it receives every committed profile change
	hub := websocket.NewHub(speakers, diarizer, repositories.AudioConfig{
		SampleRate: 16000,
		Encoding:   "LINEAR16",
		Language:   cfg.SpeechLanguage,
	}, logger)
	speakers.SetPublisher(hub)
	go hub.Run()

	cleanup := usecase.NewSessionCleanupService(speakers, cfg.SessionIdleTTL, logger)
	cleanup.Start()
	defer cleanup.Stop()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, hub, speakers, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("profileStore", cfg.ProfileStore),
		zap.String("diarizer", cfg.Diarizer),
		zap.Float64("matchThreshold", cfg.MatchThreshold))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server exited")
	return nil
}
