package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
	"github.com/mjones3/architect-transcript-insights/internal/websocket"
	"github.com/mjones3/architect-transcript-insights/usecase"
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, speakers *usecase.SpeakerService, logger *zap.Logger) {
	h := &handler{hub: hub, speakers: speakers, logger: logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"service":  "speaker-identification",
			"sessions": speakers.OpenSessions(),
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	// Speaker profile APIs. Static paths are registered before :id.
	v1.GET("/speakers", h.listSpeakers)
	v1.GET("/speakers/stats", h.speakerStats)
	v1.POST("/speakers/merge", h.mergeSpeakers)
	v1.POST("/speakers/create", h.createSpeaker)
	v1.POST("/speakers/identify", h.identifySpeaker)
	v1.GET("/speakers/:id", h.getSpeaker)
	v1.PUT("/speakers/:id/name", h.renameSpeaker)
	v1.POST("/speakers/:id/train", h.trainSpeaker)
	v1.DELETE("/speakers/:id", h.deleteSpeaker)

	// Session APIs
	v1.POST("/sessions/:id/utterances", h.resolveUtterance)
	v1.DELETE("/sessions/:id", h.closeSession)

	// WebSocket endpoint
	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(hub, c, logger)
	})
}

type handler struct {
	hub      *websocket.Hub
	speakers *usecase.SpeakerService
	logger   *zap.Logger
}

func badRequest(c echo.Context, code, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: code, Message: message})
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "speaker_not_found",
		Message: "Speaker profile not found",
	})
}

// failure maps a service error to a response. Invalid input is a 400,
// everything else is a storage failure.
func (h *handler) failure(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, usecase.ErrEmptyName):
		return badRequest(c, "invalid_name", "Name must not be empty")
	case errors.Is(err, usecase.ErrSelfMerge):
		return badRequest(c, "invalid_merge", "Cannot merge a speaker into itself")
	case errors.Is(err, usecase.ErrNoUsableSample), errors.Is(err, entities.ErrInvalidFeatureVector):
		return badRequest(c, "unusable_sample", err.Error())
	}

	h.logger.Error("Speaker operation failed", zap.String("op", op), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "storage_failure",
		Message: "Failed to persist speaker profiles",
	})
}

func (h *handler) listSpeakers(c echo.Context) error {
	profiles := h.speakers.ListProfiles(c.Request().Context())
	return c.JSON(http.StatusOK, SpeakersResponse{Speakers: profiles, Count: len(profiles)})
}

func (h *handler) speakerStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.speakers.Stats(c.Request().Context()))
}

func (h *handler) getSpeaker(c echo.Context) error {
	p, ok := h.speakers.GetProfile(c.Request().Context(), c.Param("id"))
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *handler) renameSpeaker(c echo.Context) error {
	var req RenameRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}

	ok, err := h.speakers.Rename(c.Request().Context(), c.Param("id"), req.Name)
	if err != nil {
		return h.failure(c, "rename", err)
	}
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Speaker renamed"})
}

func (h *handler) mergeSpeakers(c echo.Context) error {
	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}
	if req.PrimarySpeakerID == "" || req.SecondarySpeakerID == "" {
		return badRequest(c, "missing_fields", "primary_speaker_id and secondary_speaker_id are required")
	}

	ok, err := h.speakers.Merge(c.Request().Context(), req.PrimarySpeakerID, req.SecondarySpeakerID)
	if err != nil {
		return h.failure(c, "merge", err)
	}
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Speakers merged"})
}

func (h *handler) deleteSpeaker(c echo.Context) error {
	ok, err := h.speakers.Delete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.failure(c, "delete", err)
	}
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Speaker deleted"})
}

func (h *handler) createSpeaker(c echo.Context) error {
	var req CreateSpeakerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}

	p, err := h.speakers.CreateProfile(c.Request().Context(), req.DisplayName, req.AudioData, req.SessionID)
	if err != nil {
		return h.failure(c, "create", err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *handler) trainSpeaker(c echo.Context) error {
	var req TrainRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}

	ok, err := h.speakers.Train(c.Request().Context(), c.Param("id"), req.AudioData, req.SessionID)
	if err != nil {
		return h.failure(c, "train", err)
	}
	if !ok {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Speaker trained"})
}

func (h *handler) identifySpeaker(c echo.Context) error {
	var req IdentifyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}
	if len(req.AudioData) == 0 && req.KnownSpeakerID == "" {
		return badRequest(c, "missing_fields", "audio_data is required")
	}

	match := h.speakers.Identify(c.Request().Context(), req.AudioData, req.SessionID, req.KnownSpeakerID)
	return c.JSON(http.StatusOK, match)
}

func (h *handler) resolveUtterance(c echo.Context) error {
	var req UtteranceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}
	if len(req.AudioData) == 0 {
		return badRequest(c, "missing_fields", "audio_data is required")
	}

	match := h.speakers.ResolveForSession(c.Request().Context(), c.Param("id"), req.Label, req.AudioData)
	return c.JSON(http.StatusOK, match)
}

func (h *handler) closeSession(c echo.Context) error {
	id := c.Param("id")
	if h.hub != nil && h.hub.HasSession(id) {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "session_connected",
			Message: "Session is owned by a live connection",
		})
	}
	if !h.speakers.CloseSession(id) {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "session_not_found",
			Message: "No open session with that ID",
		})
	}
	return c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Session closed"})
}
