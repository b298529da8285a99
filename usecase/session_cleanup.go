package usecase

import (
	"time"

	"go.uber.org/zap"
)

// SessionCleanupService closes speaker sessions that have gone idle.
type SessionCleanupService struct {
	speakers *SpeakerService
	idleTTL  time.Duration
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewSessionCleanupService creates a cleanup service that closes sessions idle
// for longer than idleTTL, checking every idleTTL/2.
func NewSessionCleanupService(speakers *SpeakerService, idleTTL time.Duration, logger *zap.Logger) *SessionCleanupService {
	interval := idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	return &SessionCleanupService{
		speakers: speakers,
		idleTTL:  idleTTL,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started", zap.Duration("idleTTL", s.idleTTL))
}

// Stop gracefully stops the cleanup service
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// runCleanup closes every unpinned session idle past the TTL.
func (s *SessionCleanupService) runCleanup() int {
	closed := s.speakers.ExpireIdleSessions(s.idleTTL)
	if closed > 0 {
		s.logger.Info("Expired idle speaker sessions",
			zap.Int("closed", closed),
			zap.Int("open", s.speakers.OpenSessions()))
	}
	return closed
}
