package stt

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/repositories"
)

// MockDiarizer treats every streamed chunk as one utterance. Chunks with
// identical bytes get the same label, so a replayed voice sample behaves like
// a returning speaker.
type MockDiarizer struct {
	logger *zap.Logger
}

// NewMockDiarizer creates a new mock diarizer
func NewMockDiarizer(logger *zap.Logger) *MockDiarizer {
	return &MockDiarizer{logger: logger}
}

// InitDiarizedStreaming implements repositories.Diarizer
func (d *MockDiarizer) InitDiarizedStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.DiarizationStream, error) {
	d.logger.Info("Initializing mock diarization",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockDiarizationStream{
		logger: d.logger,
		config: config,
	}, nil
}

// MockDiarizationStream is the stream returned by MockDiarizer.
type MockDiarizationStream struct {
	logger *zap.Logger
	config repositories.AudioConfig

	chunks [][]byte
}

// Stream implements repositories.DiarizationStream
func (m *MockDiarizationStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	m.logger.Debug("Processing mock audio chunk", zap.Int("size", len(data)))
	m.chunks = append(m.chunks, bytes.Clone(data))
	return nil
}

// End implements repositories.DiarizationStream
func (m *MockDiarizationStream) End() ([]repositories.DiarizedUtterance, error) {
	if len(m.chunks) == 0 {
		return nil, ErrNoAudio
	}

	bytesPerMs := int64(1)
	if isLinear16(m.config.Encoding) && m.config.SampleRate >= 1000 {
		bytesPerMs = int64(m.config.SampleRate) * 2 / 1000
	}

	var (
		seen   [][]byte
		out    = make([]repositories.DiarizedUtterance, 0, len(m.chunks))
		offset int64
	)
	for i, chunk := range m.chunks {
		tag := -1
		for j, s := range seen {
			if bytes.Equal(s, chunk) {
				tag = j
				break
			}
		}
		if tag < 0 {
			tag = len(seen)
			seen = append(seen, chunk)
		}

		duration := int64(len(chunk)) / bytesPerMs
		out = append(out, repositories.DiarizedUtterance{
			Label:   fmt.Sprintf("spk_%d", tag),
			Text:    fmt.Sprintf("Mock utterance %d", i+1),
			StartMs: offset,
			EndMs:   offset + duration,
			Audio:   chunk,
		})
		offset += duration
	}

	m.logger.Info("Ending mock diarization stream",
		zap.Int("utterances", len(out)),
		zap.Int("speakers", len(seen)))
	return out, nil
}
