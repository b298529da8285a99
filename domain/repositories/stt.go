package repositories

import "context"

// Diarizer abstracts streaming transcription services that label who spoke.
type Diarizer interface {
	// InitDiarizedStreaming initializes a streaming diarization session
	InitDiarizedStreaming(ctx context.Context, config AudioConfig) (DiarizationStream, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate  int    `json:"sample_rate"`
	Encoding    string `json:"encoding"`
	Language    string `json:"language"`
	MinSpeakers int    `json:"min_speakers,omitempty"`
	MaxSpeakers int    `json:"max_speakers,omitempty"`
}

// DiarizationStream receives raw audio and yields labelled utterances once the
// stream ends.
type DiarizationStream interface {
	Stream(data []byte) error
	End() ([]DiarizedUtterance, error)
}

// DiarizedUtterance is one contiguous run of speech attributed to a single
// session-scoped diarization label.
type DiarizedUtterance struct {
	Label   string `json:"label"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	// Audio is the utterance's slice of the streamed audio. It may be the
	// whole stream when the encoding cannot be cut by time.
	Audio []byte `json:"-"`
}
