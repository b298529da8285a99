package api

import "github.com/mjones3/architect-transcript-insights/domain/entities"

// RenameRequest represents the request payload for renaming a speaker
type RenameRequest struct {
	Name string `json:"name"`
}

// MergeRequest represents the request payload for merging two speakers
type MergeRequest struct {
	PrimarySpeakerID   string `json:"primary_speaker_id"`
	SecondarySpeakerID string `json:"secondary_speaker_id"`
}

// CreateSpeakerRequest enrolls a named speaker from a sample. AudioData is
// base64 in JSON.
type CreateSpeakerRequest struct {
	DisplayName string `json:"display_name"`
	AudioData   []byte `json:"audio_data"`
	SessionID   string `json:"session_id,omitempty"`
}

// TrainRequest folds a sample into an existing speaker.
type TrainRequest struct {
	AudioData []byte `json:"audio_data"`
	SessionID string `json:"session_id,omitempty"`
}

// IdentifyRequest identifies the speaker of a single sample.
type IdentifyRequest struct {
	AudioData      []byte `json:"audio_data"`
	SessionID      string `json:"session_id,omitempty"`
	KnownSpeakerID string `json:"known_speaker_id,omitempty"`
}

// UtteranceRequest is one diarized utterance of a session.
type UtteranceRequest struct {
	Label     string `json:"label"`
	AudioData []byte `json:"audio_data"`
}

// SpeakersResponse lists every stored profile
type SpeakersResponse struct {
	Speakers []*entities.SpeakerProfile `json:"speakers"`
	Count    int                        `json:"count"`
}

// SuccessResponse acknowledges a mutation.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
