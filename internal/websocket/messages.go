package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mjones3/architect-transcript-insights/domain/entities"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	// client to server
	MessageTypeUtterance      MessageType = "utterance"
	MessageTypeListeningStart MessageType = "listening_start"
	MessageTypeListeningEnd   MessageType = "listening_end"
	MessageTypePing           MessageType = "ping"

	// server to client
	MessageTypeSessionStarted    MessageType = "session_started"
	MessageTypeSpeakerResolved   MessageType = "speaker_resolved"
	MessageTypeTranscriptSegment MessageType = "transcript_segment"
	MessageTypeProfileEvent      MessageType = "profile_event"
	MessageTypePong              MessageType = "pong"
	MessageTypeError             MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
}

// UtteranceMessage carries one already-diarized utterance from an external
// transcription pipeline. AudioData is base64 in JSON.
type UtteranceMessage struct {
	BaseMessage
	Label     string `json:"label"`
	AudioData []byte `json:"audio_data"`
}

// ListeningStartMessage opens a diarized audio stream; binary frames that
// follow are the audio.
type ListeningStartMessage struct {
	BaseMessage
	SampleRate  int    `json:"sample_rate,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	Language    string `json:"language,omitempty"`
	MinSpeakers int    `json:"min_speakers,omitempty"`
	MaxSpeakers int    `json:"max_speakers,omitempty"`
}

// ListeningEndMessage closes the diarized audio stream.
type ListeningEndMessage struct {
	BaseMessage
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ErrorMessage represents an error response
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SessionStartedMessage tells the client which session its connection is.
type SessionStartedMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
}

// SpeakerResolvedMessage answers an UtteranceMessage.
type SpeakerResolvedMessage struct {
	BaseMessage
	SessionID string                `json:"session_id"`
	Label     string                `json:"label"`
	Speaker   entities.SpeakerMatch `json:"speaker"`
}

// TranscriptSegmentMessage is one diarized utterance with its speaker.
type TranscriptSegmentMessage struct {
	BaseMessage
	SessionID string                `json:"session_id"`
	Label     string                `json:"label"`
	Text      string                `json:"text"`
	StartMs   int64                 `json:"start_ms"`
	EndMs     int64                 `json:"end_ms"`
	Speaker   entities.SpeakerMatch `json:"speaker"`
}

// ListeningEndedMessage acknowledges listening_end once every segment has
// been sent.
type ListeningEndedMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
	Segments  int    `json:"segments"`
}

// ProfileEventMessage broadcasts a committed profile change.
type ProfileEventMessage struct {
	BaseMessage
	Change entities.ProfileEvent `json:"change"`
}

// Accepted listening_start sample rates.
const (
	MinSampleRate = 8000
	MaxSampleRate = 48000
)

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeUtterance:
		var msg UtteranceMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid utterance message: %w", err)
		}
		if len(msg.AudioData) == 0 {
			return nil, fmt.Errorf("audio_data is required")
		}
		return &msg, nil

	case MessageTypeListeningStart:
		var msg ListeningStartMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid listening_start message: %w", err)
		}
		if err := v.validateListeningStart(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeListeningEnd:
		return &ListeningEndMessage{BaseMessage: base}, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func (v *MessageValidator) validateListeningStart(msg *ListeningStartMessage) error {
	if msg.SampleRate != 0 && (msg.SampleRate < MinSampleRate || msg.SampleRate > MaxSampleRate) {
		return fmt.Errorf("sample_rate must be between %d and %d", MinSampleRate, MaxSampleRate)
	}
	if msg.MinSpeakers < 0 || msg.MaxSpeakers < 0 {
		return fmt.Errorf("speaker counts must not be negative")
	}
	if msg.MaxSpeakers != 0 && msg.MaxSpeakers < msg.MinSpeakers {
		return fmt.Errorf("max_speakers must be at least min_speakers")
	}
	return nil
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{
		Type:      t,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong),
		Data:        data,
	}
}
