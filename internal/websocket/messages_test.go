package websocket

import (
	"encoding/json"
	"testing"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name     string
		message  string
		wantErr  bool
		wantType interface{}
	}{
		{
			name:     "valid utterance",
			message:  `{"type": "utterance", "label": "spk_0", "audio_data": "SGVsbG8gV29ybGQ="}`,
			wantType: &UtteranceMessage{},
		},
		{
			name:     "utterance without label",
			message:  `{"type": "utterance", "audio_data": "SGVsbG8="}`,
			wantType: &UtteranceMessage{},
		},
		{
			name:    "utterance missing audio",
			message: `{"type": "utterance", "label": "spk_0"}`,
			wantErr: true,
		},
		{
			name:    "utterance with invalid base64",
			message: `{"type": "utterance", "label": "spk_0", "audio_data": "%%%"}`,
			wantErr: true,
		},
		{
			name:     "listening start",
			message:  `{"type": "listening_start", "sample_rate": 16000, "encoding": "LINEAR16", "max_speakers": 4}`,
			wantType: &ListeningStartMessage{},
		},
		{
			name:    "listening start with invalid sample rate",
			message: `{"type": "listening_start", "sample_rate": 100000}`,
			wantErr: true,
		},
		{
			name:    "listening start with inverted speaker bounds",
			message: `{"type": "listening_start", "min_speakers": 5, "max_speakers": 2}`,
			wantErr: true,
		},
		{
			name:     "listening end",
			message:  `{"type": "listening_end"}`,
			wantType: &ListeningEndMessage{},
		},
		{
			name:     "ping",
			message:  `{"type": "ping", "data": "hello"}`,
			wantType: &PingMessage{},
		},
		{
			name:    "unknown type",
			message: `{"type": "audio_chunk"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			message: `hello`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			switch tt.wantType.(type) {
			case *UtteranceMessage:
				if _, ok := got.(*UtteranceMessage); !ok {
					t.Errorf("Expected *UtteranceMessage, got %T", got)
				}
			case *ListeningStartMessage:
				if _, ok := got.(*ListeningStartMessage); !ok {
					t.Errorf("Expected *ListeningStartMessage, got %T", got)
				}
			case *ListeningEndMessage:
				if _, ok := got.(*ListeningEndMessage); !ok {
					t.Errorf("Expected *ListeningEndMessage, got %T", got)
				}
			case *PingMessage:
				if _, ok := got.(*PingMessage); !ok {
					t.Errorf("Expected *PingMessage, got %T", got)
				}
			}
		})
	}
}

func TestUtteranceMessageDecodesAudio(t *testing.T) {
	got, err := NewMessageValidator().ValidateMessage([]byte(`{"type": "utterance", "label": "spk_3", "audio_data": "SGVsbG8="}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	msg := got.(*UtteranceMessage)
	if string(msg.AudioData) != "Hello" {
		t.Errorf("Expected decoded audio %q, got %q", "Hello", msg.AudioData)
	}
	if msg.Label != "spk_3" {
		t.Errorf("Expected label spk_3, got %s", msg.Label)
	}
}

func TestCreateErrorMessage(t *testing.T) {
	msg := CreateErrorMessage("bad_request", "Something went wrong", "details")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal error message: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal error message: %v", err)
	}
	if decoded["type"] != string(MessageTypeError) {
		t.Errorf("Expected type error, got %v", decoded["type"])
	}
	if decoded["error_code"] != "bad_request" {
		t.Errorf("Expected error_code bad_request, got %v", decoded["error_code"])
	}
	if decoded["timestamp"] == "" {
		t.Error("Expected timestamp to be set")
	}
}

func TestCreatePongMessage(t *testing.T) {
	msg := CreatePongMessage("hello")
	if msg.Type != MessageTypePong {
		t.Errorf("Expected type pong, got %s", msg.Type)
	}
	if msg.Data != "hello" {
		t.Errorf("Expected data hello, got %s", msg.Data)
	}
}
