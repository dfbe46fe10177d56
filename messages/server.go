package messages

import (
	"github.com/bytedance/sonic"

	"github.com/kaiwalabs/kaiwa/audio"
)

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeGeminiError      = "GEMINI_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeQuotaExceeded    = "QUOTA_EXCEEDED"
	ErrCodeBufferFull       = "BUFFER_FULL"
)

// Server message types
const (
	TypeAudio      = "audio"
	TypeTranscript = "transcript"
	TypeChat       = "chat"
	TypeState      = "state"
	TypeLevel      = "level"
	TypeStatus     = "status"
	TypeError      = "error"
)

// ServerMessage represents a message sent to the frontend client

type Media struct {
	Payload string `json:"payload"` // Base64-encoded mu-law audio data
}

type ServerMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload"`
}

type TwilioMessageBack struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     Media  `json:"media"`
}

// AudioResponsePayload contains model audio for the client
type AudioResponsePayload struct {
	Data     string `json:"data"`     // Base64-encoded PCM audio
	MimeType string `json:"mimeType"` // "audio/pcm;rate=24000"
}

// TranscriptPayload carries the live transcript of the turn in progress
type TranscriptPayload struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// StatePayload reports a session state transition
type StatePayload struct {
	State string `json:"state"` // "idle", "connecting", "recording", "paused"
}

// LevelPayload reports the microphone input level
type LevelPayload struct {
	RMS float64 `json:"rms"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"` // "connected", "turn_complete", "interrupted", "disconnected"
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewTwilioMessageBack(streamSid string, data string) *TwilioMessageBack {
	return &TwilioMessageBack{
		Event:     "media",
		StreamSid: streamSid,
		Media:     Media{Payload: data},
	}
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(sessionID, data string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudio,
		SessionID: sessionID,
		Payload: AudioResponsePayload{
			Data:     data,
			MimeType: audio.PlaybackFormat.MIMEType(),
		},
	}
}

// NewTranscriptMessage creates a live transcript update
func NewTranscriptMessage(sessionID string, role Role, text string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeTranscript,
		SessionID: sessionID,
		Payload: TranscriptPayload{
			Role: role,
			Text: text,
		},
	}
}

// NewChatMessage wraps a finalized conversation entry
func NewChatMessage(sessionID string, msg ChatMessage) *ServerMessage {
	return &ServerMessage{
		Type:      TypeChat,
		SessionID: sessionID,
		Payload:   msg,
	}
}

// NewStateMessage reports a session state change
func NewStateMessage(sessionID, state string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeState,
		SessionID: sessionID,
		Payload:   StatePayload{State: state},
	}
}

// NewLevelMessage reports the current input level
func NewLevelMessage(sessionID string, rms float64) *ServerMessage {
	return &ServerMessage{
		Type:      TypeLevel,
		SessionID: sessionID,
		Payload:   LevelPayload{RMS: rms},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

// Encode serializes a message for the wire.
func Encode(msg any) ([]byte, error) {
	return sonic.Marshal(msg)
}

// DecodeClient parses an incoming client envelope.
func DecodeClient(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
