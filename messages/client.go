package messages

import "encoding/json"

// Client message types
const (
	ClientTypeAudio   = "audio"
	ClientTypeControl = "control"
	ClientTypeConfig  = "config"
	ClientTypeChat    = "chat"
)

// Control actions
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionEndTurn = "end_turn"
	ActionPing    = "ping"
)

// ClientMessage represents a message from the frontend client
type ClientMessage struct {
	Type    string          `json:"type"` // "audio", "control", "config", "chat"
	Payload json.RawMessage `json:"payload"`
}

// AudioPayload contains audio data from the client
type AudioPayload struct {
	Data string `json:"data"` // Base64-encoded PCM audio
}

// ConfigPayload adjusts the session before it starts
type ConfigPayload struct {
	ProficiencyLevel string `json:"proficiencyLevel,omitempty"`
	ResponseFormat   string `json:"responseFormat,omitempty"` // "json", "delimited"
	Voice            string `json:"voice,omitempty"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"`
}

// ChatPayload carries a typed user turn
type ChatPayload struct {
	Text string `json:"text"`
}
