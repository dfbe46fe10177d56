package gemini

import "google.golang.org/genai"

// Event is one item from the Live session stream. Events arrive on a
// single channel in the order the server produced them.
type Event interface {
	liveEvent()
}

// InputTranscriptEvent carries a fragment of the user speech
// transcription.
type InputTranscriptEvent struct {
	Text string
}

// OutputTranscriptEvent carries a fragment of the model speech
// transcription.
type OutputTranscriptEvent struct {
	Text string
}

// ModelTextEvent carries streamed model text, sent when the model
// replies with text parts instead of or alongside audio.
type ModelTextEvent struct {
	Text string
}

// AudioEvent carries one chunk of 24kHz PCM16 model audio.
type AudioEvent struct {
	Data []byte
}

// ToolCallEvent carries function calls the model wants executed.
type ToolCallEvent struct {
	Calls []*genai.FunctionCall
}

// TurnCompleteEvent marks the end of a model turn.
type TurnCompleteEvent struct{}

// InterruptedEvent signals that the model generation was cut off, so
// pending playback should be discarded.
type InterruptedEvent struct{}

// ClosedEvent is the last event after a deliberate Close.
type ClosedEvent struct{}

// ErrorEvent reports a session failure. No further events follow.
type ErrorEvent struct {
	Err error
}

func (InputTranscriptEvent) liveEvent()  {}
func (OutputTranscriptEvent) liveEvent() {}
func (ModelTextEvent) liveEvent()        {}
func (AudioEvent) liveEvent()            {}
func (ToolCallEvent) liveEvent()         {}
func (TurnCompleteEvent) liveEvent()     {}
func (InterruptedEvent) liveEvent()      {}
func (ClosedEvent) liveEvent()           {}
func (ErrorEvent) liveEvent()            {}
