// Package gemini wraps the Gemini SDK: a Live API transport for voice
// sessions, a text chat client, and a speech synthesizer.
package gemini

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/kaiwalabs/kaiwa/audio"
)

const (
	DefaultLiveModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	//DefaultLiveModel = "models/gemini-3-flash-preview"

	// Available voices: Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
	DefaultVoice = "Zephyr"
)

// LiveConfig describes one Live session.
type LiveConfig struct {
	Model             string // defaults to DefaultLiveModel
	Voice             string // defaults to DefaultVoice
	SystemInstruction string
	Tools             []*genai.Tool

	// Ask the server to transcribe the audio in each direction.
	InputTranscription  bool
	OutputTranscription bool
}

// Transport is a live voice connection to Gemini. Incoming traffic is
// delivered as Events; senders are safe for concurrent use and become
// no-ops once the transport is closed.
type Transport struct {
	session *genai.Session
	events  chan Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAPIClient builds a Gemini API client for the given key.
func NewAPIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// Dial connects to the Live API with a fresh client.
func Dial(ctx context.Context, apiKey string, cfg LiveConfig) (*Transport, error) {
	client, err := NewAPIClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return DialWithClient(ctx, client, cfg)
}

// DialWithClient connects to the Live API reusing an existing client.
func DialWithClient(ctx context.Context, client *genai.Client, cfg LiveConfig) (*Transport, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultLiveModel
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: cfg.SystemInstruction},
			},
		},
		Tools: cfg.Tools,
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: voice,
				},
			},
		},
	}
	if cfg.InputTranscription {
		config.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		config.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	session, err := client.Live.Connect(ctx, model, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}

	t := &Transport{
		session: session,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
	}
	go t.receive()

	log.Info().Str("model", model).Str("voice", voice).Msg("connected to Gemini Live")
	return t, nil
}

// Events returns the incoming event stream. The channel is closed after
// an ErrorEvent or ClosedEvent.
func (t *Transport) Events() <-chan Event {
	return t.events
}

func (t *Transport) receive() {
	defer close(t.events)
	for {
		resp, err := t.session.Receive()
		if err != nil {
			// The final event must go out even when nobody is
			// draining the channel anymore.
			if t.isClosed() {
				select {
				case t.events <- ClosedEvent{}:
				default:
				}
			} else {
				log.Warn().Err(err).Msg("Gemini receive error")
				select {
				case t.events <- ErrorEvent{Err: err}:
				default:
				}
			}
			return
		}
		t.handle(resp)
	}
}

func (t *Transport) handle(resp *genai.LiveServerMessage) {
	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		log.Debug().Int("calls", len(resp.ToolCall.FunctionCalls)).Msg("received function calls")
		t.emit(ToolCallEvent{Calls: resp.ToolCall.FunctionCalls})
	}

	sc := resp.ServerContent
	if sc == nil {
		return
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		t.emit(InputTranscriptEvent{Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		t.emit(OutputTranscriptEvent{Text: sc.OutputTranscription.Text})
	}
	if sc.Interrupted {
		log.Debug().Msg("model generation interrupted")
		t.emit(InterruptedEvent{})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.Text != "" {
				t.emit(ModelTextEvent{Text: part.Text})
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				t.emit(AudioEvent{Data: part.InlineData.Data})
			}
		}
	}
	if sc.TurnComplete {
		t.emit(TurnCompleteEvent{})
	}
}

func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// SendAudio forwards one capture chunk. Sending on a closed transport
// is a no-op.
func (t *Transport) SendAudio(chunk audio.Chunk) error {
	if t.isClosed() {
		return nil
	}
	err := t.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: chunk.MIMEType(),
			Data:     chunk.PCM,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendAudioStreamEnd tells the server the user turn is over, which
// triggers a response from the accumulated audio.
func (t *Transport) SendAudioStreamEnd() error {
	if t.isClosed() {
		return nil
	}
	err := t.session.SendRealtimeInput(genai.LiveRealtimeInput{
		AudioStreamEnd: true,
	})
	if err != nil {
		return fmt.Errorf("failed to send audio stream end: %w", err)
	}
	return nil
}

// SendText submits a typed user turn into the live conversation.
func (t *Transport) SendText(text string) error {
	if t.isClosed() {
		return nil
	}
	turnComplete := true
	err := t.session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			{
				Role:  "user",
				Parts: []*genai.Part{{Text: text}},
			},
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

// SendToolResponse returns function call results to the model.
func (t *Transport) SendToolResponse(responses []*genai.FunctionResponse) error {
	if t.isClosed() {
		return nil
	}
	err := t.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: responses,
	})
	if err != nil {
		return fmt.Errorf("failed to send tool response: %w", err)
	}
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Close terminates the session. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	return t.session.Close()
}
