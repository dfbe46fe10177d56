package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const readAloudInstruction = "You are a text-to-speech voice. Read the text the user sends out loud, " +
	"exactly as written, with natural Japanese pronunciation. Do not greet, comment, or add anything."

// Synthesizer turns short phrases into 24kHz PCM16 audio by running a
// one-shot Live session in read-aloud mode.
type Synthesizer struct {
	client *genai.Client
	model  string
	voice  string
}

func NewSynthesizer(client *genai.Client, model, voice string) *Synthesizer {
	return &Synthesizer{client: client, model: model, voice: voice}
}

// Synthesize speaks text and returns the full PCM recording.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	transport, err := DialWithClient(ctx, s.client, LiveConfig{
		Model:             s.model,
		Voice:             s.voice,
		SystemInstruction: readAloudInstruction,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesizer connect: %w", err)
	}
	defer transport.Close()

	if err := transport.SendText(text); err != nil {
		return nil, err
	}

	var pcm []byte
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-transport.Events():
			if !ok {
				if len(pcm) > 0 {
					return pcm, nil
				}
				return nil, errors.New("session closed before audio arrived")
			}
			switch e := ev.(type) {
			case AudioEvent:
				pcm = append(pcm, e.Data...)
			case TurnCompleteEvent:
				if len(pcm) == 0 {
					return nil, errors.New("synthesizer produced no audio")
				}
				return pcm, nil
			case ErrorEvent:
				return nil, e.Err
			}
		}
	}
}
