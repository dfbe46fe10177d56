// Package transcript accumulates speech transcription fragments until a
// conversation turn completes.
package transcript

import (
	"strings"
	"sync"
)

// Turn holds the finalized transcripts for one exchange: what the user
// said and what the model said back.
type Turn struct {
	Input  string
	Output string
}

// Aggregator collects transcript fragments for the turn in progress.
// Fragments are concatenated exactly as received; whitespace is only
// trimmed when the turn is finalized.
type Aggregator struct {
	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder
}

func New() *Aggregator {
	return &Aggregator{}
}

// AppendInput adds a fragment of the user's speech transcription.
func (a *Aggregator) AppendInput(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.WriteString(fragment)
}

// AppendOutput adds a fragment of the model's speech transcription or
// streamed text.
func (a *Aggregator) AppendOutput(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(fragment)
}

// Input reports the user transcript accumulated so far this turn.
func (a *Aggregator) Input() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.input.String()
}

// Output reports the model transcript accumulated so far this turn.
func (a *Aggregator) Output() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.output.String()
}

// Complete finalizes the current turn: both transcripts are trimmed,
// returned, and cleared so the next turn starts empty.
func (a *Aggregator) Complete() Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	turn := Turn{
		Input:  strings.TrimSpace(a.input.String()),
		Output: strings.TrimSpace(a.output.String()),
	}
	a.input.Reset()
	a.output.Reset()
	return turn
}

// Reset discards any accumulated fragments without producing a turn.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
}
