package session

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/kaiwalabs/kaiwa/audio"
	"github.com/kaiwalabs/kaiwa/messages"
)

// remoteFrameBacklog bounds how many pushed frames may sit unread
// before new ones are dropped.
const remoteFrameBacklog = 64

// remoteSource adapts audio pushed over the wire (browser or phone)
// into the controller's capture stream. Push may be called at any
// time; frames arriving while the source is stopped are dropped.
type remoteSource struct {
	frames chan []float32

	mu   sync.Mutex
	open bool
}

func newRemoteSource() *remoteSource {
	return &remoteSource{frames: make(chan []float32, remoteFrameBacklog)}
}

func (r *remoteSource) Start(ctx context.Context) (<-chan []float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Discard frames left over from a previous run.
	for {
		select {
		case <-r.frames:
		default:
			r.open = true
			return r.frames, nil
		}
	}
}

func (r *remoteSource) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}

// Push converts little-endian PCM16 bytes into a capture frame. When
// the controller falls behind, the frame is dropped rather than
// stalling the connection's read loop.
func (r *remoteSource) Push(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	r.mu.Lock()
	open := r.open
	r.mu.Unlock()
	if !open {
		return
	}

	select {
	case r.frames <- audio.DecodePCM16(pcm):
	default:
	}
}

// wsSink forwards scheduled playback to the browser as base64 audio
// messages. The browser queues and plays them with its own audio
// clock; FlushPlayback tells it to drop whatever it has queued.
type wsSink struct {
	session *ClientSession
}

func (s *wsSink) Play(pcm []byte) error {
	s.session.queueMessage(messages.NewAudioMessage(
		s.session.ID, base64.StdEncoding.EncodeToString(pcm)))
	return nil
}

func (s *wsSink) FlushPlayback() {
	s.session.queueMessage(messages.NewStatusMessage(s.session.ID, "interrupted", ""))
}
