package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/kaiwalabs/kaiwa/audio"
	"github.com/kaiwalabs/kaiwa/functions"
	"github.com/kaiwalabs/kaiwa/gemini"
	"github.com/kaiwalabs/kaiwa/messages"
	"github.com/kaiwalabs/kaiwa/metrics"
	"github.com/kaiwalabs/kaiwa/playback"
	"github.com/kaiwalabs/kaiwa/transcript"
)

// Transport is the slice of the live connection the controller drives.
// *gemini.Transport implements it; tests substitute fakes.
type Transport interface {
	Events() <-chan gemini.Event
	SendAudio(chunk audio.Chunk) error
	SendAudioStreamEnd() error
	SendText(text string) error
	SendToolResponse(responses []*genai.FunctionResponse) error
	Close() error
}

var _ Transport = (*gemini.Transport)(nil)

// Dialer opens the live connection when a session starts.
type Dialer func(ctx context.Context) (Transport, error)

// CaptureSource produces microphone frames as float samples in [-1, 1].
// Stop must be safe to call at any time, including before Start and
// more than once.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan []float32, error)
	Stop() error
}

// Config carries the per-session settings the controller needs.
type Config struct {
	ID     string
	Format messages.Format
	// OpeningText, when set, is sent as the first client turn right
	// after the connection is up, so the tutor speaks first.
	OpeningText string
}

// Callbacks deliver session output. All fields are optional and must
// not call back into the controller from the same goroutine they block.
type Callbacks struct {
	OnState      func(State)
	OnTranscript func(role messages.Role, text string)
	OnMessage    func(messages.ChatMessage)
	OnLevel      func(rms float64)
	OnError      func(*Error)
}

// Controller runs one tutoring conversation: it owns the live
// transport, streams microphone audio up, schedules model audio for
// playback, and finalizes chat messages at each turn boundary.
//
// State transitions: idle -> connecting -> recording <-> paused, and
// back to idle on Stop or failure. The controller pauses itself while
// the tutor is speaking and resumes once playback drains.
type Controller struct {
	cfg     Config
	dial    Dialer
	capture CaptureSource
	sched   *playback.Scheduler
	cb      Callbacks
	agg     *transcript.Aggregator

	mu            sync.Mutex
	state         State
	transport     Transport
	cancel        context.CancelFunc
	epoch         int
	active        bool
	pendingResume bool
	turnStart     time.Time
	history       []messages.ChatMessage
	lastErr       *Error
}

// NewController wires a controller to its collaborators. The controller
// takes over the scheduler's OnDrain hook.
func NewController(cfg Config, dial Dialer, capture CaptureSource, sched *playback.Scheduler, cb Callbacks) *Controller {
	c := &Controller{
		cfg:     cfg,
		dial:    dial,
		capture: capture,
		sched:   sched,
		cb:      cb,
		agg:     transcript.New(),
		state:   StateIdle,
	}
	sched.OnDrain = c.onPlaybackDrained
	return c
}

func (c *Controller) ID() string { return c.cfg.ID }

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetFormat changes the reply format used when finalizing turns. It
// applies from the next turn boundary on.
func (c *Controller) SetFormat(f messages.Format) {
	c.mu.Lock()
	c.cfg.Format = f
	c.mu.Unlock()
}

// History returns a copy of the finalized conversation so far.
func (c *Controller) History() []messages.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]messages.ChatMessage, len(c.history))
	copy(out, c.history)
	return out
}

// LastError returns the failure that ended the previous session, if
// any. It is cleared when a new session starts.
func (c *Controller) LastError() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Start begins a session. It returns immediately; progress is reported
// through the callbacks. Calling Start on a non-idle controller does
// nothing.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.epoch++
	epoch := c.epoch
	c.lastErr = nil
	c.history = nil
	c.pendingResume = false
	c.turnStart = time.Time{}
	c.agg.Reset()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateConnecting
	c.mu.Unlock()

	c.fireState(StateConnecting)
	go c.connect(runCtx, epoch)
}

func (c *Controller) connect(ctx context.Context, epoch int) {
	transport, err := c.dial(ctx)
	if err != nil {
		c.fail(epoch, classify(err, ErrorConnection))
		return
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// Stopped while dialing.
		c.mu.Unlock()
		transport.Close()
		return
	}
	c.transport = transport
	c.mu.Unlock()

	frames, err := c.capture.Start(ctx)
	if err != nil {
		c.fail(epoch, classify(err, ErrorDevice))
		return
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.capture.Stop()
		return
	}
	c.state = StateRecording
	c.active = true
	c.mu.Unlock()

	metrics.SessionsActive.Inc()
	c.fireState(StateRecording)
	log.Info().Str("session", c.cfg.ID).Msg("session recording")

	go c.captureLoop(ctx, epoch, frames)
	go c.eventLoop(ctx, epoch, transport.Events())

	if c.cfg.OpeningText != "" {
		if err := transport.SendText(c.cfg.OpeningText); err != nil {
			log.Debug().Err(err).Msg("opening turn failed")
		}
	}
}

// Stop ends the session from any state and releases every resource in
// a fixed order. Stopping an idle controller does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	cleanup := c.teardownLocked()
	c.mu.Unlock()

	cleanup()
	c.fireState(StateIdle)
	log.Info().Str("session", c.cfg.ID).Msg("session stopped")
}

// teardownLocked resets to idle and hands back the release work. The
// caller holds mu and must run the returned func after unlocking.
// Release order is fixed: cancel, transport, capture, playback.
func (c *Controller) teardownLocked() func() {
	c.epoch++
	transport := c.transport
	c.transport = nil
	cancel := c.cancel
	c.cancel = nil
	wasActive := c.active
	c.active = false
	c.pendingResume = false
	c.state = StateIdle

	return func() {
		if cancel != nil {
			cancel()
		}
		if transport != nil {
			transport.Close()
		}
		c.capture.Stop()
		c.sched.Flush()
		if wasActive {
			metrics.SessionsActive.Dec()
		}
	}
}

func (c *Controller) fail(epoch int, serr *Error) {
	c.mu.Lock()
	if c.epoch != epoch {
		// The session was already stopped; drop the late error.
		c.mu.Unlock()
		return
	}
	c.lastErr = serr
	cleanup := c.teardownLocked()
	c.mu.Unlock()

	cleanup()
	metrics.SessionErrors.WithLabelValues(serr.Kind.String()).Inc()
	log.Error().Err(serr.Err).Str("session", c.cfg.ID).Str("kind", serr.Kind.String()).Msg("session failed")
	c.fireState(StateIdle)
	c.fireError(serr)
}

// Pause suspends microphone streaming by user request. Playback is not
// affected.
func (c *Controller) Pause() {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	c.state = StatePaused
	c.pendingResume = false
	c.mu.Unlock()
	c.fireState(StatePaused)
}

// Resume restarts microphone streaming after a pause. It does not
// flush playback.
func (c *Controller) Resume() {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	c.state = StateRecording
	c.pendingResume = false
	c.mu.Unlock()
	c.fireState(StateRecording)
}

// SendText submits a typed user turn into the running session.
func (c *Controller) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.mu.Lock()
	transport := c.transport
	if transport == nil {
		c.mu.Unlock()
		return errors.New("session not started")
	}
	userMsg := messages.ChatMessage{Role: messages.RoleUser, Text: text}
	c.history = append(c.history, userMsg)
	c.mu.Unlock()

	c.fireMessage(userMsg)
	return transport.SendText(text)
}

// EndTurn tells the model the user turn is over without waiting for
// voice activity detection.
func (c *Controller) EndTurn() error {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return errors.New("session not started")
	}
	return transport.SendAudioStreamEnd()
}

// SendAudioBatch uploads buffered push-to-talk audio and then closes
// the user turn, keeping the two in order.
func (c *Controller) SendAudioBatch(pcm []byte) error {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return errors.New("session not started")
	}

	if len(pcm) > 0 {
		chunk := audio.Chunk{PCM: pcm, Format: audio.CaptureFormat}
		if err := transport.SendAudio(chunk); err != nil {
			return err
		}
		metrics.AudioInBytes.Add(float64(len(pcm)))
	}
	return transport.SendAudioStreamEnd()
}

func (c *Controller) captureLoop(ctx context.Context, epoch int, frames <-chan []float32) {
	for {
		select {
		case <-ctx.Done():
			return
		case samples, ok := <-frames:
			if !ok {
				return
			}
			c.mu.Lock()
			state := c.state
			transport := c.transport
			stale := c.epoch != epoch
			c.mu.Unlock()
			if stale || transport == nil {
				return
			}
			if state != StateRecording {
				// Paused: keep draining the device, drop the frame.
				continue
			}

			chunk := audio.EncodeFloat32(samples)
			c.fireLevel(audio.RMSLevel(chunk.PCM))
			if err := transport.SendAudio(chunk); err != nil {
				c.fail(epoch, classify(err, ErrorConnection))
				return
			}
			metrics.AudioInBytes.Add(float64(len(chunk.PCM)))
		}
	}
}

func (c *Controller) eventLoop(ctx context.Context, epoch int, events <-chan gemini.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.onStreamEnded(epoch)
				return
			}
			c.handleEvent(epoch, ev)
		}
	}
}

func (c *Controller) handleEvent(epoch int, ev gemini.Event) {
	switch e := ev.(type) {
	case gemini.InputTranscriptEvent:
		c.markTurnStarted()
		c.agg.AppendInput(e.Text)
		c.fireTranscript(messages.RoleUser, c.agg.Input())
	case gemini.OutputTranscriptEvent:
		c.markTurnStarted()
		c.agg.AppendOutput(e.Text)
		c.fireTranscript(messages.RoleModel, c.agg.Output())
	case gemini.ModelTextEvent:
		c.markTurnStarted()
		c.agg.AppendOutput(e.Text)
		c.fireTranscript(messages.RoleModel, c.agg.Output())
	case gemini.AudioEvent:
		c.markTurnStarted()
		c.onModelAudio(epoch, e.Data)
	case gemini.ToolCallEvent:
		c.onToolCall(epoch, e.Calls)
	case gemini.InterruptedEvent:
		// The model was cut off; pending playback is stale.
		c.sched.Flush()
	case gemini.TurnCompleteEvent:
		c.finalizeTurn(epoch)
	case gemini.ErrorEvent:
		c.fail(epoch, classify(e.Err, ErrorConnection))
	case gemini.ClosedEvent:
		// Deliberate close; teardown already ran.
	}
}

func (c *Controller) onStreamEnded(epoch int) {
	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		return
	}
	c.fail(epoch, &Error{Kind: ErrorConnection, Err: errors.New("session closed unexpectedly")})
}

// onModelAudio pauses the microphone while the tutor speaks and hands
// the chunk to the playback scheduler.
func (c *Controller) onModelAudio(epoch int, pcm []byte) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	autoPaused := c.state == StateRecording
	if autoPaused {
		c.state = StatePaused
	}
	c.mu.Unlock()

	if autoPaused {
		c.fireState(StatePaused)
	}
	c.sched.Enqueue(pcm)
	metrics.AudioOutBytes.Add(float64(len(pcm)))
}

func (c *Controller) onToolCall(epoch int, calls []*genai.FunctionCall) {
	c.mu.Lock()
	transport := c.transport
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale || transport == nil {
		return
	}

	responses := make([]*genai.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		log.Debug().Str("session", c.cfg.ID).Str("function", call.Name).Msg("executing function call")
		responses = append(responses, functions.Handle(call))
	}
	if err := transport.SendToolResponse(responses); err != nil {
		log.Warn().Err(err).Str("session", c.cfg.ID).Msg("tool response failed")
	}
}

// finalizeTurn converts the aggregated transcripts into history
// entries: the user message first, then the parsed model message. A
// reply that does not match the configured format is kept as raw text.
func (c *Controller) finalizeTurn(epoch int) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	turn := c.agg.Complete()

	var out []messages.ChatMessage
	if turn.Input != "" {
		userMsg := messages.ChatMessage{Role: messages.RoleUser, Text: turn.Input}
		c.history = append(c.history, userMsg)
		out = append(out, userMsg)
	}
	var parseErr error
	if turn.Output != "" {
		modelMsg, err := messages.ParseResponse(turn.Output, c.cfg.Format)
		parseErr = err
		modelMsg.Role = messages.RoleModel
		c.history = append(c.history, modelMsg)
		out = append(out, modelMsg)
	}

	resume := false
	if c.state == StatePaused {
		if c.sched.ActiveCount() == 0 {
			c.state = StateRecording
			resume = true
		} else {
			c.pendingResume = true
		}
	}
	turnStart := c.turnStart
	c.turnStart = time.Time{}
	c.mu.Unlock()

	for _, m := range out {
		c.fireMessage(m)
	}
	if parseErr != nil {
		metrics.ParseFallbacks.Inc()
		log.Debug().Err(parseErr).Str("session", c.cfg.ID).Msg("model reply kept as raw text")
	}
	if resume {
		c.fireState(StateRecording)
	}
	metrics.TurnsTotal.Inc()
	if !turnStart.IsZero() {
		metrics.TurnDuration.Observe(time.Since(turnStart).Seconds())
	}
}

// onPlaybackDrained resumes the microphone once the tutor's reply has
// finished playing, if the turn already completed.
func (c *Controller) onPlaybackDrained() {
	c.mu.Lock()
	resume := c.pendingResume && c.state == StatePaused
	c.pendingResume = false
	if resume {
		c.state = StateRecording
	}
	c.mu.Unlock()
	if resume {
		c.fireState(StateRecording)
	}
}

func (c *Controller) markTurnStarted() {
	c.mu.Lock()
	if c.turnStart.IsZero() {
		c.turnStart = time.Now()
	}
	c.mu.Unlock()
}

func (c *Controller) fireState(s State) {
	if c.cb.OnState != nil {
		c.cb.OnState(s)
	}
}

func (c *Controller) fireTranscript(role messages.Role, text string) {
	if c.cb.OnTranscript != nil {
		c.cb.OnTranscript(role, text)
	}
}

func (c *Controller) fireMessage(m messages.ChatMessage) {
	if c.cb.OnMessage != nil {
		c.cb.OnMessage(m)
	}
}

func (c *Controller) fireLevel(rms float64) {
	if c.cb.OnLevel != nil {
		c.cb.OnLevel(rms)
	}
}

func (c *Controller) fireError(serr *Error) {
	if c.cb.OnError != nil {
		c.cb.OnError(serr)
	}
}
