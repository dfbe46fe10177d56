package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/kaiwalabs/kaiwa/audio"
	"github.com/kaiwalabs/kaiwa/gemini"
	"github.com/kaiwalabs/kaiwa/messages"
	"github.com/kaiwalabs/kaiwa/playback"
)

type fakeTransport struct {
	mu         sync.Mutex
	events     chan gemini.Event
	audio      chan []byte
	texts      []string
	toolResps  [][]*genai.FunctionResponse
	streamEnds int
	closed     bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan gemini.Event, 32),
		audio:  make(chan []byte, 32),
	}
}

func (t *fakeTransport) Events() <-chan gemini.Event { return t.events }

func (t *fakeTransport) SendAudio(chunk audio.Chunk) error {
	t.audio <- append([]byte(nil), chunk.PCM...)
	return nil
}

func (t *fakeTransport) SendAudioStreamEnd() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamEnds++
	return nil
}

func (t *fakeTransport) SendText(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.texts = append(t.texts, text)
	return nil
}

func (t *fakeTransport) SendToolResponse(responses []*genai.FunctionResponse) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toolResps = append(t.toolResps, responses)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.events)
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) sentTexts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.texts...)
}

func (t *fakeTransport) toolResponses() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.toolResps)
}

func (t *fakeTransport) push(ev gemini.Event) { t.events <- ev }

type fakeCapture struct {
	mu      sync.Mutex
	frames  chan []float32
	stopped int
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{frames: make(chan []float32, 32)}
}

func (f *fakeCapture) Start(ctx context.Context) (<-chan []float32, error) {
	return f.frames, nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeCapture) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeCapture) push(samples []float32) { f.frames <- samples }

type testTimer struct {
	clock    *testClock
	deadline time.Duration
	f        func()
	stopped  bool
	fired    bool
}

func (t *testTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type testClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*testTimer
}

func (c *testClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) AfterFunc(d time.Duration, f func()) playback.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &testTimer{clock: c, deadline: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance fires due timers outside the clock lock so callbacks can
// take scheduler and controller locks.
func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*testTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.deadline <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].deadline < due[j].deadline })
	for _, t := range due {
		t.f()
	}
}

type playSink struct {
	mu      sync.Mutex
	played  int
	flushes int
}

func (s *playSink) Play(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.played++
	return nil
}

func (s *playSink) FlushPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *playSink) playedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

func (s *playSink) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

type harness struct {
	t       *testing.T
	ctrl    *Controller
	capture *fakeCapture
	clock   *testClock
	sink    *playSink

	states chan State
	msgs   chan messages.ChatMessage
	errs   chan *Error
	levels chan float64

	dials    int32
	dialGate chan struct{}
	dialErr  error

	mu         sync.Mutex
	transports []*fakeTransport
}

func newHarness(t *testing.T, cfg Config) *harness {
	h := &harness{
		t:       t,
		capture: newFakeCapture(),
		clock:   &testClock{},
		sink:    &playSink{},
		states:  make(chan State, 32),
		msgs:    make(chan messages.ChatMessage, 32),
		errs:    make(chan *Error, 8),
		levels:  make(chan float64, 32),
	}
	sched := playback.NewScheduler(h.sink, audio.PlaybackFormat, h.clock)

	dial := func(ctx context.Context) (Transport, error) {
		atomic.AddInt32(&h.dials, 1)
		if h.dialGate != nil {
			<-h.dialGate
		}
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		tr := newFakeTransport()
		h.mu.Lock()
		h.transports = append(h.transports, tr)
		h.mu.Unlock()
		return tr, nil
	}

	h.ctrl = NewController(cfg, dial, h.capture, sched, Callbacks{
		OnState:   func(s State) { h.states <- s },
		OnMessage: func(m messages.ChatMessage) { h.msgs <- m },
		OnError:   func(e *Error) { h.errs <- e },
		OnLevel: func(v float64) {
			select {
			case h.levels <- v:
			default:
			}
		},
	})
	return h
}

// tr returns the transport produced by the most recent dial.
func (h *harness) tr() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transports) == 0 {
		h.t.Fatal("no transport dialed yet")
	}
	return h.transports[len(h.transports)-1]
}

func (h *harness) start() {
	h.t.Helper()
	h.ctrl.Start(context.Background())
	h.waitState(StateRecording)
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func (h *harness) waitMessage() messages.ChatMessage {
	h.t.Helper()
	select {
	case m := <-h.msgs:
		return m
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for message")
		return messages.ChatMessage{}
	}
}

func (h *harness) waitError() *Error {
	h.t.Helper()
	select {
	case e := <-h.errs:
		return e
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for error")
		return nil
	}
}

func (h *harness) waitAudio() []byte {
	h.t.Helper()
	select {
	case b := <-h.tr().audio:
		return b
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for audio upload")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartTransitions(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})

	h.ctrl.Start(context.Background())
	h.waitState(StateConnecting)
	h.waitState(StateRecording)

	// A second Start while running is a no-op.
	h.ctrl.Start(context.Background())
	if got := atomic.LoadInt32(&h.dials); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestCaptureStreamsWhileRecording(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.start()

	samples := make([]float32, 8)
	for i := range samples {
		samples[i] = 0.5
	}
	h.capture.push(samples)

	got := h.waitAudio()
	if len(got) != 16 {
		t.Errorf("uploaded %d bytes, want 16", len(got))
	}
	select {
	case <-h.levels:
	case <-time.After(2 * time.Second):
		t.Error("no level callback for uploaded frame")
	}
}

func TestPauseDropsFramesResumeRestores(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.start()

	first := []float32{0.25, 0.25}
	h.capture.push(first)
	h.waitAudio()

	// Pause is committed before the next frame is pushed, so that
	// frame must be dropped.
	h.ctrl.Pause()
	h.waitState(StatePaused)
	h.capture.push([]float32{0.75, 0.75})
	// Let the capture loop drain the paused frame before resuming.
	time.Sleep(50 * time.Millisecond)

	h.ctrl.Resume()
	h.waitState(StateRecording)
	marker := []float32{-0.5, -0.5}
	h.capture.push(marker)

	got := h.waitAudio()
	want := audio.EncodeFloat32(marker).PCM
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("received %v, want the post-resume frame %v", got, want)
	}
}

func TestModelAudioAutoPauses(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.start()

	h.tr().push(gemini.AudioEvent{Data: make([]byte, 4800)})

	h.waitState(StatePaused)
	waitFor(t, func() bool { return h.sink.playedCount() == 1 }, "chunk never reached the sink")
}

func TestInterruptedFlushesPlaybackKeepsState(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.start()

	h.tr().push(gemini.AudioEvent{Data: make([]byte, 4800)})
	h.waitState(StatePaused)
	waitFor(t, func() bool { return h.sink.playedCount() == 1 }, "chunk never reached the sink")

	h.tr().push(gemini.InterruptedEvent{})

	waitFor(t, func() bool { return h.sink.flushCount() >= 1 }, "interruption did not flush playback")
	if got := h.ctrl.State(); got != StatePaused {
		t.Errorf("state after interruption = %v, want paused", got)
	}
}

func TestTurnCompleteFinalizesInOrder(t *testing.T) {
	h := newHarness(t, Config{ID: "s1", Format: messages.FormatJSON})
	h.start()

	h.tr().push(gemini.InputTranscriptEvent{Text: "Hola, "})
	h.tr().push(gemini.InputTranscriptEvent{Text: "buenos días"})
	h.tr().push(gemini.ModelTextEvent{Text: `{"displayText": "おはようございます", "romajiText": "ohayou gozaimasu"}`})
	h.tr().push(gemini.TurnCompleteEvent{})

	first := h.waitMessage()
	if first.Role != messages.RoleUser || first.Text != "Hola, buenos días" {
		t.Errorf("first message = %+v, want the user turn", first)
	}
	second := h.waitMessage()
	if second.Role != messages.RoleModel || second.Text != "おはようございます" {
		t.Errorf("second message = %+v, want the model turn", second)
	}
	if second.Romaji != "ohayou gozaimasu" {
		t.Errorf("model message romaji = %q", second.Romaji)
	}
	if got := len(h.ctrl.History()); got != 2 {
		t.Errorf("history has %d entries, want 2", got)
	}
}

func TestEmptyTurnProducesNoMessages(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.start()

	h.tr().push(gemini.TurnCompleteEvent{})
	// A second turn with content proves the empty one emitted nothing.
	h.tr().push(gemini.InputTranscriptEvent{Text: "hola"})
	h.tr().push(gemini.TurnCompleteEvent{})

	got := h.waitMessage()
	if got.Role != messages.RoleUser || got.Text != "hola" {
		t.Errorf("message = %+v, want only the second turn's user message", got)
	}
	if got := len(h.ctrl.History()); got != 1 {
		t.Errorf("history has %d entries, want 1", got)
	}
}

func TestAutoResumeWaitsForPlayback(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.start()

	// 100ms of model audio pauses the microphone.
	h.tr().push(gemini.AudioEvent{Data: make([]byte, 4800)})
	h.waitState(StatePaused)
	waitFor(t, func() bool { return h.sink.playedCount() == 1 }, "chunk never reached the sink")

	h.tr().push(gemini.OutputTranscriptEvent{Text: "こんにちは"})
	h.tr().push(gemini.TurnCompleteEvent{})
	h.waitMessage()

	// The turn is complete but playback has not drained yet.
	if got := h.ctrl.State(); got != StatePaused {
		t.Fatalf("state before drain = %v, want paused", got)
	}

	h.clock.Advance(100 * time.Millisecond)
	h.waitState(StateRecording)
}

func TestStopReleasesResources(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.start()

	h.ctrl.Stop()

	if got := h.ctrl.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
	if !h.tr().isClosed() {
		t.Error("transport not closed")
	}
	if got := h.capture.stopCount(); got != 1 {
		t.Errorf("capture stopped %d times, want 1", got)
	}

	// Stop is idempotent.
	h.ctrl.Stop()
	if got := h.capture.stopCount(); got != 1 {
		t.Errorf("capture stopped %d times after second Stop, want 1", got)
	}
}

func TestTransportErrorEndsSession(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.start()

	h.tr().push(gemini.ErrorEvent{Err: errors.New("googleapi: 429 RESOURCE_EXHAUSTED")})

	serr := h.waitError()
	if serr.Kind != ErrorQuota {
		t.Errorf("error kind = %v, want quota", serr.Kind)
	}
	h.waitState(StateIdle)
	if h.ctrl.LastError() == nil {
		t.Error("LastError() = nil after failure")
	}

	// A fresh start clears the error slot.
	h.start()
	if h.ctrl.LastError() != nil {
		t.Error("LastError() not cleared by successful start")
	}
}

func TestStopDuringConnectDiscardsSession(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.dialGate = make(chan struct{})

	h.ctrl.Start(context.Background())
	h.waitState(StateConnecting)
	h.ctrl.Stop()
	h.waitState(StateIdle)

	// The dial finishes late; its transport must be closed, not used.
	close(h.dialGate)
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.transports) == 1 && h.transports[0].isClosed()
	}, "late transport was not discarded")

	if got := h.ctrl.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestSendTextAppendsUserTurn(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})

	if err := h.ctrl.SendText("hola"); err == nil {
		t.Error("SendText before start: want error")
	}

	h.start()
	if err := h.ctrl.SendText("  ¿Cómo se dice hola?  "); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	got := h.waitMessage()
	if got.Role != messages.RoleUser || got.Text != "¿Cómo se dice hola?" {
		t.Errorf("message = %+v", got)
	}
	waitFor(t, func() bool {
		texts := h.tr().sentTexts()
		return len(texts) == 1 && texts[0] == "¿Cómo se dice hola?"
	}, "text never reached the transport")
}

func TestEndTurnSignalsStreamEnd(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})

	if err := h.ctrl.EndTurn(); err == nil {
		t.Error("EndTurn before start: want error")
	}

	h.start()
	if err := h.ctrl.EndTurn(); err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	h.tr().mu.Lock()
	ends := h.tr().streamEnds
	h.tr().mu.Unlock()
	if ends != 1 {
		t.Errorf("stream ends = %d, want 1", ends)
	}
}

func TestToolCallsAreAnswered(t *testing.T) {
	h := newHarness(t, Config{ID: "s1"})
	h.start()

	h.tr().push(gemini.ToolCallEvent{Calls: []*genai.FunctionCall{
		{ID: "c1", Name: "LookupVocabulary", Args: map[string]any{"topic": "greetings"}},
	}})

	waitFor(t, func() bool { return h.tr().toolResponses() == 1 }, "tool call never answered")
	h.tr().mu.Lock()
	resp := h.tr().toolResps[0][0]
	h.tr().mu.Unlock()
	if resp.Name != "LookupVocabulary" || resp.ID != "c1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestOpeningTextSentOnConnect(t *testing.T) {
	h := newHarness(t, Config{ID: "s1", OpeningText: OpeningText})
	h.start()

	waitFor(t, func() bool {
		texts := h.tr().sentTexts()
		return len(texts) == 1 && texts[0] == OpeningText
	}, "opening text never sent")
}
