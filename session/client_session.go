package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/audio"
	"github.com/kaiwalabs/kaiwa/messages"
	"github.com/kaiwalabs/kaiwa/metrics"
)

const (
	// writeBufferSize is the queued message limit per session. Writes
	// beyond it are dropped rather than blocking the session.
	writeBufferSize = 256
	// writeTimeout bounds a single WebSocket write.
	writeTimeout = 10 * time.Second
	// maxMessageSize bounds incoming client frames.
	maxMessageSize = 512 * 1024
	// chatTimeout bounds one text-mode model exchange.
	chatTimeout = 60 * time.Second
)

// ChatFunc generates a text-mode tutor reply from the history so far.
type ChatFunc func(ctx context.Context, history []messages.ChatMessage, userText string) (messages.ChatMessage, error)

// SynthFunc produces spoken audio for a phrase.
type SynthFunc func(ctx context.Context, text string) ([]byte, error)

// SessionOptions are the client-adjustable settings. They take effect
// when the live session starts.
type SessionOptions struct {
	Level  string
	Voice  string
	Format messages.Format
}

// ClientSession bridges one browser WebSocket to a session controller.
// It owns the socket's read loop and write pump; the controller owns
// the live model connection.
type ClientSession struct {
	ID         string
	ClientConn *websocket.Conn
	Controller *Controller
	CreatedAt  time.Time

	source    *remoteSource
	buffer    *audio.ChunkBuffer // push-to-talk audio held until end_turn
	chat      ChatFunc
	synth     SynthFunc
	keepAlive time.Duration

	writeChan chan []byte
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	mu           sync.RWMutex
	closed       bool
	lastActivity time.Time
	opts         SessionOptions
	chatHistory  []messages.ChatMessage
}

func newClientSession(id string, conn *websocket.Conn, maxBufferSize int, keepAlive time.Duration, opts SessionOptions) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	conn.SetReadLimit(maxMessageSize)
	conn.EnableWriteCompression(true)

	return &ClientSession{
		ID:           id,
		ClientConn:   conn,
		CreatedAt:    time.Now(),
		source:       newRemoteSource(),
		buffer:       audio.NewChunkBuffer(maxBufferSize),
		keepAlive:    keepAlive,
		writeChan:    make(chan []byte, writeBufferSize),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		lastActivity: time.Now(),
		opts:         opts,
	}
}

// attach completes wiring once the manager has built the controller.
func (cs *ClientSession) attach(ctrl *Controller, chat ChatFunc, synth SynthFunc) {
	cs.Controller = ctrl
	cs.chat = chat
	cs.synth = synth
}

// Start launches the read loop and write pump and greets the client.
// The live session itself starts when the client sends a start control.
func (cs *ClientSession) Start() {
	go cs.writePump()
	go cs.handleClientMessages()

	cs.queueMessage(messages.NewStatusMessage(cs.ID, "connected", ""))
	cs.queueMessage(messages.NewStateMessage(cs.ID, cs.Controller.State().String()))
}

// Options returns the session's current settings.
func (cs *ClientSession) Options() SessionOptions {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.opts
}

func (cs *ClientSession) setOptions(opts SessionOptions) {
	cs.mu.Lock()
	cs.opts = opts
	cs.mu.Unlock()
}

// LastSeen reports the time of the last client activity.
func (cs *ClientSession) LastSeen() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.lastActivity
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.lastActivity = time.Now()
	cs.mu.Unlock()
}

// controllerCallbacks forwards controller output onto the wire.
func (cs *ClientSession) controllerCallbacks() Callbacks {
	return Callbacks{
		OnState: func(s State) {
			cs.queueMessage(messages.NewStateMessage(cs.ID, s.String()))
		},
		OnTranscript: func(role messages.Role, text string) {
			cs.queueMessage(messages.NewTranscriptMessage(cs.ID, role, text))
		},
		OnMessage: func(m messages.ChatMessage) {
			cs.queueMessage(messages.NewChatMessage(cs.ID, m))
		},
		OnLevel: func(rms float64) {
			cs.queueMessage(messages.NewLevelMessage(cs.ID, rms))
		},
		OnError: func(serr *Error) {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, errorCode(serr), serr.UserMessage()))
		},
	}
}

// errorCode maps a session error onto the wire protocol's error codes.
func errorCode(serr *Error) string {
	switch serr.Kind {
	case ErrorQuota:
		return messages.ErrCodeQuotaExceeded
	case ErrorConnection, ErrorParse:
		return messages.ErrCodeGeminiError
	default:
		return messages.ErrCodeSessionFailed
	}
}

// queueMessage enqueues a server message for the write pump. Messages
// are dropped when the session is closed or the queue is full.
func (cs *ClientSession) queueMessage(msg *messages.ServerMessage) {
	data, err := messages.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("session", cs.ID).Msg("message encode failed")
		return
	}

	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.closed {
		return
	}
	select {
	case cs.writeChan <- data:
	default:
		log.Warn().Str("session", cs.ID).Str("type", msg.Type).Msg("write queue full, dropping message")
	}
}

// writePump serializes all writes to the client socket. It also sends
// periodic pings so idle connections survive NAT timeouts.
func (cs *ClientSession) writePump() {
	ticker := time.NewTicker(cs.keepAlive)
	defer ticker.Stop()
	defer func() {
		deadline := time.Now().Add(writeTimeout)
		_ = cs.ClientConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = cs.ClientConn.Close()
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case data, ok := <-cs.writeChan:
			if !ok {
				return
			}
			if !cs.writeFrame(data) {
				return
			}
			// Drain whatever queued while the last write was in flight.
			for n := len(cs.writeChan); n > 0; n-- {
				data, ok := <-cs.writeChan
				if !ok {
					return
				}
				if !cs.writeFrame(data) {
					return
				}
			}
		case <-ticker.C:
			_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cs *ClientSession) writeFrame(data []byte) bool {
	_ = cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := cs.ClientConn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Str("session", cs.ID).Msg("client write failed")
		return false
	}
	return true
}

// handleClientMessages reads client frames until the socket drops.
// Binary frames carry raw little-endian PCM16 microphone audio; text
// frames carry JSON envelopes.
func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		msgType, data, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("session", cs.ID).Msg("client connection lost")
			}
			return
		}
		cs.touch()

		switch msgType {
		case websocket.BinaryMessage:
			cs.source.Push(data)
		case websocket.TextMessage:
			cs.processClientMessage(data)
		}
	}
}

func (cs *ClientSession) processClientMessage(data []byte) {
	msg, err := messages.DecodeClient(data)
	if err != nil {
		log.Warn().Err(err).Str("session", cs.ID).Msg("unparseable client message")
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "could not parse message"))
		return
	}

	switch msg.Type {
	case messages.ClientTypeAudio:
		cs.handleAudioMessage(msg.Payload)
	case messages.ClientTypeControl:
		cs.handleControlMessage(msg.Payload)
	case messages.ClientTypeConfig:
		cs.handleConfigMessage(msg.Payload)
	case messages.ClientTypeChat:
		cs.handleChatMessage(msg.Payload)
	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage,
			fmt.Sprintf("unknown message type: %s", msg.Type)))
	}
}

// handleAudioMessage buffers base64 push-to-talk audio until the client
// ends the turn. Live clients send binary frames instead.
func (cs *ClientSession) handleAudioMessage(payload []byte) {
	var audioMsg messages.AudioPayload
	if err := sonic.Unmarshal(payload, &audioMsg); err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "invalid audio payload"))
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(audioMsg.Data)
	if err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "invalid audio encoding"))
		return
	}

	if err := cs.buffer.Append(pcm); err != nil {
		if errors.Is(err, audio.ErrBufferFull) {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeBufferFull,
				"audio buffer full, end the turn before sending more"))
			return
		}
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, err.Error()))
	}
}

func (cs *ClientSession) handleControlMessage(payload []byte) {
	var ctl messages.ControlPayload
	if err := sonic.Unmarshal(payload, &ctl); err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "invalid control payload"))
		return
	}

	log.Debug().Str("session", cs.ID).Str("action", ctl.Action).Msg("control")

	switch ctl.Action {
	case messages.ActionStart:
		cs.Controller.Start(cs.ctx)
	case messages.ActionStop:
		cs.Controller.Stop()
	case messages.ActionPause:
		cs.Controller.Pause()
	case messages.ActionResume:
		cs.Controller.Resume()
	case messages.ActionEndTurn:
		cs.handleEndTurn()
	case messages.ActionPing:
		cs.queueMessage(messages.NewStatusMessage(cs.ID, "pong", ""))
	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage,
			fmt.Sprintf("unknown action: %s", ctl.Action)))
	}
}

// handleEndTurn flushes any batched push-to-talk audio and closes the
// user's turn so the model replies without waiting for silence.
func (cs *ClientSession) handleEndTurn() {
	if err := cs.Controller.SendAudioBatch(cs.buffer.Drain()); err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeSessionFailed, "no active session"))
	}
}

// handleConfigMessage applies client settings. Changes are rejected
// once the live session is running; the client stops and restarts to
// apply new settings.
func (cs *ClientSession) handleConfigMessage(payload []byte) {
	var cfg messages.ConfigPayload
	if err := sonic.Unmarshal(payload, &cfg); err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "invalid config payload"))
		return
	}

	if cs.Controller.State() != StateIdle {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage,
			"config changes require an idle session"))
		return
	}

	opts := cs.Options()
	if cfg.ProficiencyLevel != "" {
		opts.Level = cfg.ProficiencyLevel
	}
	if cfg.Voice != "" {
		opts.Voice = cfg.Voice
	}
	if cfg.ResponseFormat != "" {
		format, err := messages.ParseFormat(cfg.ResponseFormat)
		if err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, err.Error()))
			return
		}
		opts.Format = format
		cs.Controller.SetFormat(format)
	}
	cs.setOptions(opts)

	cs.queueMessage(messages.NewStatusMessage(cs.ID, "config_applied", ""))
}

// handleChatMessage routes typed text: into the live session when one
// is running, otherwise through the text-only chat model.
func (cs *ClientSession) handleChatMessage(payload []byte) {
	var chatMsg messages.ChatPayload
	if err := sonic.Unmarshal(payload, &chatMsg); err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "invalid chat payload"))
		return
	}
	text := strings.TrimSpace(chatMsg.Text)
	if text == "" {
		return
	}

	if cs.Controller.State() != StateIdle {
		if err := cs.Controller.SendText(text); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeSessionFailed, err.Error()))
		}
		return
	}
	cs.handleTextChat(text)
}

// handleTextChat runs one exchange against the chat model. It blocks
// the read loop; a chat client has nothing else in flight meanwhile.
func (cs *ClientSession) handleTextChat(text string) {
	if cs.chat == nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeSessionFailed, "text chat unavailable"))
		return
	}

	userMsg := messages.ChatMessage{Role: messages.RoleUser, Text: text}
	cs.queueMessage(messages.NewChatMessage(cs.ID, userMsg))

	cs.mu.RLock()
	history := make([]messages.ChatMessage, len(cs.chatHistory))
	copy(history, cs.chatHistory)
	cs.mu.RUnlock()

	ctx, cancel := context.WithTimeout(cs.ctx, chatTimeout)
	defer cancel()

	reply, err := cs.chat(ctx, history, text)
	if err != nil {
		serr := classify(err, ErrorConnection)
		metrics.SessionErrors.WithLabelValues(serr.Kind.String()).Inc()
		log.Error().Err(err).Str("session", cs.ID).Msg("chat generation failed")
		cs.queueMessage(messages.NewErrorMessage(cs.ID, errorCode(serr), serr.UserMessage()))
		return
	}
	reply.Role = messages.RoleModel

	cs.mu.Lock()
	cs.chatHistory = append(cs.chatHistory, userMsg, reply)
	cs.mu.Unlock()

	cs.queueMessage(messages.NewChatMessage(cs.ID, reply))
	cs.speakReply(reply)
}

// speakReply attaches synthesized audio to a text-mode reply when a
// synthesizer is available. Failures only cost the audio.
func (cs *ClientSession) speakReply(reply messages.ChatMessage) {
	if cs.synth == nil {
		return
	}
	speech := reply.Speech
	if speech == "" {
		speech = messages.StripRuby(reply.Text)
	}
	if speech == "" {
		return
	}

	ctx, cancel := context.WithTimeout(cs.ctx, chatTimeout)
	defer cancel()

	pcm, err := cs.synth(ctx, speech)
	if err != nil {
		log.Debug().Err(err).Str("session", cs.ID).Msg("reply synthesis failed")
		return
	}
	cs.queueMessage(messages.NewAudioMessage(cs.ID, base64.StdEncoding.EncodeToString(pcm)))
}

// Close tears the session down exactly once: stop accepting writes,
// cancel in-flight work, stop the controller, close the socket.
func (cs *ClientSession) Close() {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	cs.mu.Unlock()

	cs.cancel()
	close(cs.writeChan)
	close(cs.CloseChan)
	cs.buffer.Clear()
	if cs.Controller != nil {
		cs.Controller.Stop()
	}
	_ = cs.ClientConn.Close()

	log.Info().Str("session", cs.ID).Msg("session closed")
}
