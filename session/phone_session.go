package session

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/audio"
	"github.com/kaiwalabs/kaiwa/messages"
)

// Twilio media stream envelopes, reduced to the fields we consume.
type twilioEnvelope struct {
	Event string       `json:"event"`
	Start *twilioStart `json:"start,omitempty"`
	Media *twilioMedia `json:"media,omitempty"`
}

type twilioStart struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid"`
}

type twilioMedia struct {
	Payload string `json:"payload"` // base64 mu-law at 8 kHz
}

// twilioClear asks Twilio to drop any outbound audio it has buffered.
type twilioClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// PhoneSession bridges a Twilio media stream to a session controller.
// Caller audio arrives as 8 kHz mu-law and tutor audio leaves the same
// way; both directions are transcoded at this boundary.
type PhoneSession struct {
	ID         string
	ClientConn *websocket.Conn
	Controller *Controller
	CreatedAt  time.Time

	source *remoteSource

	writeChan chan []byte
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	mu           sync.RWMutex
	closed       bool
	streamSid    string
	lastActivity time.Time
}

func newPhoneSession(id string, conn *websocket.Conn) *PhoneSession {
	ctx, cancel := context.WithCancel(context.Background())

	conn.SetReadLimit(maxMessageSize)
	// Twilio does not negotiate WebSocket compression.
	conn.EnableWriteCompression(false)

	return &PhoneSession{
		ID:           id,
		ClientConn:   conn,
		CreatedAt:    time.Now(),
		source:       newRemoteSource(),
		writeChan:    make(chan []byte, writeBufferSize),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		lastActivity: time.Now(),
	}
}

func (ps *PhoneSession) attach(ctrl *Controller) {
	ps.Controller = ctrl
}

// Start launches the write pump and the Twilio event loop. The live
// session starts when Twilio sends its "start" event.
func (ps *PhoneSession) Start() {
	go ps.writePump()
	go ps.handleTwilioMessages()
}

// StreamSid returns the Twilio stream identifier, empty until the
// "start" event arrives.
func (ps *PhoneSession) StreamSid() string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.streamSid
}

func (ps *PhoneSession) setStreamSid(sid string) {
	ps.mu.Lock()
	ps.streamSid = sid
	ps.mu.Unlock()
}

// LastSeen reports the time of the last caller activity.
func (ps *PhoneSession) LastSeen() time.Time {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.lastActivity
}

func (ps *PhoneSession) touch() {
	ps.mu.Lock()
	ps.lastActivity = time.Now()
	ps.mu.Unlock()
}

// controllerCallbacks logs what a browser client would display. A
// caller only ever hears the audio path.
func (ps *PhoneSession) controllerCallbacks() Callbacks {
	return Callbacks{
		OnState: func(s State) {
			log.Debug().Str("session", ps.ID).Str("state", s.String()).Msg("phone session state")
		},
		OnMessage: func(m messages.ChatMessage) {
			log.Debug().Str("session", ps.ID).Str("role", string(m.Role)).Str("text", m.Text).Msg("phone turn")
		},
		OnError: func(serr *Error) {
			log.Error().Err(serr.Err).Str("session", ps.ID).Str("kind", serr.Kind.String()).Msg("phone session error")
		},
	}
}

func (ps *PhoneSession) queueMessage(msg any) {
	data, err := messages.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("session", ps.ID).Msg("message encode failed")
		return
	}

	ps.mu.RLock()
	defer ps.mu.RUnlock()
	if ps.closed {
		return
	}
	select {
	case ps.writeChan <- data:
	default:
		log.Warn().Str("session", ps.ID).Msg("write queue full, dropping media")
	}
}

func (ps *PhoneSession) sendClear() {
	sid := ps.StreamSid()
	if sid == "" {
		return
	}
	ps.queueMessage(twilioClear{Event: "clear", StreamSid: sid})
}

func (ps *PhoneSession) writePump() {
	defer func() {
		_ = ps.ClientConn.Close()
	}()

	for {
		select {
		case <-ps.CloseChan:
			return
		case data, ok := <-ps.writeChan:
			if !ok {
				return
			}
			if !ps.writeFrame(data) {
				return
			}
			for n := len(ps.writeChan); n > 0; n-- {
				data, ok := <-ps.writeChan
				if !ok {
					return
				}
				if !ps.writeFrame(data) {
					return
				}
			}
		}
	}
}

func (ps *PhoneSession) writeFrame(data []byte) bool {
	_ = ps.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ps.ClientConn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Str("session", ps.ID).Msg("phone write failed")
		return false
	}
	return true
}

// handleTwilioMessages consumes stream events until the call ends.
func (ps *PhoneSession) handleTwilioMessages() {
	defer ps.Close()

	for {
		_, data, err := ps.ClientConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("session", ps.ID).Msg("phone connection lost")
			}
			return
		}
		ps.touch()

		var env twilioEnvelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("session", ps.ID).Msg("unparseable stream event")
			continue
		}

		switch env.Event {
		case "connected":
			log.Info().Str("session", ps.ID).Msg("phone stream connected")
		case "start":
			if env.Start != nil {
				ps.setStreamSid(env.Start.StreamSid)
				log.Info().Str("session", ps.ID).Str("streamSid", env.Start.StreamSid).Msg("phone stream started")
			}
			ps.Controller.Start(ps.ctx)
		case "media":
			if env.Media == nil {
				continue
			}
			muLaw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
			if err != nil {
				log.Debug().Err(err).Str("session", ps.ID).Msg("bad media payload")
				continue
			}
			ps.source.Push(audio.MuLawToPCM16k(muLaw))
		case "stop":
			log.Info().Str("session", ps.ID).Msg("phone stream stopped")
			return
		case "mark":
			// Playback progress marks; nothing to do.
		default:
			log.Debug().Str("session", ps.ID).Str("event", env.Event).Msg("unhandled stream event")
		}
	}
}

// Close tears the call down exactly once.
func (ps *PhoneSession) Close() {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return
	}
	ps.closed = true
	ps.mu.Unlock()

	ps.cancel()
	close(ps.writeChan)
	close(ps.CloseChan)
	if ps.Controller != nil {
		ps.Controller.Stop()
	}
	_ = ps.ClientConn.Close()

	log.Info().Str("session", ps.ID).Msg("phone session closed")
}

// phoneSink transcodes scheduled playback into Twilio media events.
type phoneSink struct {
	session *PhoneSession
}

func (s *phoneSink) Play(pcm []byte) error {
	sid := s.session.StreamSid()
	if sid == "" {
		return nil
	}
	muLaw := audio.PCM24kToMuLaw8k(pcm)
	s.session.queueMessage(messages.NewTwilioMessageBack(sid, base64.StdEncoding.EncodeToString(muLaw)))
	return nil
}

func (s *phoneSink) FlushPlayback() {
	s.session.sendClear()
}
