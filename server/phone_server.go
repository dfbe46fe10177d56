package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/config"
	"github.com/kaiwalabs/kaiwa/session"
)

// PhoneServer accepts inbound Twilio voice calls: /voice answers the
// call with TwiML that opens a media stream back to /stream.
type PhoneServer struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
}

func NewServerPhone(cfg *config.Config, sessionManager *session.Manager) *PhoneServer {
	s := &PhoneServer{
		sessionManager: sessionManager,
		config:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Twilio doesn't support WebSocket compression
			EnableCompression: false,
			CheckOrigin: func(r *http.Request) bool {
				// Twilio connections don't send browser Origin headers.
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/voice", s.handleVoiceCall)
	mux.HandleFunc("/health", s.handleHealth)

	// When running as the standalone phone server, use the main port.
	port := cfg.PhonePort
	if cfg.ServerType == "phone" {
		port = cfg.Port
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
		// No ReadTimeout/WriteTimeout — these interfere with long-lived
		// WebSocket connections. The WebSocket layer handles its own
		// timeouts via SetWriteDeadline/SetReadDeadline.
	}

	return s
}

// Start begins listening for connections.
func (s *PhoneServer) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Str("stream", "/stream").Str("voice", "/voice").Msg("phone server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *PhoneServer) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down phone server")
	return s.httpServer.Shutdown(ctx)
}

func (s *PhoneServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("phone stream upgrade failed")
		return
	}

	phoneSession, err := s.sessionManager.CreatePhoneSession(r.Context(), conn)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create phone session")
		conn.Close()
		return
	}

	log.Info().Str("session", phoneSession.ID).Msg("phone session created")
	phoneSession.Start()

	<-phoneSession.CloseChan

	_ = s.sessionManager.RemoveSession(context.Background(), phoneSession.ID)
}

func (s *PhoneServer) handleVoiceCall(w http.ResponseWriter, r *http.Request) {
	wsURL := "wss://" + r.Host + "/stream"

	// TwiML to connect the call to the media stream.
	xmlResponse := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
	<Say>Connecting you to your Japanese tutor now.</Say>
	<Connect>
		<Stream url="%s" />
	</Connect>
</Response>`, wsURL)

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(xmlResponse))
}

func (s *PhoneServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","server":"phone","sessions":%d}`, s.sessionManager.GetActiveSessionCount())
}
