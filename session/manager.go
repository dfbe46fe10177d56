package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/kaiwalabs/kaiwa/audio"
	"github.com/kaiwalabs/kaiwa/config"
	"github.com/kaiwalabs/kaiwa/functions"
	"github.com/kaiwalabs/kaiwa/gemini"
	"github.com/kaiwalabs/kaiwa/messages"
	"github.com/kaiwalabs/kaiwa/metrics"
	"github.com/kaiwalabs/kaiwa/playback"
	"github.com/kaiwalabs/kaiwa/tts"
)

// Manager owns every connected session: browser clients and phone
// calls. It shares one Gemini API client and one TTS cache across all
// of them and mirrors the session registry into Redis when available.
type Manager struct {
	sessions map[string]*ClientSession
	phones   map[string]*PhoneSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	client   *genai.Client
	chat     *gemini.ChatClient
	tts      *tts.Cache
}

// NewManager creates a session manager. Redis is optional; when the
// ping fails the registry is kept in memory only.
func NewManager(cfg *config.Config) (*Manager, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, session registry is in-memory only")
		redisClient = nil
	}

	client, err := gemini.NewAPIClient(context.Background(), cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Manager{
		sessions: make(map[string]*ClientSession),
		phones:   make(map[string]*PhoneSession),
		redis:    redisClient,
		config:   cfg,
		client:   client,
		chat:     gemini.NewChatClient(client, cfg.ChatModel),
		tts:      tts.NewCache(gemini.NewSynthesizer(client, cfg.LiveModel, cfg.Voice), redisClient, cfg.TTSCacheTTL),
	}, nil
}

// WarmCache pre-synthesizes the tutor's stock phrases so the first
// session does not pay for them.
func (sm *Manager) WarmCache(ctx context.Context) {
	sm.tts.Warm(ctx, []string{GreetingLine})
}

// CreateSession creates a new browser client session.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions)+len(sm.phones) >= sm.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sessionID := uuid.New().String()
	format, _ := messages.ParseFormat(sm.config.ResponseFormat)
	opts := SessionOptions{
		Level:  sm.config.ProficiencyLevel,
		Voice:  sm.config.Voice,
		Format: format,
	}

	cs := newClientSession(sessionID, clientConn, sm.config.MaxBufferSize, sm.config.KeepAlivePeriod, opts)
	sched := playback.NewScheduler(&wsSink{session: cs}, audio.PlaybackFormat, nil)
	ctrl := NewController(Config{
		ID:          sessionID,
		Format:      format,
		OpeningText: OpeningText,
	}, sm.liveDialer(cs.Options), cs.source, sched, cs.controllerCallbacks())
	cs.attach(ctrl, sm.chatFunc(cs.Options), sm.tts.Get)

	sm.sessions[sessionID] = cs
	sm.storeSession(ctx, sessionID, "web", cs.CreatedAt)
	return cs, nil
}

// CreatePhoneSession creates a session for an inbound voice call.
func (sm *Manager) CreatePhoneSession(ctx context.Context, clientConn *websocket.Conn) (*PhoneSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions)+len(sm.phones) >= sm.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sessionID := uuid.New().String()
	format, _ := messages.ParseFormat(sm.config.ResponseFormat)
	opts := SessionOptions{
		Level:  sm.config.ProficiencyLevel,
		Voice:  sm.config.Voice,
		Format: format,
	}

	ps := newPhoneSession(sessionID, clientConn)
	sched := playback.NewScheduler(&phoneSink{session: ps}, audio.PlaybackFormat, nil)
	ctrl := NewController(Config{
		ID:          sessionID,
		Format:      format,
		OpeningText: OpeningText,
	}, sm.liveDialer(func() SessionOptions { return opts }), ps.source, sched, ps.controllerCallbacks())
	ps.attach(ctrl)

	sm.phones[sessionID] = ps
	sm.storeSession(ctx, sessionID, "phone", ps.CreatedAt)
	return ps, nil
}

// liveDialer builds the controller's dial hook. Options are read at
// dial time so config messages sent before start take effect.
func (sm *Manager) liveDialer(opts func() SessionOptions) Dialer {
	return func(ctx context.Context) (Transport, error) {
		o := opts()
		transport, err := gemini.DialWithClient(ctx, sm.client, gemini.LiveConfig{
			Model:               sm.config.LiveModel,
			Voice:               o.Voice,
			SystemInstruction:   BuildSystemInstruction(sm.config.TargetLanguage, sm.config.NativeLanguage, o.Level, o.Format),
			Tools:               functions.Declarations(),
			InputTranscription:  true,
			OutputTranscription: true,
		})
		if err != nil {
			return nil, err
		}
		return transport, nil
	}
}

// chatFunc builds the text-mode exchange used when no live session is
// running. A reply that does not match the format is kept as raw text.
func (sm *Manager) chatFunc(opts func() SessionOptions) ChatFunc {
	return func(ctx context.Context, history []messages.ChatMessage, userText string) (messages.ChatMessage, error) {
		o := opts()
		instruction := BuildSystemInstruction(sm.config.TargetLanguage, sm.config.NativeLanguage, o.Level, o.Format)
		raw, err := sm.chat.Generate(ctx, instruction, history, userText)
		if err != nil {
			return messages.ChatMessage{}, err
		}
		msg, perr := messages.ParseResponse(raw, o.Format)
		if perr != nil {
			metrics.ParseFallbacks.Inc()
			log.Debug().Err(perr).Msg("chat reply kept as raw text")
		}
		return msg, nil
	}
}

// storeSession mirrors session metadata into Redis.
func (sm *Manager) storeSession(ctx context.Context, sessionID, kind string, createdAt time.Time) {
	if sm.redis == nil {
		return
	}
	sm.redis.HSet(ctx, "session:"+sessionID, map[string]interface{}{
		"created_at":    createdAt.Format(time.RFC3339),
		"last_activity": createdAt.Format(time.RFC3339),
		"status":        "active",
		"kind":          kind,
	})
	sm.redis.SAdd(ctx, "active_sessions", sessionID)
	sm.redis.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
}

func (sm *Manager) dropSessionKeys(ctx context.Context, sessionID string) {
	if sm.redis == nil {
		return
	}
	sm.redis.Del(ctx, "session:"+sessionID)
	sm.redis.SRem(ctx, "active_sessions", sessionID)
}

// GetSession retrieves a browser session by ID.
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session of either kind.
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if session, exists := sm.sessions[sessionID]; exists {
		session.Close()
		delete(sm.sessions, sessionID)
		sm.dropSessionKeys(ctx, sessionID)
		return nil
	}
	if phone, exists := sm.phones[sessionID]; exists {
		phone.Close()
		delete(sm.phones, sessionID)
		sm.dropSessionKeys(ctx, sessionID)
	}
	return nil
}

// GetActiveSessionCount returns the current session count.
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions) + len(sm.phones)
}

// CleanupInactiveSessions removes sessions with no client activity for
// longer than the configured timeout.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastSeen()) > sm.config.SessionTimeout {
			log.Info().Str("session", id).Msg("closing inactive session")
			session.Close()
			delete(sm.sessions, id)
			sm.dropSessionKeys(ctx, id)
		}
	}
	for id, phone := range sm.phones {
		if now.Sub(phone.LastSeen()) > sm.config.SessionTimeout {
			log.Info().Str("session", id).Msg("closing inactive phone session")
			phone.Close()
			delete(sm.phones, id)
			sm.dropSessionKeys(ctx, id)
		}
	}
}

// StartCleanupRoutine runs periodic cleanup of inactive sessions.
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions and the Redis connection.
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		session.Close()
		delete(sm.sessions, id)
	}
	for id, phone := range sm.phones {
		phone.Close()
		delete(sm.phones, id)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
