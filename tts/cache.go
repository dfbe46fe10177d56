// Package tts caches synthesized tutor speech so recurring phrases
// (greetings, common corrections) do not cost a model round trip.
package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/metrics"
)

// Synthesizer turns a phrase into PCM audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Cache fronts a Synthesizer with Redis. When Redis is unavailable it
// falls back to process memory, so a cache is always usable.
type Cache struct {
	synth Synthesizer
	redis *redis.Client
	ttl   time.Duration

	mu  sync.Mutex
	mem map[string][]byte
}

// NewCache wraps synth with a cache. redisClient may be nil.
func NewCache(synth Synthesizer, redisClient *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		synth: synth,
		redis: redisClient,
		ttl:   ttl,
		mem:   make(map[string][]byte),
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "tts:" + hex.EncodeToString(sum[:])
}

// Get returns cached audio for text, synthesizing on a miss. The
// returned slice is shared; callers must not modify it.
func (c *Cache) Get(ctx context.Context, text string) ([]byte, error) {
	key := cacheKey(text)

	if pcm, ok := c.lookup(ctx, key); ok {
		metrics.TTSCacheHits.Inc()
		return pcm, nil
	}
	metrics.TTSCacheMisses.Inc()

	pcm, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, pcm)
	return pcm, nil
}

// Warm synthesizes phrases ahead of need. Failures are logged and
// skipped; warming is best effort.
func (c *Cache) Warm(ctx context.Context, phrases []string) {
	for _, phrase := range phrases {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.Get(ctx, phrase); err != nil {
			log.Warn().Err(err).Str("phrase", phrase).Msg("tts warmup failed")
		}
	}
}

func (c *Cache) lookup(ctx context.Context, key string) ([]byte, bool) {
	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			return data, true
		}
		if !errors.Is(err, redis.Nil) {
			log.Debug().Err(err).Msg("tts cache read failed")
		}
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	pcm, ok := c.mem[key]
	return pcm, ok
}

func (c *Cache) store(ctx context.Context, key string, pcm []byte) {
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, pcm, c.ttl).Err(); err != nil {
			log.Debug().Err(err).Msg("tts cache write failed")
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[key] = pcm
}
