// Package playback schedules decoded model audio onto an output sink so
// consecutive chunks play back to back without gaps.
package playback

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/audio"
)

// Clock abstracts time for the scheduler. Tests substitute a fake.
type Clock interface {
	// Now reports the time elapsed since the clock was created.
	Now() time.Duration
	// AfterFunc runs f on its own goroutine after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

type realClock struct {
	epoch time.Time
}

// NewClock returns a Clock backed by the system timer.
func NewClock() Clock {
	return &realClock{epoch: time.Now()}
}

func (c *realClock) Now() time.Duration { return time.Since(c.epoch) }

func (c *realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Sink receives PCM ready for playback. Play must not block for long;
// sinks that write to slow devices should hand off to their own pump.
type Sink interface {
	Play(pcm []byte) error
}

// Flusher is implemented by sinks that can discard audio they have
// already accepted but not yet played.
type Flusher interface {
	FlushPlayback()
}

// Scheduler keeps a playback cursor and assigns each chunk a start time
// of max(cursor, now), then advances the cursor by the chunk duration.
// Chunks are handed to the sink as they arrive; the cursor arithmetic
// tracks when audible playback ends.
type Scheduler struct {
	// OnDrain, if set, is called whenever in-flight playback reaches
	// zero, either because the last chunk finished or because Flush
	// discarded pending audio. Set it before the first Enqueue.
	OnDrain func()

	mu        sync.Mutex
	clock     Clock
	sink      Sink
	format    audio.Format
	nextStart time.Duration
	active    map[int64]Timer
	nextID    int64
}

// NewScheduler returns a scheduler for the given sink and PCM format.
// A nil clock selects the system clock.
func NewScheduler(sink Sink, format audio.Format, clock Clock) *Scheduler {
	if clock == nil {
		clock = NewClock()
	}
	return &Scheduler{
		clock:  clock,
		sink:   sink,
		format: format,
		active: make(map[int64]Timer),
	}
}

// Enqueue schedules pcm for playback and returns its start time on the
// scheduler clock. Empty input is skipped and the cursor does not move.
func (s *Scheduler) Enqueue(pcm []byte) time.Duration {
	s.mu.Lock()
	if len(pcm) == 0 {
		start := s.nextStart
		s.mu.Unlock()
		return start
	}

	now := s.clock.Now()
	start := s.nextStart
	if now > start {
		start = now
	}
	dur := s.format.Duration(len(pcm))
	s.nextStart = start + dur

	id := s.nextID
	s.nextID++
	s.active[id] = s.clock.AfterFunc(s.nextStart-now, func() { s.finish(id) })
	sink := s.sink
	s.mu.Unlock()

	if err := sink.Play(pcm); err != nil {
		log.Warn().Err(err).Msg("playback sink rejected chunk")
	}
	return start
}

func (s *Scheduler) finish(id int64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		// Flushed while the timer was firing.
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	drained := len(s.active) == 0
	cb := s.OnDrain
	s.mu.Unlock()

	if drained && cb != nil {
		cb()
	}
}

// Flush discards all pending playback and resets the cursor to zero, so
// the next chunk starts immediately. Safe to call at any time, in any
// order, including before the first Enqueue.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	hadActive := len(s.active) > 0
	for id, t := range s.active {
		t.Stop()
		delete(s.active, id)
	}
	s.nextStart = 0
	sink := s.sink
	cb := s.OnDrain
	s.mu.Unlock()

	if f, ok := sink.(Flusher); ok {
		f.FlushPlayback()
	}
	if hadActive && cb != nil {
		cb()
	}
}

// ActiveCount reports how many chunks are still playing or pending.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor reports the time at which the next enqueued chunk would start,
// assuming it arrives before current playback ends.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}
