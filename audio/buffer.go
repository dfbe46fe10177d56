package audio

import (
	"errors"
	"sync"
)

// ErrBufferFull is returned when a buffer would exceed its maximum size.
var ErrBufferFull = errors.New("audio buffer full")

// ChunkBuffer accumulates raw PCM chunks until drained. Chunks keep their
// arrival order.
type ChunkBuffer struct {
	chunks    [][]byte
	totalSize int
	maxSize   int
	mu        sync.Mutex
}

// NewChunkBuffer creates a buffer capped at maxSize bytes.
func NewChunkBuffer(maxSize int) *ChunkBuffer {
	return &ChunkBuffer{maxSize: maxSize}
}

// MaxSize returns the buffer's byte cap.
func (b *ChunkBuffer) MaxSize() int {
	return b.maxSize
}

// Append adds a chunk. Returns ErrBufferFull if the chunk would push the
// buffer past its cap.
func (b *ChunkBuffer) Append(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	newSize := b.totalSize + len(chunk)
	if newSize > b.maxSize {
		return ErrBufferFull
	}

	b.chunks = append(b.chunks, chunk)
	b.totalSize = newSize
	return nil
}

// Drain concatenates every buffered chunk in order, clears the buffer, and
// returns the combined data. Returns nil when empty.
func (b *ChunkBuffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) == 0 {
		return nil
	}

	out := make([]byte, 0, b.totalSize)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}

	b.chunks = nil
	b.totalSize = 0
	return out
}

// Clear empties the buffer without returning data.
func (b *ChunkBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.totalSize = 0
}

// Size returns the buffered byte count.
func (b *ChunkBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

// IsEmpty reports whether nothing is buffered.
func (b *ChunkBuffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks) == 0
}

// ChunkCount returns the number of buffered chunks.
func (b *ChunkBuffer) ChunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}
