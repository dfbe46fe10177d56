package audio

import (
	"bytes"
	"errors"
	"testing"
)

func TestChunkBufferAppendDrain(t *testing.T) {
	buf := NewChunkBuffer(1024)

	chunks := [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	}
	for _, c := range chunks {
		if err := buf.Append(c); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if got, want := buf.ChunkCount(), 3; got != want {
		t.Errorf("ChunkCount() = %d, want %d", got, want)
	}
	if got, want := buf.Size(), 16; got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}

	got := buf.Drain()
	want := []byte("firstsecondthird")
	if !bytes.Equal(got, want) {
		t.Errorf("Drain() = %q, want %q", got, want)
	}

	if !buf.IsEmpty() {
		t.Error("buffer not empty after Drain")
	}
	if got := buf.Drain(); got != nil {
		t.Errorf("Drain() on empty buffer = %v, want nil", got)
	}
}

func TestChunkBufferFull(t *testing.T) {
	buf := NewChunkBuffer(8)

	if err := buf.Append([]byte("12345678")); err != nil {
		t.Fatalf("Append at capacity: %v", err)
	}
	err := buf.Append([]byte("x"))
	if !errors.Is(err, ErrBufferFull) {
		t.Errorf("Append past capacity = %v, want ErrBufferFull", err)
	}

	// The rejected chunk must not change the contents.
	if got, want := buf.Size(), 8; got != want {
		t.Errorf("Size() after rejected append = %d, want %d", got, want)
	}
}

func TestChunkBufferClear(t *testing.T) {
	buf := NewChunkBuffer(64)
	if err := buf.Append([]byte("data")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	buf.Clear()

	if !buf.IsEmpty() {
		t.Error("buffer not empty after Clear")
	}
	if got := buf.Size(); got != 0 {
		t.Errorf("Size() after Clear = %d, want 0", got)
	}

	// Cleared space is reusable.
	if err := buf.Append([]byte("again")); err != nil {
		t.Errorf("Append after Clear: %v", err)
	}
}
