package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/audio"
)

// Microphone captures the default input device via a sox subprocess
// and yields normalized float frames.
type Microphone struct {
	format audio.Format

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func NewMicrophone(format audio.Format) *Microphone {
	return &Microphone{format: format}
}

// Start spawns the capture process. The returned channel closes when
// the device stops or the context ends.
func (m *Microphone) Start(ctx context.Context) (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil {
		return nil, errors.New("microphone already started")
	}

	cmd := exec.Command("sox",
		"-q",
		"-d",
		"-t", "raw",
		"-r", strconv.Itoa(m.format.SampleRate),
		"-b", "16",
		"-c", strconv.Itoa(m.format.Channels),
		"-e", "signed-integer",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("microphone pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("microphone start (is sox installed?): %w", err)
	}

	m.cmd = cmd
	m.stdout = stdout

	frames := make(chan []float32, 8)
	go readLoop(ctx, stdout, frames)
	return frames, nil
}

func readLoop(ctx context.Context, stdout io.Reader, frames chan<- []float32) {
	defer close(frames)

	buf := make([]byte, audio.CaptureFrameSamples*2)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(stdout, buf); err != nil {
			// EOF means the process was stopped.
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Warn().Err(err).Msg("microphone read failed")
			}
			return
		}
		select {
		case frames <- audio.DecodePCM16(buf):
		case <-ctx.Done():
			return
		}
	}
}

// Stop kills the capture process. Safe to call at any time, including
// before Start and more than once.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil {
		return nil
	}

	if m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	_ = m.cmd.Wait()
	_ = m.stdout.Close()
	m.cmd = nil
	m.stdout = nil
	return nil
}
