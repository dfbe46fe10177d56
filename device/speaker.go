// Package device reaches the local microphone and speaker through sox,
// which fronts the platform audio backends.
package device

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/audio"
)

// Speaker streams PCM to the default output device via a sox
// subprocess. It satisfies the playback scheduler's sink contract.
type Speaker struct {
	format audio.Format

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

func NewSpeaker(format audio.Format) (*Speaker, error) {
	s := &Speaker{format: format}
	if err := s.spawnLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Speaker) spawnLocked() error {
	cmd := exec.Command("sox",
		"-q",
		"-t", "raw",
		"-r", strconv.Itoa(s.format.SampleRate),
		"-b", "16",
		"-c", strconv.Itoa(s.format.Channels),
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("speaker pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("speaker start (is sox installed?): %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	return nil
}

// Play queues PCM on the output device.
func (s *Speaker) Play(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stdin == nil {
		return nil
	}
	_, err := s.stdin.Write(pcm)
	return err
}

// FlushPlayback drops queued audio by restarting the sox process; its
// internal buffer cannot be cleared any other way.
func (s *Speaker) FlushPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked(true)
	if err := s.spawnLocked(); err != nil {
		log.Warn().Err(err).Msg("speaker restart failed")
	}
}

// Close lets queued audio finish playing and releases the device.
func (s *Speaker) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopLocked(false)
}

func (s *Speaker) stopLocked(kill bool) {
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil {
		if kill && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	}
	s.cmd = nil
}
