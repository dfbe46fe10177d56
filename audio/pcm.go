// Package audio holds the PCM formats, codecs, and buffers shared by the
// capture, transport, and playback paths.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// CaptureFrameSamples is the number of samples delivered per capture buffer
// (~256 ms at 16 kHz).
const CaptureFrameSamples = 4096

// Format describes a raw PCM16LE stream.
type Format struct {
	SampleRate int
	Channels   int
}

var (
	// CaptureFormat is what the microphone side produces and the remote
	// service expects inbound.
	CaptureFormat = Format{SampleRate: 16000, Channels: 1}

	// PlaybackFormat is what the remote service produces outbound.
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1}

	// PhoneFormat is the G.711 telephony leg.
	PhoneFormat = Format{SampleRate: 8000, Channels: 1}
)

// MIMEType returns the transport MIME descriptor, e.g. "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// BytesPerSecond returns the raw byte rate (16-bit samples).
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long n bytes of this format play for.
func (f Format) Duration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.BytesPerSecond())
}

// BytesFor returns how many bytes cover d of playback, rounded down to a
// whole sample.
func (f Format) BytesFor(d time.Duration) int {
	n := int(d * time.Duration(f.BytesPerSecond()) / time.Second)
	return n - n%2
}

// Chunk is one encoded capture buffer headed for the transport.
type Chunk struct {
	PCM    []byte
	Format Format
}

// MIMEType returns the chunk's transport MIME descriptor.
func (c Chunk) MIMEType() string { return c.Format.MIMEType() }

// Base64 returns the chunk payload in the transport's base64 encoding.
func (c Chunk) Base64() string { return base64.StdEncoding.EncodeToString(c.PCM) }

// Samples returns the sample count.
func (c Chunk) Samples() int { return len(c.PCM) / 2 }

// Duration returns the chunk's play time.
func (c Chunk) Duration() time.Duration { return c.Format.Duration(len(c.PCM)) }

// EncodeFloat32 converts normalized samples in [-1, 1] into a capture-format
// PCM16LE chunk. Values outside the range are clamped. Sample order and count
// are preserved.
func EncodeFloat32(samples []float32) Chunk {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s*32767)))
	}
	return Chunk{PCM: pcm, Format: CaptureFormat}
}

// DecodePCM16 converts PCM16LE bytes back into normalized float samples.
// A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / 32767
	}
	return samples
}
