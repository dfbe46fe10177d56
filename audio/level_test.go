package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

// sineTone builds one second of PCM16LE sine wave at the given amplitude.
func sineTone(sampleRate int, freq float64, amplitude float64) []byte {
	pcm := make([]byte, sampleRate*2)
	for i := 0; i < sampleRate; i++ {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}
	return pcm
}

func TestRMSLevelSilence(t *testing.T) {
	if got := RMSLevel(make([]byte, 1024)); got != 0 {
		t.Errorf("RMSLevel(silence) = %v, want 0", got)
	}
	if got := RMSLevel(nil); got != 0 {
		t.Errorf("RMSLevel(nil) = %v, want 0", got)
	}
}

func TestRMSLevelSine(t *testing.T) {
	pcm := sineTone(16000, 440, 0.5)

	// RMS of a sine wave is amplitude/sqrt(2).
	want := 0.5 / math.Sqrt2
	got := RMSLevel(pcm)
	if math.Abs(got-want) > 0.01 {
		t.Errorf("RMSLevel = %v, want ~%v", got, want)
	}
}

func TestPeakLevel(t *testing.T) {
	pcm := sineTone(16000, 440, 0.8)

	got := PeakLevel(pcm)
	if math.Abs(got-0.8) > 0.01 {
		t.Errorf("PeakLevel = %v, want ~0.8", got)
	}

	if got := PeakLevel(nil); got != 0 {
		t.Errorf("PeakLevel(nil) = %v, want 0", got)
	}
}
