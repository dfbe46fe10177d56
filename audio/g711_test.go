package audio

import (
	"encoding/binary"
	"testing"
)

func TestMuLawRoundTrip(t *testing.T) {
	// Mu-law is lossy; error grows with magnitude. Check the relative error
	// stays within the codec's step size across the range.
	samples := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000}

	for _, s := range samples {
		got := DecodeMuLawSample(EncodeMuLawSample(s))
		diff := int32(got) - int32(s)
		if diff < 0 {
			diff = -diff
		}
		// Worst-case quantization interval for the top segment.
		if diff > 1024 {
			t.Errorf("round trip %d -> %d, diff %d too large", s, got, diff)
		}
	}
}

func TestMuLawSilence(t *testing.T) {
	// 0xFF is the mu-law encoding of silence.
	if got := EncodeMuLawSample(0); got != 0xFF {
		t.Errorf("EncodeMuLawSample(0) = %#x, want 0xff", got)
	}
	if got := DecodeMuLawSample(0xFF); got != 0 {
		t.Errorf("DecodeMuLawSample(0xff) = %d, want 0", got)
	}
}

func TestMuLawToPCM16k(t *testing.T) {
	muLaw := []byte{0xFF, 0x00, 0x7F}

	pcm := MuLawToPCM16k(muLaw)
	if len(pcm) != len(muLaw)*4 {
		t.Fatalf("output length = %d, want %d", len(pcm), len(muLaw)*4)
	}

	// Each input byte becomes two identical samples.
	for i := range muLaw {
		a := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		b := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		if a != b {
			t.Errorf("byte %d: duplicated samples differ: %d vs %d", i, a, b)
		}
		if want := DecodeMuLawSample(muLaw[i]); a != want {
			t.Errorf("byte %d: decoded %d, want %d", i, a, want)
		}
	}
}

func TestPCM24kToMuLaw8k(t *testing.T) {
	// 9 samples at 24kHz -> 3 samples at 8kHz.
	pcm := make([]byte, 18)
	for i := 0; i < 9; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i*1000)))
	}

	muLaw := PCM24kToMuLaw8k(pcm)
	if len(muLaw) != 3 {
		t.Fatalf("output length = %d, want 3", len(muLaw))
	}

	// Every third sample survives.
	for i, want := range []int16{0, 3000, 6000} {
		got := DecodeMuLawSample(muLaw[i])
		diff := int32(got) - int32(want)
		if diff < 0 {
			diff = -diff
		}
		if diff > 256 {
			t.Errorf("sample %d: decoded %d, want ~%d", i, got, want)
		}
	}
}
