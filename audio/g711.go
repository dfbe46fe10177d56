package audio

import "encoding/binary"

// G.711 mu-law companding for the telephony leg. The codec logic follows the
// Sun Microsystems reference implementation.

var muLawToPCMTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawToPCMTable[i] = DecodeMuLawSample(byte(i))
	}
}

// DecodeMuLawSample expands one mu-law byte into a linear 16-bit sample.
func DecodeMuLawSample(uVal byte) int16 {
	// Mu-law stores the byte with all bits inverted.
	uVal = ^uVal

	sign := uVal & 0x80
	exponent := (uVal >> 4) & 0x07
	mantissa := uVal & 0x0F

	// Geometric bias of 0x84 after aligning the mantissa.
	sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
	sample -= 0x84

	if sign != 0 {
		return -sample
	}
	return sample
}

// EncodeMuLawSample compands one linear 16-bit sample into a mu-law byte.
func EncodeMuLawSample(pcm int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	sign := (pcm >> 8) & 0x80
	if pcm < 0 {
		pcm = -pcm
	}
	if pcm > clip {
		pcm = clip
	}
	pcm += bias

	exponent := 7
	for mask := 0x4000; (pcm&int16(mask)) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (pcm >> (exponent + 3)) & 0x0F

	ulawByte := byte(sign | (int16(exponent) << 4) | mantissa)
	return ^ulawByte
}

// MuLawToPCM16k expands 8 kHz mu-law audio into 16 kHz PCM16LE, upsampling by
// duplicating each sample. This is the inbound telephony path.
func MuLawToPCM16k(muLaw []byte) []byte {
	// 1 mu-law byte -> 2 samples -> 4 output bytes.
	pcm := make([]byte, len(muLaw)*4)
	for i, b := range muLaw {
		v := uint16(muLawToPCMTable[b])
		binary.LittleEndian.PutUint16(pcm[i*4:], v)
		binary.LittleEndian.PutUint16(pcm[i*4+2:], v)
	}
	return pcm
}

// PCM24kToMuLaw8k downsamples 24 kHz PCM16LE to 8 kHz (every third sample)
// and compands to mu-law. This is the outbound telephony path.
func PCM24kToMuLaw8k(pcm []byte) []byte {
	samples := len(pcm) / 2
	muLaw := make([]byte, 0, samples/3+1)
	for i := 0; i < samples; i += 3 {
		offset := i * 2
		sample := int16(binary.LittleEndian.Uint16(pcm[offset : offset+2]))
		muLaw = append(muLaw, EncodeMuLawSample(sample))
	}
	return muLaw
}
