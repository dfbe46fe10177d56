package audio

import "math"

// RMSLevel returns the root-mean-square energy of a PCM16LE buffer,
// normalized to [0, 1]. Used for input metering and speech heuristics.
func RMSLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// PeakLevel returns the peak amplitude of a PCM16LE buffer, normalized
// to [0, 1].
func PeakLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	var peak float64
	for i := 0; i < n; i++ {
		sample := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		v := math.Abs(float64(sample) / 32768.0)
		if v > peak {
			peak = v
		}
	}
	return peak
}
