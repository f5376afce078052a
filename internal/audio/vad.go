package audio

import "math"

// RMSEnergy computes the root-mean-square energy of PCM16LE audio in [0, 1].
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// Classifier decides whether a captured buffer contains speech.
type Classifier interface {
	IsSpeech(pcm []byte) bool
}

// EnergyVAD is a threshold classifier over RMS energy.
type EnergyVAD struct {
	Threshold float64
}

func NewEnergyVAD(threshold float64) EnergyVAD {
	if threshold <= 0 {
		threshold = 0.02
	}
	return EnergyVAD{Threshold: threshold}
}

func (v EnergyVAD) IsSpeech(pcm []byte) bool {
	return RMSEnergy(pcm) >= v.Threshold
}
