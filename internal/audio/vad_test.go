package audio

import (
	"testing"
	"time"
)

func TestRMSEnergy(t *testing.T) {
	if got := RMSEnergy(nil); got != 0 {
		t.Fatalf("RMSEnergy(nil) = %v, want 0", got)
	}
	if got := RMSEnergy(silencePCM(20*time.Millisecond, 16000)); got != 0 {
		t.Fatalf("RMSEnergy(silence) = %v, want 0", got)
	}
	loud := RMSEnergy(tonePCM(20*time.Millisecond, 16000, 0.5))
	if loud < 0.3 || loud > 0.4 {
		t.Fatalf("RMSEnergy(tone 0.5) = %v, want about 0.35", loud)
	}
}

func TestEnergyVADDefaultsThreshold(t *testing.T) {
	v := NewEnergyVAD(0)
	if v.Threshold != 0.02 {
		t.Fatalf("threshold = %v, want 0.02", v.Threshold)
	}
	if v.IsSpeech(tonePCM(20*time.Millisecond, 16000, 0.01)) {
		t.Fatalf("quiet tone classified as speech")
	}
	if !v.IsSpeech(tonePCM(20*time.Millisecond, 16000, 0.3)) {
		t.Fatalf("loud tone not classified as speech")
	}
}
