package audio

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestWAVRoundTrip(t *testing.T) {
	pcm := tonePCM(30*time.Millisecond, 24000, 0.4)
	path := filepath.Join(t.TempDir(), "out.wav")
	if err := WriteWAVPCM16LEFile(path, pcm, 24000); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, rate, err := ReadWAVPCM16LEFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d", rate)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("pcm mismatch: %d vs %d bytes", len(got), len(pcm))
	}
}

func TestDecodeWAVRejectsStereo(t *testing.T) {
	wav, err := EncodeWAVPCM16LE([]byte{0, 0, 0, 0}, 16000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	wav[22] = 2 // channel count
	if _, _, err := DecodeWAVPCM16LE(bytes.NewReader(wav)); !errors.Is(err, ErrUnsupportedWAV) {
		t.Fatalf("err = %v, want ErrUnsupportedWAV", err)
	}
}

func TestResamplePCM16Length(t *testing.T) {
	pcm := tonePCM(100*time.Millisecond, 16000, 0.3)
	out := ResamplePCM16(pcm, 16000, 24000)
	if want := BytesForDuration(100*time.Millisecond, 24000); len(out) != want {
		t.Fatalf("resampled len = %d, want %d", len(out), want)
	}
	if same := ResamplePCM16(pcm, 16000, 16000); len(same) != len(pcm) {
		t.Fatalf("identity resample changed length")
	}
}
