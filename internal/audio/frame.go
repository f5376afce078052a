package audio

import "time"

// Direction tells whether a frame came from the microphone or the model.
type Direction string

const (
	Captured    Direction = "captured"
	Synthesized Direction = "synthesized"
)

// Frame is a timestamped mono PCM16LE buffer.
type Frame struct {
	PCM        []byte
	SampleRate int
	Direction  Direction
	ItemID     string
	At         time.Time
}

// Duration is the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return PCMDuration(len(f.PCM), f.SampleRate)
}

// PCMDuration converts a PCM16 mono byte count to a duration.
func PCMDuration(bytes, sampleRate int) time.Duration {
	if sampleRate <= 0 || bytes <= 0 {
		return 0
	}
	samples := bytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesForDuration is the PCM16 mono byte count covering d.
func BytesForDuration(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return samples * 2
}
