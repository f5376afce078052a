package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// tonePCM returns a sine wave at amplitude amp (0..1).
func tonePCM(d time.Duration, sampleRate int, amp float64) []byte {
	n := BytesForDuration(d, sampleRate) / 2
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

func silencePCM(d time.Duration, sampleRate int) []byte {
	return make([]byte, BytesForDuration(d, sampleRate))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
