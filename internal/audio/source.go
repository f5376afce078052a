package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// DefaultFrameDuration is the capture chunk size used by file sources.
const DefaultFrameDuration = 20 * time.Millisecond

// Source produces captured frames. Next returns io.EOF when capture ends.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// ChanSource is fed by a transport, e.g. a browser websocket.
type ChanSource struct {
	frames    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func NewChanSource(buffer int) *ChanSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSource{frames: make(chan Frame, buffer), done: make(chan struct{})}
}

// Push queues a frame without blocking. It reports false when the frame was
// dropped because the queue is full or the source is closed.
func (s *ChanSource) Push(f Frame) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

func (s *ChanSource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ChanSource) Next(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		return Frame{}, io.EOF
	}
}

// PCMSource replays a PCM buffer in fixed frames, optionally in real time,
// followed by TrailingSilence of zeroed audio.
type PCMSource struct {
	pcm        []byte
	sampleRate int
	frame      time.Duration
	realtime   bool

	offset  int
	silence int
	next    time.Time
}

type PCMSourceOptions struct {
	FrameDuration   time.Duration
	Realtime        bool
	TrailingSilence time.Duration
}

func NewPCMSource(pcm []byte, sampleRate int, opts PCMSourceOptions) *PCMSource {
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = DefaultFrameDuration
	}
	return &PCMSource{
		pcm:        pcm,
		sampleRate: sampleRate,
		frame:      opts.FrameDuration,
		realtime:   opts.Realtime,
		silence:    BytesForDuration(opts.TrailingSilence, sampleRate),
	}
}

func (s *PCMSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	size := BytesForDuration(s.frame, s.sampleRate)
	if size <= 0 {
		return Frame{}, errors.New("pcm source: invalid frame size")
	}

	var chunk []byte
	switch {
	case s.offset < len(s.pcm):
		end := s.offset + size
		if end > len(s.pcm) {
			end = len(s.pcm)
		}
		chunk = s.pcm[s.offset:end]
		s.offset = end
	case s.silence > 0:
		n := size
		if n > s.silence {
			n = s.silence
		}
		chunk = make([]byte, n)
		s.silence -= n
	default:
		return Frame{}, io.EOF
	}

	if s.realtime {
		if s.next.IsZero() {
			s.next = time.Now()
		}
		s.next = s.next.Add(PCMDuration(len(chunk), s.sampleRate))
		if wait := time.Until(s.next); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Frame{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return Frame{PCM: chunk, SampleRate: s.sampleRate, Direction: Captured, At: time.Now()}, nil
}
