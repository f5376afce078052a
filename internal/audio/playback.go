package audio

import (
	"errors"
	"sync"
	"time"
)

// drainGrace is how long after the last delivered sample an item still
// counts as audible.
const drainGrace = 300 * time.Millisecond

// Sink receives synthesized audio for playback.
type Sink interface {
	Write(f Frame) error
	// Stop discards anything queued for the item and silences output now.
	Stop(itemID string) error
}

// Truncation describes a barge-in cut of one assistant item.
type Truncation struct {
	ItemID string
	Played time.Duration
}

type playbackItem struct {
	id        string
	started   time.Time
	delivered time.Duration
	truncated bool
}

// Playback tracks assistant items handed to a Sink. Calls must come from a
// single goroutine.
type Playback struct {
	sink       Sink
	sampleRate int
	now        func() time.Time

	items   map[string]*playbackItem
	current *playbackItem
}

func NewPlayback(sink Sink, sampleRate int, now func() time.Time) *Playback {
	if now == nil {
		now = time.Now
	}
	return &Playback{
		sink:       sink,
		sampleRate: sampleRate,
		now:        now,
		items:      make(map[string]*playbackItem),
	}
}

// Begin marks itemID as the assistant item now speaking.
func (p *Playback) Begin(itemID string) {
	item := p.item(itemID)
	if !item.truncated {
		p.current = item
	}
}

// Play writes one delta. It returns false when the item was truncated and
// the delta was discarded.
func (p *Playback) Play(itemID string, pcm []byte) (bool, error) {
	item := p.item(itemID)
	if item.truncated {
		return false, nil
	}
	if item.started.IsZero() {
		item.started = p.now()
	}
	p.current = item
	d := PCMDuration(len(pcm), p.sampleRate)
	item.delivered += d
	if p.sink == nil {
		return true, nil
	}
	return true, p.sink.Write(Frame{
		PCM:        pcm,
		SampleRate: p.sampleRate,
		Direction:  Synthesized,
		ItemID:     itemID,
		At:         p.now(),
	})
}

// Active reports the item still audible to the user, if any.
func (p *Playback) Active() (string, bool) {
	if p.current == nil || p.current.truncated || p.current.started.IsZero() {
		return "", false
	}
	if p.now().Sub(p.current.started) > p.current.delivered+drainGrace {
		return "", false
	}
	return p.current.id, true
}

// Interrupt stops the active item and reports how much of it was heard.
// Each item is interrupted at most once.
func (p *Playback) Interrupt() (Truncation, bool, error) {
	id, ok := p.Active()
	if !ok {
		return Truncation{}, false, nil
	}
	item := p.current
	item.truncated = true
	p.current = nil

	played := p.now().Sub(item.started)
	if played > item.delivered {
		played = item.delivered
	}
	if played < 0 {
		played = 0
	}
	var err error
	if p.sink != nil {
		err = p.sink.Stop(id)
	}
	return Truncation{ItemID: id, Played: played}, true, err
}

// Close stops whatever is playing without recording a truncation.
func (p *Playback) Close() error {
	if p.current == nil || p.sink == nil {
		p.current = nil
		return nil
	}
	id := p.current.id
	p.current = nil
	return p.sink.Stop(id)
}

func (p *Playback) item(id string) *playbackItem {
	item, ok := p.items[id]
	if !ok {
		item = &playbackItem{id: id}
		p.items[id] = item
	}
	return item
}

// BufferSink collects synthesized audio in memory.
type BufferSink struct {
	mu      sync.Mutex
	pcm     []byte
	stopped []string
	closed  bool
}

var ErrSinkClosed = errors.New("audio sink closed")

func (s *BufferSink) Write(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.pcm = append(s.pcm, f.PCM...)
	return nil
}

func (s *BufferSink) Stop(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, itemID)
	return nil
}

func (s *BufferSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *BufferSink) PCM() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.pcm))
	copy(out, s.pcm)
	return out
}

func (s *BufferSink) Stopped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.stopped))
	copy(out, s.stopped)
	return out
}
