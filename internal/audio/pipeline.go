package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// PipelineConfig configures both directions of a duplex pipeline.
type PipelineConfig struct {
	SampleRate int
	Turn       TurnConfig
	Classifier Classifier
	Now        func() time.Time
}

// Pipeline couples capture-side turn detection with playback tracking.
// Capture and playback methods are called from the owning session loop;
// only the capture pump runs on its own goroutine.
type Pipeline struct {
	detector *TurnDetector
	playback *Playback

	mu      sync.Mutex
	cancel  context.CancelFunc
	pumpEnd chan struct{}
}

func NewPipeline(cfg PipelineConfig, sink Sink) *Pipeline {
	return &Pipeline{
		detector: NewTurnDetector(cfg.Turn, cfg.Classifier),
		playback: NewPlayback(sink, cfg.SampleRate, cfg.Now),
	}
}

// StartCapture pumps frames from src into deliver until src ends, ctx is
// cancelled, StopCapture is called, or deliver returns false. onEnd receives
// a non-nil error only for unexpected source failures.
func (p *Pipeline) StartCapture(ctx context.Context, src Source, deliver func(Frame) bool, onEnd func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	done := make(chan struct{})
	p.pumpEnd = done

	go func() {
		defer close(done)
		for {
			f, err := src.Next(ctx)
			if err != nil {
				if onEnd != nil {
					if errors.Is(err, io.EOF) || ctx.Err() != nil {
						onEnd(nil)
					} else {
						onEnd(err)
					}
				}
				return
			}
			f.Direction = Captured
			if f.At.IsZero() {
				f.At = time.Now()
			}
			if !deliver(f) {
				return
			}
		}
	}()
}

// StopCapture cancels the pump and waits for it to exit.
func (p *Pipeline) StopCapture() {
	p.mu.Lock()
	cancel, done := p.cancel, p.pumpEnd
	p.cancel, p.pumpEnd = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Pipeline) Capture(f Frame) CaptureResult {
	return p.detector.Process(f)
}

func (p *Pipeline) BeginItem(itemID string) {
	p.playback.Begin(itemID)
}

func (p *Pipeline) Play(itemID string, pcm []byte) (bool, error) {
	return p.playback.Play(itemID, pcm)
}

func (p *Pipeline) Interrupt() (Truncation, bool, error) {
	return p.playback.Interrupt()
}

// Stop ends capture and silences playback.
func (p *Pipeline) Stop() error {
	p.StopCapture()
	p.detector.Reset()
	return p.playback.Close()
}
