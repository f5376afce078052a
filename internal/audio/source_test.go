package audio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestPCMSourceFramesThenSilenceThenEOF(t *testing.T) {
	pcm := tonePCM(50*time.Millisecond, testRate, 0.3)
	src := NewPCMSource(pcm, testRate, PCMSourceOptions{TrailingSilence: 40 * time.Millisecond})

	var total, silent int
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if f.Duration() > DefaultFrameDuration {
			t.Fatalf("frame longer than %v: %v", DefaultFrameDuration, f.Duration())
		}
		if RMSEnergy(f.PCM) == 0 {
			silent += len(f.PCM)
		}
		total += len(f.PCM)
	}
	if want := len(pcm) + BytesForDuration(40*time.Millisecond, testRate); total != want {
		t.Fatalf("total bytes = %d, want %d", total, want)
	}
	if silent != BytesForDuration(40*time.Millisecond, testRate) {
		t.Fatalf("silent bytes = %d", silent)
	}
}

func TestPCMSourceHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := NewPCMSource(tonePCM(time.Second, testRate, 0.3), testRate, PCMSourceOptions{Realtime: true})
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next after cancel = %v", err)
	}
}

func TestChanSourcePushAndClose(t *testing.T) {
	src := NewChanSource(1)
	if !src.Push(frame([]byte{1, 2})) {
		t.Fatalf("first push rejected")
	}
	if src.Push(frame([]byte{3, 4})) {
		t.Fatalf("push into full queue accepted")
	}
	f, err := src.Next(context.Background())
	if err != nil || len(f.PCM) != 2 {
		t.Fatalf("Next = %+v, %v", f, err)
	}
	src.Close()
	if src.Push(frame([]byte{5, 6})) {
		t.Fatalf("push after close accepted")
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next after close = %v, want EOF", err)
	}
}

func TestPipelineCaptureDeliversUntilEOF(t *testing.T) {
	p := NewPipeline(PipelineConfig{SampleRate: testRate}, &BufferSink{})
	src := NewPCMSource(tonePCM(100*time.Millisecond, testRate, 0.3), testRate, PCMSourceOptions{})

	frames := make(chan Frame, 16)
	ended := make(chan error, 1)
	p.StartCapture(context.Background(), src, func(f Frame) bool {
		frames <- f
		return true
	}, func(err error) { ended <- err })

	select {
	case err := <-ended:
		if err != nil {
			t.Fatalf("capture ended with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("capture did not end")
	}
	if len(frames) != 5 {
		t.Fatalf("delivered %d frames, want 5", len(frames))
	}
	p.StopCapture()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
