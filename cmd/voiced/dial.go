package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tweetyapp/voiced/internal/app"
	"github.com/tweetyapp/voiced/internal/audio"
	"github.com/tweetyapp/voiced/internal/protocol"
	"github.com/tweetyapp/voiced/internal/tools"
	"github.com/tweetyapp/voiced/internal/voice"
)

const dialTeardownTimeout = 10 * time.Second

type dialOptions struct {
	input       string
	output      string
	userID      string
	duration    time.Duration
	silence     time.Duration
	autoApprove bool
}

func newDialCmd(flags *globalFlags) *cobra.Command {
	opts := dialOptions{}

	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Run one voice session with a WAV file as the microphone",
		Long:  "dial connects a single session to the configured realtime provider, streams a mono 16-bit WAV file as captured audio, writes the assistant's audio to a WAV file and asks for tool confirmations on the terminal.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.input) == "" {
				return fmt.Errorf("--input is required")
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pcm, rate, err := audio.ReadWAVPCM16LEFile(opts.input)
			if err != nil {
				return err
			}

			res, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					logger.Warn("cleanup failed", "error", err)
				}
			}()

			console := newConsole(cmd.InOrStdin(), cmd.OutOrStdout())
			var confirmer tools.Confirmer = tools.ConfirmerFunc(console.confirm)
			if opts.autoApprove {
				confirmer = tools.ConfirmerFunc(func(_ context.Context, c tools.Confirmation) (bool, error) {
					console.printf("auto-approved %s: %s\n", c.Tool, c.Content)
					return true, nil
				})
			}

			sink := &audio.BufferSink{}
			engineOpts := res.Engines.Options(opts.userID)
			engine, err := res.Engines.Engine(engineOpts, app.SessionIO{
				Source: audio.NewPCMSource(pcm, rate, audio.PCMSourceOptions{
					Realtime:        true,
					TrailingSilence: opts.silence,
				}),
				Sink:      sink,
				Confirmer: confirmer,
			})
			if err != nil {
				return err
			}

			runErr := runDial(ctx, engine, console, opts.duration)

			out := sink.PCM()
			if len(out) > 0 && opts.output != "" {
				outRate := engine.Snapshot().SampleRate
				if outRate <= 0 {
					outRate = engineOpts.SampleRate
				}
				if err := audio.WriteWAVPCM16LEFile(opts.output, out, outRate); err != nil {
					return err
				}
				console.printf("wrote %s (%s of assistant audio)\n", opts.output, audio.PCMDuration(len(out), outRate).Round(time.Millisecond))
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "mono PCM16 WAV file used as the microphone")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "assistant.wav", "where to write the assistant's audio")
	cmd.Flags().StringVar(&opts.userID, "user", "cli", "user id charged for the session")
	cmd.Flags().DurationVar(&opts.duration, "duration", time.Minute, "maximum session length")
	cmd.Flags().DurationVar(&opts.silence, "trailing-silence", 3*time.Second, "silence streamed after the input ends")
	cmd.Flags().BoolVar(&opts.autoApprove, "yes", false, "approve every tool confirmation")
	return cmd
}

// runDial drives the engine until the session ends on its own, the
// duration elapses, or the process is interrupted.
func runDial(ctx context.Context, engine *voice.Engine, console *console, duration time.Duration) error {
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go func() { _ = engine.Run(runCtx) }()

	if err := engine.Connect(); err != nil {
		return err
	}

	limit := time.NewTimer(duration)
	defer limit.Stop()

	interrupted := ctx.Done()
	var giveUp <-chan time.Time
	hangUp := func() {
		_ = engine.Disconnect()
		giveUp = time.After(dialTeardownTimeout)
	}

	var sessionErr error
	for {
		select {
		case <-interrupted:
			interrupted = nil
			console.printf("interrupted, disconnecting\n")
			hangUp()
		case <-limit.C:
			hangUp()
		case <-giveUp:
			return errors.New("session did not end after disconnect")
		case <-engine.Done():
			return sessionErr
		case msg := <-engine.Events():
			done, err := console.show(msg)
			if err != nil {
				sessionErr = err
			}
			if done {
				return sessionErr
			}
		}
	}
}

type console struct {
	out io.Writer

	mu      sync.Mutex
	lines   chan string
	started bool
	in      *bufio.Scanner
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{out: out, in: bufio.NewScanner(in), lines: make(chan string)}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// confirm asks on the terminal. Stdin is read by one goroutine for the
// life of the process so an abandoned prompt does not eat the next answer.
func (c *console) confirm(ctx context.Context, conf tools.Confirmation) (bool, error) {
	c.mu.Lock()
	if !c.started {
		c.started = true
		go func() {
			for c.in.Scan() {
				c.lines <- c.in.Text()
			}
			close(c.lines)
		}()
	}
	fmt.Fprintf(c.out, "\n%s\n  %s\nallow? [y/N] ", conf.Title, conf.Content)
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return false, errors.New("stdin closed")
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

// show prints one engine event. It reports done once the session has
// left the active path for good.
func (c *console) show(msg any) (bool, error) {
	switch m := msg.(type) {
	case protocol.SessionState:
		c.printf("state: %s", m.State)
		if m.Reason != "" {
			c.printf(" (%s)", m.Reason)
		}
		c.printf("\n")
		switch voice.State(m.State) {
		case voice.StateDisconnected:
			return true, nil
		case voice.StateErrored:
			return true, fmt.Errorf("session errored: %s", m.Reason)
		}
	case protocol.ToolCallUpdate:
		c.printf("tool %s [%s]: %s", m.Tool, m.CallID, m.Status)
		if m.ErrorCode != "" {
			c.printf(" (%s)", m.ErrorCode)
		}
		c.printf("\n")
	case protocol.PlaybackStop:
		c.printf("barge-in: stopped %s after %dms\n", m.ItemID, m.PlayedMs)
	case protocol.UsageUpdate:
		if m.Remaining != nil {
			c.printf("usage: %.1fs billed, %.2f credits remaining\n", float64(m.BilledMs)/1000, *m.Remaining)
		}
	case protocol.SystemEvent:
		c.printf("system: %s %s\n", m.Code, m.Detail)
	case protocol.ErrorEvent:
		c.printf("error [%s] %s: %s\n", m.Source, m.Code, m.Detail)
	}
	return false, nil
}
