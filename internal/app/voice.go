package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tweetyapp/voiced/internal/audio"
	"github.com/tweetyapp/voiced/internal/billing"
	"github.com/tweetyapp/voiced/internal/config"
	"github.com/tweetyapp/voiced/internal/credential"
	"github.com/tweetyapp/voiced/internal/history"
	"github.com/tweetyapp/voiced/internal/observability"
	"github.com/tweetyapp/voiced/internal/realtime"
	"github.com/tweetyapp/voiced/internal/session"
	"github.com/tweetyapp/voiced/internal/tools"
	"github.com/tweetyapp/voiced/internal/voice"
)

type realtimeSetup struct {
	newAdapter func() realtime.Adapter
	provider   string
	detail     string
}

// resolveRealtime picks the provider dialect. Every engine gets its own
// adapter because an adapter carries exactly one connection.
func resolveRealtime(cfg config.Config, metrics *observability.Metrics) (realtimeSetup, error) {
	ws := func(d realtime.Dialect) func() realtime.Adapter {
		return func() realtime.Adapter {
			return realtime.NewWSAdapter(d, realtime.WSOptions{
				SampleRate: cfg.RealtimeSampleRate,
				Metrics:    metrics,
			})
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.RealtimeProvider)) {
	case "xai", "":
		return realtimeSetup{
			newAdapter: ws(realtime.XAIDialect{URL: cfg.XAIRealtimeURL}),
			provider:   "xai",
			detail:     "xai realtime (" + cfg.XAIRealtimeURL + ")",
		}, nil
	case "openai":
		return realtimeSetup{
			newAdapter: ws(realtime.OpenAIDialect{URL: cfg.OpenAIRealtimeURL, Model: cfg.OpenAIRealtimeModel}),
			provider:   "openai",
			detail:     "openai realtime (" + cfg.OpenAIRealtimeModel + ")",
		}, nil
	case "mock":
		return realtimeSetup{
			newAdapter: func() realtime.Adapter { return realtime.NewMockAdapter() },
			provider:   "mock",
			detail:     "mock",
		}, nil
	default:
		return realtimeSetup{}, fmt.Errorf("invalid REALTIME_PROVIDER: %q (expected xai|openai|mock)", cfg.RealtimeProvider)
	}
}

// newIssuer prefers the credential proxy; a raw API key is for local use.
func newIssuer(cfg config.Config) credential.Issuer {
	if cfg.CredentialProxyURL != "" {
		return credential.NewHTTPIssuer(cfg.CredentialProxyURL, cfg.CredentialAppSecret, credential.HTTPIssuerOptions{})
	}
	return credential.StaticIssuer{Key: cfg.RealtimeAPIKey}
}

// SessionIO carries the per-session collaborators a caller may supply.
// The websocket gateway leaves them empty and feeds audio through the
// engine; the dial command uses a file source and sink.
type SessionIO struct {
	Source    audio.Source
	Sink      audio.Sink
	Confirmer tools.Confirmer
}

// EngineFactory builds voice engines that share the process-wide
// collaborators.
type EngineFactory struct {
	cfg        config.Config
	newAdapter func() realtime.Adapter
	issuer     credential.Issuer
	ledger     billing.Ledger
	executor   tools.Executor
	gate       tools.Gate
	history    *history.Log
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewEngine serves a registered session over the websocket gateway.
func (f *EngineFactory) NewEngine(s *session.Session) (*voice.Engine, error) {
	opts := f.Options(s.UserID)
	opts.SessionID = s.ID
	if s.Voice != "" {
		opts.Voice = s.Voice
	}
	if s.Instructions != "" {
		opts.Instructions = s.Instructions
	}
	return f.Engine(opts, SessionIO{})
}

// Options returns engine options populated from configuration.
func (f *EngineFactory) Options(userID string) voice.Options {
	return voice.Options{
		UserID:          userID,
		Instructions:    f.cfg.RealtimeInstructions,
		Voice:           f.cfg.RealtimeVoice,
		SampleRate:      f.cfg.RealtimeSampleRate,
		TurnMode:        realtime.TurnDetection(f.cfg.RealtimeTurnMode),
		Tools:           tools.Catalog(),
		ToolTimeout:     f.cfg.ToolTimeout,
		SilenceDebounce: f.cfg.VADSilenceDebounce,
		CheckBalance:    f.ledger != nil,
	}
}

func (f *EngineFactory) Engine(opts voice.Options, sio SessionIO) (*voice.Engine, error) {
	return voice.NewEngine(opts, voice.Deps{
		Adapter:    f.newAdapter(),
		Issuer:     f.issuer,
		Ledger:     f.ledger,
		Executor:   f.executor,
		Confirmer:  sio.Confirmer,
		Gate:       f.gate,
		History:    f.history,
		Source:     sio.Source,
		Sink:       sio.Sink,
		Classifier: audio.NewEnergyVAD(f.cfg.VADEnergyThreshold),
		Metrics:    f.metrics,
		Logger:     f.logger,
	})
}
