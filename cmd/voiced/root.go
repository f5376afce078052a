package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tweetyapp/voiced/internal/config"
)

// globalFlags override the environment-driven configuration.
type globalFlags struct {
	provider string
	logLevel string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "voiced",
		Short:         "Realtime voice session engine",
		Long:          "voiced runs realtime voice sessions against xAI or OpenAI realtime backends, with confirmation-gated social API tools and per-minute credit billing.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&flags.provider, "provider", "", "realtime provider override (xai|openai|mock)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug|info|warn|error)")

	rootCmd.AddCommand(
		newServeCmd(flags),
		newDialCmd(flags),
	)
	return rootCmd
}

// loadConfig applies flag overrides on top of the environment so the same
// validation runs for both.
func loadConfig(flags *globalFlags) (config.Config, error) {
	if p := strings.TrimSpace(flags.provider); p != "" {
		if err := os.Setenv("REALTIME_PROVIDER", p); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if l := strings.TrimSpace(flags.logLevel); l != "" {
		cfg.LogLevel = strings.ToLower(l)
	}
	return cfg, nil
}
