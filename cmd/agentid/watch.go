package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentid-dev/agentid-go/pkg/credential"
	"github.com/agentid-dev/agentid-go/pkg/revocation"
)

var (
	watchAPIURL        string
	watchAPIKey        string
	watchCredentialIDs []string
	watchPollInterval  time.Duration
	watchCachePath     string
	watchVerbose       bool
)

func init() {
	watchCmd.Flags().StringVar(&watchAPIURL, "api-url", "https://api.agentid.dev", "AgentID API base URL")
	watchCmd.Flags().StringVar(&watchAPIKey, "api-key", os.Getenv("AGENTID_API_KEY"), "API key (defaults to AGENTID_API_KEY)")
	watchCmd.Flags().StringSliceVar(&watchCredentialIDs, "credential-id", nil, "Credential IDs to watch (repeatable; default all)")
	watchCmd.Flags().DurationVar(&watchPollInterval, "poll-interval", revocation.DefaultPollInterval, "Polling cadence when the stream is down")
	watchCmd.Flags().StringVar(&watchCachePath, "cache-path", "", "Persist revocations to this file")
	watchCmd.Flags().BoolVar(&watchVerbose, "verbose", false, "Debug logging")

	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the revocation stream",
	Long: `Connect to the revocation stream and print events as they arrive.
Falls back to interval polling when the stream is unavailable.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		logger, err := buildLogger(watchVerbose)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		var set revocation.Set
		if watchCachePath != "" {
			set, err = revocation.NewFileSet(watchCachePath)
			if err != nil {
				return fmt.Errorf("failed to open revocation cache: %w", err)
			}
		}

		client := credential.NewClient(watchAPIURL, watchAPIKey)
		watcher := revocation.NewWatcher(revocation.WatcherConfig{
			StreamURL:     client.StreamURL(watchCredentialIDs),
			Poller:        client,
			Set:           set,
			CredentialIDs: watchCredentialIDs,
			PollInterval:  watchPollInterval,
			OnRevocation: func(ev revocation.Event) {
				fmt.Printf("REVOKED %s at %s", ev.CredentialID,
					time.UnixMilli(ev.RevokedAt).UTC().Format(time.RFC3339))
				if ev.Reason != "" {
					fmt.Printf(" (%s)", ev.Reason)
				}
				fmt.Println()
			},
			OnStateChange: func(connected bool) {
				if connected {
					logger.Info("stream connected")
				} else {
					logger.Warn("stream disconnected, polling")
				}
			},
			OnError: func(err error) {
				logger.Warn("watcher error", zap.Error(err))
			},
			Logger: logger,
		})

		watcher.Connect()
		defer watcher.Disconnect()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		logger.Info("shutting down")
		return nil
	},
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
