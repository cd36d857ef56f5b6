package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentid-dev/agentid-go/pkg/credential"
	"github.com/agentid-dev/agentid-go/pkg/gateway"
	"github.com/agentid-dev/agentid-go/pkg/revocation"
	"github.com/agentid-dev/agentid-go/pkg/verifier"
)

var (
	gatewayPort           int
	gatewayTarget         string
	gatewaySecret         string
	gatewayAPIURL         string
	gatewayAPIKey         string
	gatewayTrustedIssuers []string
	gatewayEnforcePerms   bool
	gatewayVerbose        bool
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the AgentID gateway",
}

var gatewayStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	RunE: func(_ *cobra.Command, _ []string) error {
		logger, err := buildLogger(gatewayVerbose)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		client := credential.NewClient(gatewayAPIURL, gatewayAPIKey)

		watcher := revocation.NewWatcher(revocation.WatcherConfig{
			StreamURL: client.StreamURL(nil),
			Poller:    client,
			Logger:    logger,
		})
		watcher.Connect()
		defer watcher.Disconnect()

		opts := gateway.Options{
			Verifier: verifier.New(verifier.Options{
				SigningSecret:  gatewaySecret,
				Revocations:    watcher,
				TrustedIssuers: gatewayTrustedIssuers,
				Logger:         logger,
			}),
			Source: gateway.NewAPISource(client, nil),
			Logger: logger,
		}
		if gatewayEnforcePerms {
			opts.RequestFor = gateway.DefaultRequest
		}

		gw, err := gateway.NewGateway(gatewayTarget, opts)
		if err != nil {
			return err
		}

		addr := fmt.Sprintf(":%d", gatewayPort)
		logger.Info("gateway listening",
			zap.String("addr", addr),
			zap.String("target", gatewayTarget))
		return http.ListenAndServe(addr, gw)
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.AddCommand(gatewayStartCmd)

	gatewayStartCmd.Flags().IntVar(&gatewayPort, "port", 8080, "Port to listen on")
	gatewayStartCmd.Flags().StringVar(&gatewayTarget, "target", "http://localhost:3000", "Upstream target URL")
	gatewayStartCmd.Flags().StringVar(&gatewaySecret, "secret", os.Getenv("AGENTID_SIGNING_SECRET"), "Shared signing secret (defaults to AGENTID_SIGNING_SECRET)")
	gatewayStartCmd.Flags().StringVar(&gatewayAPIURL, "api-url", "https://api.agentid.dev", "AgentID API base URL")
	gatewayStartCmd.Flags().StringVar(&gatewayAPIKey, "api-key", os.Getenv("AGENTID_API_KEY"), "API key (defaults to AGENTID_API_KEY)")
	gatewayStartCmd.Flags().StringSliceVar(&gatewayTrustedIssuers, "trusted-issuer", nil, "Accept only these issuer IDs (repeatable)")
	gatewayStartCmd.Flags().BoolVar(&gatewayEnforcePerms, "enforce-permissions", false, "Evaluate credential permissions per request")
	gatewayStartCmd.Flags().BoolVar(&gatewayVerbose, "verbose", false, "Debug logging")
}
