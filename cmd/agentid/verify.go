package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-go/pkg/credential"
)

var (
	verifyAPIURL  string
	verifyAPIKey  string
	verifyJSON    bool
	verifyTimeout time.Duration
)

func init() {
	verifyCmd.Flags().StringVar(&verifyAPIURL, "api-url", "https://api.agentid.dev", "AgentID API base URL")
	verifyCmd.Flags().StringVar(&verifyAPIKey, "api-key", os.Getenv("AGENTID_API_KEY"), "API key (defaults to AGENTID_API_KEY)")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Output results as JSON")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(verifyCmd)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [credential-id]",
	Short: "Verify a credential against the AgentID API",
	Long:  `Verify a credential by ID. Exits non-zero if the credential is expired, revoked, or otherwise invalid.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		credentialID := args[0]

		client := credential.NewClient(verifyAPIURL, verifyAPIKey)
		ctx, cancel := context.WithTimeout(cmd.Context(), verifyTimeout)
		defer cancel()

		resp, err := client.Verify(ctx, credentialID)
		if err != nil {
			var credErr *credential.Error
			if errors.As(err, &credErr) {
				resp = &credential.VerifyResponse{
					Valid:     false,
					Error:     credErr.Message,
					ErrorCode: credErr.Code,
				}
			} else {
				return err
			}
		}

		if verifyJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(resp); err != nil {
				return err
			}
			if !resp.Valid {
				os.Exit(1)
			}
			return nil
		}

		if !resp.Valid {
			fmt.Printf("INVALID: %s\n", credentialID)
			if resp.ErrorCode != "" {
				fmt.Printf("Code: %s\n", resp.ErrorCode)
			}
			if resp.Error != "" {
				fmt.Printf("Reason: %s\n", resp.Error)
			}
			os.Exit(1)
		}

		fmt.Printf("VALID: %s\n", credentialID)
		if c := resp.Credential; c != nil {
			fmt.Printf("Agent: %s (%s)\n", c.AgentName, c.AgentID)
			fmt.Printf("Issuer: %s\n", c.Issuer.ID)
			fmt.Printf("Valid until: %s\n", c.Constraints.ValidUntil.Format(time.RFC3339))
			fmt.Printf("Permissions: %d\n", len(c.Permissions))
		}
		if resp.TrustScore != nil {
			fmt.Printf("Trust score: %.0f/100\n", *resp.TrustScore)
		}
		return nil
	},
}
