package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-go/pkg/signer"
)

var (
	signSecret   string
	signMethod   string
	signURL      string
	signBody     string
	signBodyFile string
	signJSON     bool
)

func init() {
	signCmd.Flags().StringVar(&signSecret, "secret", os.Getenv("AGENTID_SIGNING_SECRET"), "Shared signing secret (defaults to AGENTID_SIGNING_SECRET)")
	signCmd.Flags().StringVar(&signMethod, "method", http.MethodGet, "HTTP method")
	signCmd.Flags().StringVar(&signURL, "url", "", "Request URL (required)")
	signCmd.Flags().StringVar(&signBody, "body", "", "Request body")
	signCmd.Flags().StringVar(&signBodyFile, "body-file", "", "Read the request body from a file")
	signCmd.Flags().BoolVar(&signJSON, "json", false, "Output headers as JSON")
	_ = signCmd.MarkFlagRequired("url")

	rootCmd.AddCommand(signCmd)
}

var signCmd = &cobra.Command{
	Use:   "sign [credential-id]",
	Short: "Produce signed request headers for a credential",
	Long: `Produce the X-AgentID-* headers for an outbound request. Without a
secret the signature is an unauthenticated digest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		body := []byte(signBody)
		if signBodyFile != "" {
			data, err := os.ReadFile(signBodyFile)
			if err != nil {
				return fmt.Errorf("failed to read body file: %w", err)
			}
			body = data
		}

		s := signer.New(signer.Options{Secret: signSecret})
		headers := s.Headers(args[0], signMethod, signURL, body)

		if signJSON {
			flat := make(map[string]string, len(headers))
			for name := range headers {
				flat[name] = headers.Get(name)
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(flat)
		}

		for _, name := range []string{
			signer.HeaderCredential,
			signer.HeaderTimestamp,
			signer.HeaderNonce,
			signer.HeaderSignature,
		} {
			if v := headers.Get(name); v != "" {
				fmt.Printf("%s: %s\n", name, v)
			}
		}
		return nil
	},
}
