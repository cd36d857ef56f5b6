// Package main is the entry point for the AgentID CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentid",
	Short: "AgentID CLI",
	Long: `Command-line tools for AgentID credentials.
Verifies credentials, evaluates permissions, signs requests, and follows
revocation streams.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
