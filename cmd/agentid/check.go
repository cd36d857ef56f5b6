package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentid-dev/agentid-go/pkg/credential"
	"github.com/agentid-dev/agentid-go/pkg/permission"
)

var (
	checkResource   string
	checkAction     string
	checkAmount     float64
	checkRegion     string
	checkDailySpent float64
	checkJSON       bool
)

func init() {
	checkCmd.Flags().StringVar(&checkResource, "resource", "", "Resource being accessed (e.g. https://api.stripe.com/v1/charges)")
	checkCmd.Flags().StringVar(&checkAction, "action", "read", "Action to check (read, write, delete, ...)")
	checkCmd.Flags().Float64Var(&checkAmount, "amount", 0, "Transaction amount for condition evaluation")
	checkCmd.Flags().StringVar(&checkRegion, "region", "", "Caller region code for condition evaluation")
	checkCmd.Flags().Float64Var(&checkDailySpent, "daily-spent", 0, "Amount already spent today")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output results as JSON")

	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check [credential-file]",
	Short: "Evaluate a permission request against a credential file",
	Long: `Evaluate whether a credential grants an action on a resource.
The file holds a credential payload JSON, or a bare permissions array.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read credential file: %w", err)
		}

		perms, err := loadPermissions(data)
		if err != nil {
			return err
		}

		req := permission.Request{
			Resource: checkResource,
			Action:   checkAction,
			Context: permission.Context{
				Region:     checkRegion,
				DailySpent: checkDailySpent,
			},
		}
		if cmd.Flags().Changed("amount") {
			req.Context.Amount = &checkAmount
		}

		decision := permission.Check(perms, req)

		if checkJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(decision); err != nil {
				return err
			}
			if !decision.Granted {
				os.Exit(1)
			}
			return nil
		}

		if decision.Granted {
			fmt.Printf("GRANTED: %s on %s\n", checkAction, checkResource)
			return nil
		}

		fmt.Printf("DENIED: %s on %s\n", checkAction, checkResource)
		fmt.Printf("Reason: %s\n", decision.Reason)
		os.Exit(1)
		return nil
	},
}

// loadPermissions accepts either a full credential payload or a bare
// permissions array.
func loadPermissions(data []byte) ([]permission.Permission, error) {
	var payload credential.Payload
	if err := json.Unmarshal(data, &payload); err == nil && len(payload.Permissions) > 0 {
		return payload.Permissions, nil
	}

	var perms []permission.Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	return perms, nil
}
