package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trustctl",
	Short: "trustledger CLI",
	Long:  "A CLI for the trustledger audit ledger and authorization API.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(cacheCmd())
}

// --- ledger ---

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Audit ledger commands"}

	recordCmd := &cobra.Command{
		Use:   "record <event> [message]",
		Short: "Record an audit event",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := ""
			if len(args) > 1 {
				message = args[1]
			}
			level, _ := cmd.Flags().GetString("level")
			userID, _ := cmd.Flags().GetString("user")
			taskID, _ := cmd.Flags().GetString("task")
			metaPairs, _ := cmd.Flags().GetStringSlice("meta")

			metadata := map[string]any{}
			for _, kv := range metaPairs {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid key=value pair: %s", kv)
				}
				metadata[parts[0]] = parts[1]
			}

			body := map[string]any{
				"event":   args[0],
				"level":   level,
				"message": message,
				"user_id": userID,
				"task_id": taskID,
			}
			if len(metadata) > 0 {
				body["metadata"] = metadata
			}

			client := newClient()
			result, err := client.post("/v1/ledger/entries", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	recordCmd.Flags().String("level", "info", "Audit level: trace, debug, info, warn, error, fatal")
	recordCmd.Flags().String("user", "", "User id to attribute the event to")
	recordCmd.Flags().String("task", "", "Task id the event belongs to")
	recordCmd.Flags().StringSlice("meta", nil, "Metadata key=value pairs")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the integrity of the whole chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/ledger/verify", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			if valid, ok := result["valid"].(bool); ok && !valid {
				os.Exit(2)
			}
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show ledger statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/ledger/stats")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture a forensic snapshot of chain metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/ledger/snapshot", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <entry-id>",
		Short: "Read a single ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/ledger/entries/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(recordCmd, verifyCmd, statsCmd, snapshotCmd, getCmd)
	return cmd
}

// --- role ---

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "role", Short: "Manage role definitions"}

	writeCmd := &cobra.Command{
		Use:   "write <file>",
		Short: "Define a role from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			var body map[string]any
			if err := json.Unmarshal(data, &body); err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/roles", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	readCmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Read a role definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/roles/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/roles")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if roles, ok := result["roles"].([]any); ok {
				for _, r := range roles {
					if m, ok := r.(map[string]any); ok {
						fmt.Println(m["id"])
						continue
					}
					fmt.Println(r)
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/roles/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Deleted role: " + args[0])
			return nil
		},
	}

	cmd.AddCommand(writeCmd, readCmd, listCmd, deleteCmd)
	return cmd
}

// --- check ---

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <role> <resource> <action> [key=value ...]",
		Short: "Check whether a role may perform an action on a resource",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")

			checkCtx := map[string]any{}
			for _, kv := range args[3:] {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid key=value pair: %s", kv)
				}
				checkCtx[parts[0]] = parts[1]
			}

			body := map[string]any{
				"role":     args[0],
				"resource": args[1],
				"action":   args[2],
				"user_id":  userID,
			}
			if len(checkCtx) > 0 {
				body["context"] = checkCtx
			}

			client := newClient()
			result, err := client.post("/v1/check", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			if granted, ok := result["granted"].(bool); ok && !granted {
				os.Exit(2)
			}
			return nil
		},
	}
	cmd.Flags().String("user", "", "User id to attribute the check to")
	return cmd
}

// --- cache ---

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Decision cache commands"}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear all cached permission decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/sys/cache/clear", nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Cache cleared.")
			return nil
		},
	}

	cmd.AddCommand(clearCmd)
	return cmd
}
