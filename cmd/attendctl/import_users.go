package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"attendance-auth/core"
)

var importUsersCmd = &cobra.Command{
	Use:   "import-users <file.yaml>",
	Short: "Provision users from a YAML seed file",
	Long: `Provision users from a YAML seed file.

Usernames that already exist are skipped, so the same file can be applied
repeatedly.

Examples:
  attendctl import-users users.yaml
  attendctl import-users users.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: runImportUsers,
}

func init() {
	rootCmd.AddCommand(importUsersCmd)
	importUsersCmd.Flags().Bool("json", false, "Output as JSON")
}

func runImportUsers(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	cfg, err := core.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	res, err := core.ImportUsers(ctx, core.NewPgUserRepository(db), data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(out, "created %d, skipped %d\n", len(res.Created), len(res.Skipped))
	for _, u := range res.Skipped {
		fmt.Fprintf(out, "  skipped %s (already exists)\n", u)
	}
	return nil
}
