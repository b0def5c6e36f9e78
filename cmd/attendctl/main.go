package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "attendctl",
	Short: "Operator tool for the attendance authentication service",
	Long: `attendctl runs maintenance tasks against the attendance authentication
database: schema migrations, bulk user provisioning and password hashing.

Settings are read from the environment (and an optional .env file), the same
way the API server reads them.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
