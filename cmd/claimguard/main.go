package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

var (
	envFile    string
	claimsPath string
)

var rootCmd = &cobra.Command{
	Use:   "claimguard",
	Short: "claimguard - product claim checks",
	Long: `claimguard loads a product claim document and answers licensing checks
against it. The same engine is available as a Go library in pkg/ensure.`,
	Version:       ensure.Version(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading settings")
	rootCmd.PersistentFlags().StringVar(&claimsPath, "claims", "", "Claim document path (overrides CLAIMGUARD_CLAIMS_PATH)")

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("claimguard %s\n", ensure.Version())
		if date := ensure.BuildDate(); date != "unknown" {
			fmt.Printf("Built: %s\n", date)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
