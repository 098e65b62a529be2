// Package main is the entry point for the metaissuer CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "metaissuer",
	Short: "Group-based verifiable credential issuer",
	Long: `metaissuer runs a verifiable credential issuer backed by owner-managed groups.

Group owners accept members, and accepted members obtain credentials for
the group type under a pseudonymous alias attested by a trusted identity
provider.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "metaissuer.toml", "Path to the server configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
