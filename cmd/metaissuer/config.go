package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/capiscio/meta-issuer/internal/config"
	"github.com/capiscio/meta-issuer/internal/storage/sqlite"
	"github.com/capiscio/meta-issuer/pkg/issuer"
)

var configureOffline bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Server and issuer configuration",
}

var configSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print a commented sample server configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var cfg config.Config
		return cfg.Sample(cmd.OutOrStdout())
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the issuer configuration stored in the database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return err
		}
		store, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		stored, ok, err := issuer.LoadConfig(cmd.Context(), store)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "No issuer configuration stored yet.")
			return nil
		}
		return printJSON(cmd.OutOrStdout(), stored)
	},
}

var configureCmd = &cobra.Command{
	Use:   "configure FILE",
	Short: "Replace the issuer configuration",
	Long: `Replace the issuer configuration (trust root, alias issuers, derivation
origin) with the JSON document in FILE.

By default the update goes through the API and the caller key must belong
to a server admin. With --offline the database named by the server
configuration is written directly; the server must be stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var cfg issuer.Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		if !configureOffline {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.Configure(cmd.Context(), cfg)
		}

		serverCfg, err := config.LoadFile(configFile)
		if err != nil {
			return err
		}
		store, err := sqlite.Open(serverCfg.Storage.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := issuer.SaveConfig(cmd.Context(), store, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Issuer configuration written to %s\n", serverCfg.Storage.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSampleCmd, configShowCmd, configureCmd)
	addClientFlags(configureCmd)
	configureCmd.Flags().BoolVar(&configureOffline, "offline", false, "Write the database directly instead of calling the API")
}
