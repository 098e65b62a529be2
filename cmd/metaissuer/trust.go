package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"

	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/capiscio/meta-issuer/pkg/trust"
)

var (
	trustDir      string
	trustIssuer   string
	trustFromJWKS string
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage trusted alias issuer keys",
	Long: `Manage the file trust store of alias issuer keys.

Keys in the store are consulted when issuer.trust_dir points at it.

Location: ~/.metaissuer/trust/ (or $METAISSUER_TRUST_PATH)`,
}

var trustAddCmd = &cobra.Command{
	Use:   "add [jwk-file]",
	Short: "Trust a public key for an alias issuer",
	Example: `  # Add a JWK file
  metaissuer trust add --issuer did:web:idp.example idp.pub.jwk

  # Add every key of a JWKS document
  metaissuer trust add --issuer did:web:idp.example --from-jwks https://idp.example/.well-known/jwks.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issuerID, err := principal.Parse(trustIssuer)
		if err != nil {
			return fmt.Errorf("--issuer: %w", err)
		}
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}

		var jwks jose.JSONWebKeySet
		switch {
		case trustFromJWKS != "":
			if jwks, err = fetchJWKS(trustFromJWKS); err != nil {
				return err
			}
		case len(args) == 1:
			key, err := readJWK(args[0])
			if err != nil {
				return err
			}
			jwks.Keys = []jose.JSONWebKey{key}
		default:
			return errors.New("provide a JWK file path or use --from-jwks")
		}

		if err := store.AddFromJWKS(&jwks, issuerID); err != nil {
			return fmt.Errorf("failed to add keys: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✅ Added %d key(s) for %s\n", len(jwks.Keys), issuerID)
		for _, key := range jwks.Keys {
			fmt.Fprintf(out, "   - %s (%s)\n", key.KeyID, key.Algorithm)
		}
		return nil
	},
}

func readJWK(path string) (jose.JSONWebKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("failed to read file: %w", err)
	}
	var key jose.JSONWebKey
	if err := json.Unmarshal(data, &key); err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("failed to parse JWK: %w", err)
	}
	return key, nil
}

func fetchJWKS(source string) (jose.JSONWebKeySet, error) {
	var data []byte
	if source == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return jose.JSONWebKeySet{}, fmt.Errorf("failed to read stdin: %w", err)
		}
		data = b
	} else {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(source)
		if err != nil {
			return jose.JSONWebKeySet{}, fmt.Errorf("failed to fetch JWKS: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return jose.JSONWebKeySet{}, fmt.Errorf("failed to fetch JWKS: status %d", resp.StatusCode)
		}
		if data, err = io.ReadAll(resp.Body); err != nil {
			return jose.JSONWebKeySet{}, fmt.Errorf("failed to read response: %w", err)
		}
	}

	var jwks jose.JSONWebKeySet
	if err := json.Unmarshal(data, &jwks); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	if len(jwks.Keys) == 0 {
		return jose.JSONWebKeySet{}, errors.New("JWKS contains no keys")
	}
	return jwks, nil
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trusted alias issuers and their keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}
		root, err := store.Root()
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(root.Issuers) == 0 {
			fmt.Fprintln(out, "No trusted issuers in store.")
			return nil
		}
		issuers, err := store.Issuers()
		if err != nil {
			return err
		}
		for _, id := range issuers {
			fmt.Fprintf(out, "%s\n", id)
			for _, key := range root.Issuers[id].Keys {
				fmt.Fprintf(out, "  - %s (%s)\n", key.KeyID, key.Algorithm)
			}
		}
		return nil
	},
}

var trustRemoveCmd = &cobra.Command{
	Use:   "remove [kid]",
	Short: "Stop trusting a key for an alias issuer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issuerID, err := principal.Parse(trustIssuer)
		if err != nil {
			return fmt.Errorf("--issuer: %w", err)
		}
		store, err := trust.NewFileStore(trustDir)
		if err != nil {
			return fmt.Errorf("failed to open trust store: %w", err)
		}
		if err := store.Remove(issuerID, args[0]); err != nil {
			if errors.Is(err, trust.ErrKeyNotFound) {
				return fmt.Errorf("key %s not found for %s", args[0], issuerID)
			}
			return fmt.Errorf("failed to remove key: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Removed key %s for %s\n", args[0], issuerID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(trustCmd)
	trustCmd.AddCommand(trustAddCmd, trustListCmd, trustRemoveCmd)

	trustCmd.PersistentFlags().StringVar(&trustDir, "dir", "", "Trust store directory (default ~/.metaissuer/trust)")
	trustAddCmd.Flags().StringVar(&trustIssuer, "issuer", "", "Alias issuer identity the keys belong to")
	trustAddCmd.Flags().StringVar(&trustFromJWKS, "from-jwks", "", "JWKS URL, or - for stdin")
	trustRemoveCmd.Flags().StringVar(&trustIssuer, "issuer", "", "Alias issuer identity the key belongs to")
}
