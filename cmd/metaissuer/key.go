package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
	"github.com/spf13/cobra"

	"github.com/capiscio/meta-issuer/pkg/did"
)

var (
	keyOutPrivate string
	keyOutPublic  string
	keyShowDID    bool
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage Ed25519 keys",
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a new Ed25519 key pair",
	Long: `Generate a new Ed25519 key pair.

The private JWK serves as the issuer signing key (signing.key_file), as an
alias-issuer key for "alias issue", or as a caller key for the API
commands. The did:key of the public key is the caller identity.`,
	Example: `  # Generate the issuer key
  metaissuer key gen --out-priv issuer.jwk --out-pub issuer.pub.jwk

  # Print only the did:key
  metaissuer key gen --out-priv me.jwk --show-did`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		id := did.NewKeyDID(pub)

		privBytes, err := json.MarshalIndent(jose.JSONWebKey{Key: priv, KeyID: id, Algorithm: string(jose.EdDSA), Use: "sig"}, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(keyOutPrivate, privBytes, 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}

		if keyOutPublic != "" {
			pubBytes, err := json.MarshalIndent(jose.JSONWebKey{Key: pub, KeyID: id, Algorithm: string(jose.EdDSA), Use: "sig"}, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(keyOutPublic, pubBytes, 0644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		if keyShowDID {
			fmt.Fprintln(out, id)
			return nil
		}
		fmt.Fprintf(out, "✅ Private key saved to %s\n", keyOutPrivate)
		if keyOutPublic != "" {
			fmt.Fprintf(out, "✅ Public key saved to %s\n", keyOutPublic)
		}
		fmt.Fprintf(out, "🔑 did:key: %s\n", id)
		return nil
	},
}

// loadPrivateKey reads an Ed25519 private JWK.
func loadPrivateKey(path string) (ed25519.PrivateKey, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read key file: %w", err)
	}
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, "", fmt.Errorf("failed to parse JWK %s: %w", path, err)
	}
	priv, ok := jwk.Key.(ed25519.PrivateKey)
	if !ok {
		return nil, "", fmt.Errorf("%s is not an Ed25519 private key", path)
	}
	return priv, jwk.KeyID, nil
}

// loadPublicKey reads an Ed25519 JWK, public or private.
func loadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("failed to parse JWK %s: %w", path, err)
	}
	switch k := jwk.Key.(type) {
	case ed25519.PublicKey:
		return k, nil
	case ed25519.PrivateKey:
		return k.Public().(ed25519.PublicKey), nil
	default:
		return nil, fmt.Errorf("%s is not an Ed25519 key", path)
	}
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenCmd)

	keyGenCmd.Flags().StringVar(&keyOutPrivate, "out-priv", "private.jwk", "Output path for the private key (JWK)")
	keyGenCmd.Flags().StringVar(&keyOutPublic, "out-pub", "", "Output path for the public key (JWK, optional)")
	keyGenCmd.Flags().BoolVar(&keyShowDID, "show-did", false, "Only print the did:key")
}
