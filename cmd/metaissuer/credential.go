package main

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/credential"
	"github.com/capiscio/meta-issuer/pkg/issuer"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

var (
	credSpec       string
	credOwner      string
	credAlias      string
	credIssuerKey  string
	credIssuerURL  string
	credOnline     bool
	credSkipExpiry bool
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Obtain and verify credentials",
}

var credentialRequestCmd = &cobra.Command{
	Use:   "request",
	Short: "Prepare and fetch a credential over the issuer API",
	Long: `Prepare and fetch a credential for the caller.

The caller must be an accepted member of the owner's group of the requested
type, and --alias must be an id alias assertion for the caller signed by a
trusted alias issuer.`,
	Example: `  metaissuer credential request --key me.jwk \
    --spec '{"credential_type":"VerifiedAge","arguments":{"ageAtLeast":{"Int":18}}}' \
    --owner did:key:z6Mk... --alias "$(cat alias.jws)"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		spec, err := parseSpec(credSpec)
		if err != nil {
			return err
		}
		var owner principal.ID
		if credOwner != "" {
			if owner, err = principal.Parse(credOwner); err != nil {
				return fmt.Errorf("--owner: %w", err)
			}
		}
		token, err := readArgOrFile(credAlias)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}

		signed := issuer.SignedIDAlias{CredentialJWS: token}
		prepared, err := c.PrepareCredential(cmd.Context(), issuer.PrepareCredentialRequest{
			CredentialSpec: spec, Owner: owner, SignedIDAlias: signed,
		})
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		issued, err := c.GetCredential(cmd.Context(), issuer.GetCredentialRequest{
			CredentialSpec: spec, Owner: owner, SignedIDAlias: signed, PreparedContext: prepared.PreparedContext,
		})
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), issued.VCJWS)
		return nil
	},
}

var credentialVerifyCmd = &cobra.Command{
	Use:   "verify VC_JWS",
	Short: "Verify a credential",
	Long: `Verify a credential offline against the issuer key, or online against the
issuer's current certified data (--online).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readArgOrFile(args[0])
		if err != nil {
			return err
		}
		opts := credential.VerifyOptions{
			IssuerURL:       credIssuerURL,
			SkipExpiryCheck: credSkipExpiry,
		}
		if credSpec != "" {
			spec, err := parseSpec(credSpec)
			if err != nil {
				return err
			}
			opts.Spec = &spec
		}

		switch {
		case credOnline:
			c, err := newClient()
			if err != nil {
				return err
			}
			data, err := c.CertifiedData(cmd.Context())
			if err != nil {
				return err
			}
			pub, ok := data.IssuerKey.Key.(ed25519.PublicKey)
			if !ok {
				return errors.New("issuer published a non-Ed25519 key")
			}
			opts.IssuerKey = pub
			opts.PublishedRoot = data.Root
			if opts.IssuerURL == "" {
				opts.IssuerURL = data.IssuerURL
			}
		case credIssuerKey != "":
			if opts.IssuerKey, err = loadPublicKey(credIssuerKey); err != nil {
				return err
			}
		default:
			return errors.New("provide --issuer-key or --online")
		}

		res, err := credential.Verify(token, opts)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "✅ Credential verified")
		return printJSON(out, res.Claims)
	},
}

func parseSpec(raw string) (catalog.Spec, error) {
	if raw == "" {
		return catalog.Spec{}, errors.New("--spec is required")
	}
	data, err := readArgOrFile(raw)
	if err != nil {
		return catalog.Spec{}, err
	}
	var spec catalog.Spec
	if err := json.Unmarshal([]byte(data), &spec); err != nil {
		return catalog.Spec{}, fmt.Errorf("--spec: %w", err)
	}
	return spec, nil
}

// readArgOrFile returns v, or the trimmed contents of file v if v starts with '@'.
func readArgOrFile(v string) (string, error) {
	name, ok := strings.CutPrefix(v, "@")
	if !ok {
		return v, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func init() {
	rootCmd.AddCommand(credentialCmd)
	credentialCmd.AddCommand(credentialRequestCmd, credentialVerifyCmd)
	addClientFlags(credentialCmd)

	credentialCmd.PersistentFlags().StringVar(&credSpec, "spec", "", "Credential spec (JSON, or @file)")
	credentialRequestCmd.Flags().StringVar(&credOwner, "owner", "", "Group owner (if not embedded in the spec)")
	credentialRequestCmd.Flags().StringVar(&credAlias, "alias", "", "Signed id alias assertion (or @file)")
	credentialVerifyCmd.Flags().StringVar(&credIssuerKey, "issuer-key", "", "Issuer public key (JWK)")
	credentialVerifyCmd.Flags().StringVar(&credIssuerURL, "issuer-url", "", "Expected iss claim")
	credentialVerifyCmd.Flags().BoolVar(&credOnline, "online", false, "Verify against the issuer's certified data")
	credentialVerifyCmd.Flags().BoolVar(&credSkipExpiry, "skip-expiry", false, "Skip exp/nbf checks")
	_ = credentialRequestCmd.MarkFlagRequired("alias")
}
