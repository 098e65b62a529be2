package main

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/capiscio/meta-issuer/pkg/alias"
	"github.com/capiscio/meta-issuer/pkg/did"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

var (
	aliasKeyFile string
	aliasIssuer  string
	aliasSubject string
	aliasID      string
	aliasOrigin  string
	aliasTTL     time.Duration
)

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Work with id alias assertions",
}

var aliasIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign an id alias assertion as an identity provider",
	Long: `Sign an id alias assertion binding a subject to a pseudonym for an origin.

This is what a trusted identity provider hands to a relying party. It is
useful for testing an issuer against a did:key identity provider.`,
	Example: `  metaissuer alias issue --key idp.jwk \
    --subject did:key:z6Mk... --alias did:web:alias.example:rp:1 \
    --origin https://rp.example`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, keyID, err := loadPrivateKey(aliasKeyFile)
		if err != nil {
			return err
		}
		iss := principal.ID(aliasIssuer)
		if iss == "" {
			iss = principal.ID(did.NewKeyDID(key.Public().(ed25519.PublicKey)))
		}
		subject, err := principal.Parse(aliasSubject)
		if err != nil {
			return fmt.Errorf("--subject: %w", err)
		}
		pseudonym, err := principal.Parse(aliasID)
		if err != nil {
			return fmt.Errorf("--alias: %w", err)
		}

		now := time.Now()
		token, err := alias.Issue(alias.Claims{
			Issuer:   iss,
			Subject:  subject,
			IDAlias:  pseudonym,
			Origin:   aliasOrigin,
			IssuedAt: now.Unix(),
			Expiry:   now.Add(aliasTTL).Unix(),
		}, key, keyID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(aliasCmd)
	aliasCmd.AddCommand(aliasIssueCmd)

	aliasIssueCmd.Flags().StringVar(&aliasKeyFile, "key", "", "Identity provider private key (JWK)")
	aliasIssueCmd.Flags().StringVar(&aliasIssuer, "issuer", "", "Issuer identity (default: did:key of --key)")
	aliasIssueCmd.Flags().StringVar(&aliasSubject, "subject", "", "Real identity of the user")
	aliasIssueCmd.Flags().StringVar(&aliasID, "alias", "", "Pseudonym the credential is issued to")
	aliasIssueCmd.Flags().StringVar(&aliasOrigin, "origin", "", "Relying party origin")
	aliasIssueCmd.Flags().DurationVar(&aliasTTL, "ttl", alias.DefaultValidity, "Assertion lifetime")
	_ = aliasIssueCmd.MarkFlagRequired("key")
	_ = aliasIssueCmd.MarkFlagRequired("subject")
	_ = aliasIssueCmd.MarkFlagRequired("alias")
}
