package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiscio/meta-issuer/internal/config"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

func TestSampleDecodesToDefaults(t *testing.T) {
	var defaults config.Config
	defaults.InitDefaults()

	var buf bytes.Buffer
	require.NoError(t, defaults.Sample(&buf))

	var sampled config.Config
	require.NoError(t, config.Decode(buf.Bytes(), &sampled))
	sampled.InitDefaults()
	assert.Equal(t, defaults, sampled)
	assert.NoError(t, sampled.Validate())
}

func TestDefaults(t *testing.T) {
	var cfg config.Config
	cfg.InitDefaults()
	assert.Equal(t, config.DefaultListen, cfg.Server.Listen)
	assert.Equal(t, config.DefaultDBPath, cfg.Storage.Path)
	assert.Equal(t, "https://metaissuer.vc", cfg.Signing.IssuerURL)
	assert.Equal(t, time.Minute, cfg.Issuer.SignatureTTL.Duration)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	var cfg config.Config
	err := config.Decode([]byte("[server]\nlisten = \":80\"\nport = 80\n"), &cfg)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metaissuer.toml")
	raw := `
[server]
listen = ":8443"
admins = ["did:web:admin.example"]

[issuer]
derivation_origin = "https://rp.example"
alias_issuers = ["did:web:idp.example"]
jwks_url = "https://keys.example/{issuer}/jwks.json"
signature_ttl = "90s"

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":8443", cfg.Server.Listen)
	assert.Equal(t, []principal.ID{"did:web:admin.example"}, cfg.Server.AdminIDs())
	assert.Equal(t, []principal.ID{"did:web:idp.example"}, cfg.Issuer.AliasIssuerIDs())
	assert.Equal(t, 90*time.Second, cfg.Issuer.SignatureTTL.Duration)
	assert.Equal(t, config.DefaultDBPath, cfg.Storage.Path)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *config.Config){
		"bad admin":           func(c *config.Config) { c.Server.Admins = []string{"root"} },
		"bad alias issuer":    func(c *config.Config) { c.Issuer.AliasIssuers = []string{"https://idp"} },
		"jwks without issuer": func(c *config.Config) { c.Issuer.JWKSURL = "https://keys.example/jwks.json" },
		"jwks not http":       func(c *config.Config) { c.Issuer.JWKSURL = "file:///{issuer}" },
		"negative ttl":        func(c *config.Config) { c.Issuer.SignatureTTL.Duration = -time.Second },
		"bad level":           func(c *config.Config) { c.Log.Level = "loud" },
		"bad issuer url":      func(c *config.Config) { c.Signing.IssuerURL = "not a url" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			var cfg config.Config
			cfg.InitDefaults()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
