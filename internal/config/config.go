// Package config holds the server configuration file.
//
// A Config is initialized by InitDefaults, which fills every unset field,
// checked by Validate, and documented by Sample, which writes a commented
// TOML file that decodes to the default configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"github.com/capiscio/meta-issuer/pkg/credential"
	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/capiscio/meta-issuer/pkg/registry"
)

// Defaults.
const (
	DefaultListen               = "127.0.0.1:8080"
	DefaultDBPath               = "metaissuer.db"
	DefaultKeyFile              = "issuer.jwk"
	DefaultLogLevel             = "info"
	DefaultMaxPendingSignatures = 10000
	DefaultPruneInterval        = 30 * time.Second
	DefaultTokenMaxAge          = 5 * time.Minute
)

// Duration is a time.Duration written as a Go duration string ("1m30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the server configuration.
type Config struct {
	Server  Server  `toml:"server,omitempty"`
	Storage Storage `toml:"storage,omitempty"`
	Signing Signing `toml:"signing,omitempty"`
	Issuer  Issuer  `toml:"issuer,omitempty"`
	Log     Log     `toml:"log,omitempty"`
	Assets  Assets  `toml:"assets,omitempty"`
}

// InitDefaults initializes every section.
func (c *Config) InitDefaults() {
	c.Server.InitDefaults()
	c.Storage.InitDefaults()
	c.Signing.InitDefaults()
	c.Issuer.InitDefaults()
	c.Log.InitDefaults()
}

// Validate validates every section.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"storage", &c.Storage},
		{"signing", &c.Signing},
		{"issuer", &c.Issuer},
		{"log", &c.Log},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("[%s]: %w", s.name, err)
		}
	}
	return nil
}

// Sample writes a commented sample configuration to dst.
func (c *Config) Sample(dst io.Writer) error {
	var buf bytes.Buffer
	for _, s := range []struct{ name, text string }{
		{"server", serverSample},
		{"storage", storageSample},
		{"signing", signingSample},
		{"issuer", issuerSample},
		{"log", logSample},
		{"assets", assetsSample},
	} {
		fmt.Fprintf(&buf, "[%s]\n%s\n", s.name, strings.TrimLeft(s.text, "\n"))
	}
	_, err := io.Copy(dst, &buf)
	return err
}

// Decode decodes raw TOML into cfg. Unknown fields are an error.
func Decode(raw []byte, cfg *Config) error {
	return toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(cfg)
}

// LoadFile reads, decodes, defaults and validates the file at path.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := Decode(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Server configures the HTTP listeners.
type Server struct {
	// Listen is the API address.
	Listen string `toml:"listen,omitempty"`
	// Metrics is the Prometheus address; empty serves /metrics on the API listener.
	Metrics string `toml:"metrics,omitempty"`
	// Admins may call configure.
	Admins []string `toml:"admins,omitempty"`
	// TokenMaxAge bounds the age of caller bearer tokens.
	TokenMaxAge Duration `toml:"token_max_age,omitempty"`
}

func (s *Server) InitDefaults() {
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	if s.TokenMaxAge.Duration == 0 {
		s.TokenMaxAge.Duration = DefaultTokenMaxAge
	}
}

func (s *Server) Validate() error {
	if s.Listen == "" {
		return errors.New("listen must be set")
	}
	if s.TokenMaxAge.Duration <= 0 {
		return errors.New("token_max_age must be positive")
	}
	_, err := parseIDs("admins", s.Admins)
	return err
}

// AdminIDs returns the parsed admin identities.
func (s *Server) AdminIDs() []principal.ID {
	ids, _ := parseIDs("admins", s.Admins)
	return ids
}

// Storage configures the durable store.
type Storage struct {
	// Path is the sqlite database file.
	Path string `toml:"path,omitempty"`
}

func (s *Storage) InitDefaults() {
	if s.Path == "" {
		s.Path = DefaultDBPath
	}
}

func (s *Storage) Validate() error {
	if s.Path == "" {
		return errors.New("path must be set")
	}
	return nil
}

// Signing configures the issuer key.
type Signing struct {
	// KeyFile is the Ed25519 private JWK.
	KeyFile string `toml:"key_file,omitempty"`
	// IssuerURL is the iss claim of issued credentials.
	IssuerURL string `toml:"issuer_url,omitempty"`
}

func (s *Signing) InitDefaults() {
	if s.KeyFile == "" {
		s.KeyFile = DefaultKeyFile
	}
	if s.IssuerURL == "" {
		s.IssuerURL = credential.DefaultIssuerURL
	}
}

func (s *Signing) Validate() error {
	if s.KeyFile == "" {
		return errors.New("key_file must be set")
	}
	if _, err := url.ParseRequestURI(s.IssuerURL); err != nil {
		return fmt.Errorf("issuer_url: %w", err)
	}
	return nil
}

// Issuer configures alias verification and the signature map.
type Issuer struct {
	// DerivationOrigin and AliasIssuers seed the durable issuer config on
	// first start. Afterwards the durable config wins.
	DerivationOrigin string   `toml:"derivation_origin,omitempty"`
	AliasIssuers     []string `toml:"alias_issuers,omitempty"`
	// TrustDir is a file trust store consulted for alias issuer keys.
	TrustDir string `toml:"trust_dir,omitempty"`
	// JWKSURL fetches alias issuer keys remotely; must contain {issuer}.
	JWKSURL string `toml:"jwks_url,omitempty"`
	// AllowDIDKey resolves did:key alias issuers from the identifier itself.
	AllowDIDKey bool `toml:"allow_did_key,omitempty"`
	// SignatureTTL is the lifetime of a prepared signature.
	SignatureTTL Duration `toml:"signature_ttl,omitempty"`
	// MaxPendingSignatures bounds the signature map.
	MaxPendingSignatures int `toml:"max_pending_signatures,omitempty"`
	// PruneInterval is how often expired signatures are dropped.
	PruneInterval Duration `toml:"prune_interval,omitempty"`
}

func (s *Issuer) InitDefaults() {
	if s.SignatureTTL.Duration == 0 {
		s.SignatureTTL.Duration = time.Minute
	}
	if s.MaxPendingSignatures == 0 {
		s.MaxPendingSignatures = DefaultMaxPendingSignatures
	}
	if s.PruneInterval.Duration == 0 {
		s.PruneInterval.Duration = DefaultPruneInterval
	}
}

func (s *Issuer) Validate() error {
	if _, err := parseIDs("alias_issuers", s.AliasIssuers); err != nil {
		return err
	}
	if s.JWKSURL != "" {
		u, err := url.Parse(s.JWKSURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("jwks_url %q must be an http(s) URL", s.JWKSURL)
		}
		if !strings.Contains(s.JWKSURL, registry.IssuerPlaceholder) {
			return fmt.Errorf("jwks_url must contain %s", registry.IssuerPlaceholder)
		}
	}
	if s.SignatureTTL.Duration <= 0 {
		return errors.New("signature_ttl must be positive")
	}
	if s.MaxPendingSignatures < 0 {
		return errors.New("max_pending_signatures must not be negative")
	}
	if s.PruneInterval.Duration <= 0 {
		return errors.New("prune_interval must be positive")
	}
	return nil
}

// AliasIssuerIDs returns the parsed alias issuer identities.
func (s *Issuer) AliasIssuerIDs() []principal.ID {
	ids, _ := parseIDs("alias_issuers", s.AliasIssuers)
	return ids
}

// Log configures logging.
type Log struct {
	Level string `toml:"level,omitempty"`
}

func (l *Log) InitDefaults() {
	if l.Level == "" {
		l.Level = DefaultLogLevel
	}
}

func (l *Log) Validate() error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	return nil
}

// Assets configures the certified static assets.
type Assets struct {
	// Dir is served under / with every file certified. Empty disables assets.
	Dir string `toml:"dir,omitempty"`
}

func parseIDs(field string, raw []string) ([]principal.ID, error) {
	ids := make([]principal.ID, 0, len(raw))
	for _, s := range raw {
		id, err := principal.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %q: %w", field, s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
