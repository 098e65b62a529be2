package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/capiscio/meta-issuer/internal/storage"
	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/capiscio/meta-issuer/pkg/trust"
)

// Config is the durable issuer configuration.
type Config struct {
	// TrustRoot holds the keys of alias issuers that are trusted directly.
	TrustRoot trust.Root `json:"trust_root"`

	// AliasIssuers are tried in order when verifying an alias assertion.
	AliasIssuers []principal.ID `json:"alias_issuers"`

	// DerivationOrigin is the origin alias assertions must be derived for.
	DerivationOrigin string `json:"derivation_origin"`
}

// Validate checks that every alias issuer is a valid identity and every
// trust root key is usable.
func (c *Config) Validate() error {
	for _, id := range c.AliasIssuers {
		if _, err := principal.Parse(string(id)); err != nil {
			return fmt.Errorf("alias issuer %q: %w", id, err)
		}
	}
	if _, err := trust.NewMemoryStore(c.TrustRoot); err != nil {
		return fmt.Errorf("trust root: %w", err)
	}
	return nil
}

// LoadConfig reads the config cell. ok is false if it was never written.
func LoadConfig(ctx context.Context, store storage.Store) (cfg Config, ok bool, err error) {
	data, err := store.Config(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, apierror.Internal("read issuer config", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, apierror.Internal("decode issuer config", err)
	}
	return cfg, true, nil
}

// SaveConfig writes the config cell.
func SaveConfig(ctx context.Context, store storage.Store, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return apierror.Internal("encode issuer config", err)
	}
	if err := store.PutConfig(ctx, data); err != nil {
		return apierror.Internal("write issuer config", err)
	}
	return nil
}
