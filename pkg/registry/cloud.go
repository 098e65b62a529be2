package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/capiscio/meta-issuer/pkg/principal"
)

// IssuerPlaceholder is replaced by the path-escaped issuer identity in a CloudRegistry URL template.
const IssuerPlaceholder = "{issuer}"

// CloudRegistry fetches each issuer's JWKS over HTTP and caches it.
type CloudRegistry struct {
	// URLTemplate is the JWKS endpoint, e.g. https://keys.example.com/v1/issuers/{issuer}/jwks.json.
	URLTemplate string
	Client      *http.Client

	cache *expirable.LRU[principal.ID, []jose.JSONWebKey]
}

// CloudOption configures a CloudRegistry.
type CloudOption func(*cloudOptions)

type cloudOptions struct {
	ttl       time.Duration
	cacheSize int
	client    *http.Client
}

// WithCacheTTL sets how long fetched key sets are reused (default 5 minutes).
func WithCacheTTL(ttl time.Duration) CloudOption {
	return func(o *cloudOptions) { o.ttl = ttl }
}

// WithCacheSize bounds the number of cached issuers (default 256).
func WithCacheSize(n int) CloudOption {
	return func(o *cloudOptions) { o.cacheSize = n }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) CloudOption {
	return func(o *cloudOptions) { o.client = c }
}

// NewCloudRegistry creates a new CloudRegistry.
func NewCloudRegistry(urlTemplate string, opts ...CloudOption) *CloudRegistry {
	o := cloudOptions{
		ttl:       5 * time.Minute,
		cacheSize: 256,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &CloudRegistry{
		URLTemplate: urlTemplate,
		Client:      o.client,
		cache:       expirable.NewLRU[principal.ID, []jose.JSONWebKey](o.cacheSize, nil, o.ttl),
	}
}

func (r *CloudRegistry) endpoint(issuer principal.ID) string {
	return strings.ReplaceAll(r.URLTemplate, IssuerPlaceholder, url.PathEscape(string(issuer)))
}

// PublicKeys implements KeyResolver.
func (r *CloudRegistry) PublicKeys(ctx context.Context, issuer principal.ID) ([]jose.JSONWebKey, error) {
	if keys, ok := r.cache.Get(issuer); ok {
		return keys, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(issuer), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIssuer, issuer)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}
	if len(jwks.Keys) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty key set", ErrUnknownIssuer, issuer)
	}

	r.cache.Add(issuer, jwks.Keys)
	return jwks.Keys, nil
}

// Purge drops every cached key set.
func (r *CloudRegistry) Purge() {
	r.cache.Purge()
}
