package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/groups"
	"github.com/capiscio/meta-issuer/pkg/issuer"
)

// Client calls a metaissuer API server. A Client without a key calls as Anonymous.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Key        ed25519.PrivateKey

	// TokenTTL bounds the bearer tokens the client mints per request.
	TokenTTL time.Duration
	Now      func() time.Time
}

// NewClient returns a client for baseURL signing requests with key.
func NewClient(baseURL string, key ed25519.PrivateKey) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Key:        key,
		TokenTTL:   time.Minute,
	}
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+BasePath+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Key != nil {
		token, err := NewCallerToken(c.Key, c.now(), c.TokenTTL)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return apierror.FromCode(e.Code, e.Message)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func groupPath(name string, suffix string) string {
	return "/groups/" + url.PathEscape(name) + suffix
}

// AddGroup creates a group owned by the caller.
func (c *Client) AddGroup(ctx context.Context, name string) (groups.FullGroupData, error) {
	var out groups.FullGroupData
	err := c.do(ctx, http.MethodPost, "/groups/", addGroupRequest{GroupName: name}, &out)
	return out, err
}

// GetGroup returns the caller's view of the caller-owned group name.
func (c *Client) GetGroup(ctx context.Context, name string) (groups.FullGroupData, error) {
	var out groups.FullGroupData
	err := c.do(ctx, http.MethodGet, groupPath(name, ""), nil, &out)
	return out, err
}

// ListGroups lists groups whose name contains substring.
func (c *Client) ListGroups(ctx context.Context, substring string) ([]groups.PublicGroupData, error) {
	var out listGroupsResponse
	path := "/groups/"
	if substring != "" {
		path += "?substring=" + url.QueryEscape(substring)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Groups, err
}

// JoinGroup asks to join a group.
func (c *Client) JoinGroup(ctx context.Context, req groups.JoinRequest) error {
	return c.do(ctx, http.MethodPost, groupPath(req.GroupName, "/join"), req, nil)
}

// UpdateMembership changes member statuses in a caller-owned group.
func (c *Client) UpdateMembership(ctx context.Context, name string, updates []groups.MembershipUpdate) error {
	return c.do(ctx, http.MethodPost, groupPath(name, "/membership"), updateMembershipRequest{Updates: updates}, nil)
}

// GroupTypes lists the supported group types.
func (c *Client) GroupTypes(ctx context.Context) ([]catalog.GroupType, error) {
	var out []catalog.GroupType
	err := c.do(ctx, http.MethodGet, "/group-types", nil, &out)
	return out, err
}

// SetUser stores the caller's profile.
func (c *Client) SetUser(ctx context.Context, u groups.User) error {
	return c.do(ctx, http.MethodPut, "/user", u, nil)
}

// GetUser returns the caller's profile.
func (c *Client) GetUser(ctx context.Context) (groups.User, error) {
	var out groups.User
	err := c.do(ctx, http.MethodGet, "/user", nil, &out)
	return out, err
}

// PrepareCredential runs the first issuance phase.
func (c *Client) PrepareCredential(ctx context.Context, req issuer.PrepareCredentialRequest) (issuer.PreparedCredential, error) {
	var out issuer.PreparedCredential
	err := c.do(ctx, http.MethodPost, "/credentials/prepare", req, &out)
	return out, err
}

// GetCredential runs the second issuance phase.
func (c *Client) GetCredential(ctx context.Context, req issuer.GetCredentialRequest) (issuer.IssuedCredential, error) {
	var out issuer.IssuedCredential
	err := c.do(ctx, http.MethodPost, "/credentials/get", req, &out)
	return out, err
}

// ConsentMessage returns the consent text for a credential spec.
func (c *Client) ConsentMessage(ctx context.Context, req issuer.ConsentRequest) (catalog.ConsentInfo, error) {
	var out catalog.ConsentInfo
	err := c.do(ctx, http.MethodPost, "/credentials/consent", req, &out)
	return out, err
}

// DerivationOrigin returns the configured alias derivation origin.
func (c *Client) DerivationOrigin(ctx context.Context, hostname string) (issuer.DerivationOriginData, error) {
	var out issuer.DerivationOriginData
	err := c.do(ctx, http.MethodGet, "/derivation-origin?frontend_hostname="+url.QueryEscape(hostname), nil, &out)
	return out, err
}

// CertifiedData returns the current certified commitment.
func (c *Client) CertifiedData(ctx context.Context) (issuer.CertifiedData, error) {
	var out issuer.CertifiedData
	err := c.do(ctx, http.MethodGet, "/certified-data", nil, &out)
	return out, err
}

// Configure replaces the issuer configuration. Admin only.
func (c *Client) Configure(ctx context.Context, cfg issuer.Config) error {
	return c.do(ctx, http.MethodPut, "/config", cfg, nil)
}
