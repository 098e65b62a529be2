package api_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiscio/meta-issuer/internal/storage"
	"github.com/capiscio/meta-issuer/pkg/alias"
	"github.com/capiscio/meta-issuer/pkg/api"
	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/certification"
	"github.com/capiscio/meta-issuer/pkg/credential"
	"github.com/capiscio/meta-issuer/pkg/did"
	"github.com/capiscio/meta-issuer/pkg/groups"
	"github.com/capiscio/meta-issuer/pkg/issuer"
	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/capiscio/meta-issuer/pkg/registry"
)

const origin = "https://rp.example"

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func now() time.Time { return fixedNow }

type identity struct {
	id  principal.ID
	key ed25519.PrivateKey
}

func newIdentity(t *testing.T) identity {
	t.Helper()
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return identity{id: principal.ID(did.NewKeyDID(pub)), key: key}
}

type fixture struct {
	server    *httptest.Server
	svc       *issuer.Service
	issuerPub ed25519.PublicKey
	idp       identity
	owner     identity
	user      identity
	admin     identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	f := &fixture{
		issuerPub: pub,
		idp:       newIdentity(t),
		owner:     newIdentity(t),
		user:      newIdentity(t),
		admin:     newIdentity(t),
	}
	reg := prometheus.NewRegistry()
	f.svc, err = issuer.New(context.Background(), issuer.Options{
		Store:      storage.NewMemoryStore(),
		SigningKey: priv,
		Admins:     []principal.ID{f.admin.id},
		InitialConfig: &issuer.Config{
			AliasIssuers:     []principal.ID{f.idp.id},
			DerivationOrigin: origin,
		},
		Resolvers:  []registry.KeyResolver{registry.DIDKeyRegistry{}},
		Registerer: reg,
		Now:        now,
	})
	require.NoError(t, err)

	f.server = httptest.NewServer(api.NewHandler(f.svc, api.Options{Now: now, Gatherer: reg}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) client(who *identity) *api.Client {
	var key ed25519.PrivateKey
	if who != nil {
		key = who.key
	}
	c := api.NewClient(f.server.URL, key)
	c.HTTPClient = f.server.Client()
	c.Now = now
	return c
}

func (f *fixture) alias(t *testing.T, subject principal.ID) issuer.SignedIDAlias {
	t.Helper()
	token, err := alias.Issue(alias.Claims{
		Issuer:   f.idp.id,
		Subject:  subject,
		IDAlias:  "did:web:alias.example:rp:1",
		Origin:   origin,
		IssuedAt: fixedNow.Unix(),
		Expiry:   fixedNow.Add(10 * time.Minute).Unix(),
	}, f.idp.key, "")
	require.NoError(t, err)
	return issuer.SignedIDAlias{CredentialJWS: token}
}

func TestIssuanceOverHTTP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.client(&f.owner)
	user := f.client(&f.user)

	group, err := owner.AddGroup(ctx, "Verified Age")
	require.NoError(t, err)
	assert.Equal(t, f.owner.id, group.Owner)

	args := catalog.Arguments{"ageAtLeast": catalog.IntValue(21)}
	require.NoError(t, user.JoinGroup(ctx, groups.JoinRequest{GroupName: "Verified Age", Owner: f.owner.id, Arguments: args}))
	require.NoError(t, owner.UpdateMembership(ctx, "Verified Age", []groups.MembershipUpdate{
		{Member: f.user.id, NewStatus: groups.Accepted},
	}))

	full, err := owner.GetGroup(ctx, "Verified Age")
	require.NoError(t, err)
	require.Len(t, full.Members, 1)
	assert.Equal(t, groups.Accepted, full.Members[0].Status)

	spec := catalog.Spec{CredentialType: catalog.TypeVerifiedAge, Arguments: catalog.Arguments{"ageAtLeast": catalog.IntValue(18)}}
	signed := f.alias(t, f.user.id)
	prepared, err := user.PrepareCredential(ctx, issuer.PrepareCredentialRequest{CredentialSpec: spec, Owner: f.owner.id, SignedIDAlias: signed})
	require.NoError(t, err)

	issued, err := user.GetCredential(ctx, issuer.GetCredentialRequest{
		CredentialSpec: spec, Owner: f.owner.id, SignedIDAlias: signed, PreparedContext: prepared.PreparedContext,
	})
	require.NoError(t, err)

	published, err := user.CertifiedData(ctx)
	require.NoError(t, err)
	_, err = credential.Verify(issued.VCJWS, credential.VerifyOptions{
		IssuerKey:     f.issuerPub,
		PublishedRoot: published.Root,
		Spec:          &spec,
		Now:           now,
	})
	assert.NoError(t, err)
}

func TestErrorsCarryCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client(nil).AddGroup(ctx, "Verified Age")
	assert.ErrorIs(t, err, apierror.ErrNotAuthenticated)

	_, err = f.client(&f.owner).GetGroup(ctx, "Verified Age")
	assert.ErrorIs(t, err, apierror.ErrNotFound)

	_, err = f.client(&f.owner).AddGroup(ctx, "Verified Age")
	require.NoError(t, err)
	_, err = f.client(&f.owner).AddGroup(ctx, "Verified Age")
	assert.ErrorIs(t, err, apierror.ErrAlreadyExists)

	err = f.client(&f.user).Configure(ctx, issuer.Config{DerivationOrigin: origin, AliasIssuers: []principal.ID{f.idp.id}})
	assert.ErrorIs(t, err, apierror.ErrNotAuthorized)
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t)

	do := func(header string) (*http.Response, api.ErrorBody) {
		req, err := http.NewRequest(http.MethodGet, f.server.URL+api.BasePath+"/user", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := f.server.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var body api.ErrorBody
		if resp.StatusCode >= 400 {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		}
		return resp, body
	}

	resp, body := do("")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeNotAuthenticated, body.Code)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = do("Basic dXNlcjpwYXNz")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apierror.CodeNotAuthenticated, body.Code)

	stale, err := api.NewCallerToken(f.user.key, fixedNow.Add(-time.Hour), 2*time.Hour)
	require.NoError(t, err)
	resp, _ = do("Bearer " + stale)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	fresh, err := api.NewCallerToken(f.user.key, fixedNow, time.Minute)
	require.NoError(t, err)
	resp, body = do("Bearer " + fresh)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apierror.CodeNotFound, body.Code)
}

func TestVerifyCallerToken(t *testing.T) {
	who := newIdentity(t)
	token, err := api.NewCallerToken(who.key, fixedNow, time.Minute)
	require.NoError(t, err)

	caller, err := api.VerifyCallerToken(token, fixedNow.Add(30*time.Second), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, who.id, caller)

	_, err = api.VerifyCallerToken(token, fixedNow.Add(2*time.Minute), 5*time.Minute)
	assert.ErrorIs(t, err, api.ErrInvalidCallerToken)

	_, err = api.VerifyCallerToken(token, fixedNow.Add(-2*time.Minute), 5*time.Minute)
	assert.ErrorIs(t, err, api.ErrInvalidCallerToken)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(make([]byte, ed25519.SignatureSize))
	_, err = api.VerifyCallerToken(tampered, fixedNow, 5*time.Minute)
	assert.ErrorIs(t, err, api.ErrInvalidCallerToken)
}

func TestUserAndQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client(&f.user)

	nick := "alice"
	require.NoError(t, c.SetUser(ctx, groups.User{UserNickname: &nick}))
	u, err := c.GetUser(ctx)
	require.NoError(t, err)
	require.NotNil(t, u.UserNickname)
	assert.Equal(t, "alice", *u.UserNickname)

	types, err := f.client(nil).GroupTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 4)

	origins, err := f.client(nil).DerivationOrigin(ctx, "rp.example")
	require.NoError(t, err)
	assert.Equal(t, origin, origins.Origin)

	list, err := f.client(nil).ListGroups(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)

	info, err := f.client(nil).ConsentMessage(ctx, issuer.ConsentRequest{
		CredentialSpec: catalog.Spec{CredentialType: catalog.TypeVerifiedAge, Arguments: catalog.Arguments{"ageAtLeast": catalog.IntValue(18)}},
		Owner:          f.owner.id,
	})
	require.NoError(t, err)
	assert.Equal(t, "en", info.Language)
}

func TestRejectsUnknownFields(t *testing.T) {
	f := newFixture(t)
	resp, err := f.server.Client().Post(f.server.URL+api.BasePath+"/credentials/consent", "application/json",
		strings.NewReader(`{"credential_spec":{},"bogus":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body api.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, apierror.CodeInvalidArgument, body.Code)
}

func TestCertifiedAssetsAndMetrics(t *testing.T) {
	f := newFixture(t)
	content := []byte("<html>issuer</html>")
	require.NoError(t, f.svc.AddAsset(certification.Asset{Path: "/index.html", ContentType: "text/html", Content: content}))

	resp, err := f.server.Client().Get(f.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	raw, err := base64.RawURLEncoding.DecodeString(resp.Header.Get(api.CertificateHeader))
	require.NoError(t, err)
	var ca certification.CertifiedAsset
	require.NoError(t, json.Unmarshal(raw, &ca))
	_, err = certification.VerifyCertifiedAsset("/index.html", content, ca, f.issuerPub)
	assert.NoError(t, err)

	missing, err := f.server.Client().Get(f.server.URL + "/nope.js")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	metrics, err := f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	text, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "metaissuer_certificate_timestamp_seconds")
}
