package issuer

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/certification"
	"github.com/capiscio/meta-issuer/pkg/credential"
)

type failingCertifier struct{}

func (failingCertifier) Certify([]byte, time.Time) (string, error) {
	return "", errors.New("signer unavailable")
}

var certifyT0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newCertifyService(t *testing.T, c rootCertifier) *Service {
	t.Helper()
	return &Service{
		sigs:      certification.NewSignatureMap(certification.SignatureMapConfig{TTL: time.Minute}),
		assets:    certification.NewStaticAssets(),
		certifier: c,
		cert:      "previous-certificate",
		root:      []byte("previous-root"),
		now:       func() time.Time { return certifyT0 },
		metrics:   newMetrics(nil),
	}
}

func signingDigest(msg string) certification.Digest {
	return certification.SigningDigest(credential.SigningDomain, credential.DefaultSeed(), []byte(msg))
}

func TestFailedCertificationLeavesSignaturesUnchanged(t *testing.T) {
	s := newCertifyService(t, failingCertifier{})
	current := s.sigs
	root := current.Root()
	d := signingDigest("header.payload")

	next := s.sigs.Clone()
	require.NoError(t, next.Add(d, certifyT0))
	err := s.certifyLocked(next, certifyT0)
	assert.ErrorIs(t, err, apierror.ErrInternal)

	assert.Same(t, current, s.sigs)
	assert.Equal(t, 0, s.sigs.Len())
	_, found := s.sigs.State(d)
	assert.False(t, found)
	assert.Equal(t, root, s.sigs.Root())
	assert.Equal(t, "previous-certificate", s.cert)
	assert.Equal(t, []byte("previous-root"), s.root)
}

func TestFailedPruneCertificationKeepsEntries(t *testing.T) {
	s := newCertifyService(t, failingCertifier{})
	require.NoError(t, s.sigs.Add(signingDigest("a"), certifyT0))
	require.NoError(t, s.sigs.Add(signingDigest("b"), certifyT0))
	root := s.sigs.Root()

	s.now = func() time.Time { return certifyT0.Add(2 * time.Minute) }
	n, err := s.PruneExpired()
	assert.ErrorIs(t, err, apierror.ErrInternal)
	assert.Zero(t, n)
	assert.Equal(t, 2, s.sigs.Len())
	assert.Equal(t, root, s.sigs.Root())
}

func TestCertificationAdoptsCandidate(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	c, err := certification.NewCertifier(priv, "issuer-1", credential.DefaultIssuerURL)
	require.NoError(t, err)
	s := newCertifyService(t, c)
	d := signingDigest("header.payload")

	next := s.sigs.Clone()
	require.NoError(t, next.Add(d, certifyT0))
	require.NoError(t, s.certifyLocked(next, certifyT0))

	assert.Same(t, next, s.sigs)
	state, found := s.sigs.State(d)
	require.True(t, found)
	assert.Equal(t, certification.Finalized, state)
	assert.Equal(t, certification.CommitmentRoot(s.assets.Root(), next.Root()), s.root)
	assert.NotEqual(t, "previous-certificate", s.cert)
}
