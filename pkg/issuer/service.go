// Package issuer is the credential issuance engine. A Service owns the
// group registry, the issuer configuration, the pending signature map and
// the commitment certificate, and serializes every state access behind one
// mutex.
package issuer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/capiscio/meta-issuer/internal/logging"
	"github.com/capiscio/meta-issuer/internal/storage"
	"github.com/capiscio/meta-issuer/pkg/alias"
	"github.com/capiscio/meta-issuer/pkg/apierror"
	"github.com/capiscio/meta-issuer/pkg/authz"
	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/certification"
	"github.com/capiscio/meta-issuer/pkg/credential"
	"github.com/capiscio/meta-issuer/pkg/groups"
	"github.com/capiscio/meta-issuer/pkg/principal"
	"github.com/capiscio/meta-issuer/pkg/registry"
	"github.com/capiscio/meta-issuer/pkg/trust"
)

// Options configures a Service.
type Options struct {
	// Store is the durable store for groups, users and the config cell. Required.
	Store storage.Store

	// SigningKey certifies commitment roots. Required.
	SigningKey ed25519.PrivateKey
	KeyID      string

	// IssuerURL defaults to credential.DefaultIssuerURL.
	IssuerURL string

	// Seed defaults to credential.DefaultSeed().
	Seed []byte

	// Signatures bounds the pending signature map.
	Signatures certification.SignatureMapConfig

	// Admins may call Configure.
	Admins []principal.ID

	// InitialConfig is persisted if the store holds no config yet.
	InitialConfig *Config

	// Resolvers are consulted for alias issuer keys after the configured trust root.
	Resolvers []registry.KeyResolver

	// AliasChecker replaces the default alias verifier.
	AliasChecker alias.Checker

	// Assets are the certified static assets. They must only be changed
	// through Service.AddAsset afterwards.
	Assets *certification.StaticAssets

	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Service is the issuer engine.
type Service struct {
	mu sync.Mutex

	groups    *groups.Registry
	store     storage.Store
	config    Config
	trustRoot *trust.MemoryStore
	aliases   alias.Checker
	admins    map[principal.ID]struct{}

	sigs      *certification.SignatureMap
	assets    *certification.StaticAssets
	certifier rootCertifier
	publicKey ed25519.PublicKey
	keyID     string
	issuerURL string
	seed      []byte
	cert      string
	root      []byte

	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics
}

// rootCertifier signs commitment roots.
type rootCertifier interface {
	Certify(root []byte, now time.Time) (string, error)
}

// New creates a Service, loading the config cell from the store and
// certifying the initial commitment root.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("issuer: store is required")
	}
	if len(opts.SigningKey) != ed25519.PrivateKeySize {
		return nil, errors.New("issuer: an Ed25519 signing key is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	issuerURL := opts.IssuerURL
	if issuerURL == "" {
		issuerURL = credential.DefaultIssuerURL
	}
	seed := opts.Seed
	if seed == nil {
		seed = credential.DefaultSeed()
	}
	assets := opts.Assets
	if assets == nil {
		assets = certification.NewStaticAssets()
	}

	cfg, ok, err := LoadConfig(ctx, opts.Store)
	if err != nil {
		return nil, err
	}
	if !ok && opts.InitialConfig != nil {
		cfg = *opts.InitialConfig
		if err := cfg.Validate(); err != nil {
			return nil, apierror.InvalidArgument("initial config: %v", err)
		}
		if err := SaveConfig(ctx, opts.Store, cfg); err != nil {
			return nil, err
		}
	}
	trustRoot, err := trust.NewMemoryStore(cfg.TrustRoot)
	if err != nil {
		return nil, apierror.Internal("load trust root", err)
	}

	aliases := opts.AliasChecker
	if aliases == nil {
		resolvers := append(registry.Chain{registry.NewTrustRegistry(trustRoot)}, opts.Resolvers...)
		aliases = alias.NewVerifier(resolvers, logger.Named("alias"))
	}

	certifier, err := certification.NewCertifier(opts.SigningKey, opts.KeyID, issuerURL)
	if err != nil {
		return nil, err
	}

	admins := make(map[principal.ID]struct{}, len(opts.Admins))
	for _, a := range opts.Admins {
		admins[a] = struct{}{}
	}

	s := &Service{
		groups:    groups.NewRegistry(opts.Store, logger.Named("groups")),
		store:     opts.Store,
		config:    cfg,
		trustRoot: trustRoot,
		aliases:   aliases,
		admins:    admins,
		sigs:      certification.NewSignatureMap(opts.Signatures),
		assets:    assets,
		certifier: certifier,
		publicKey: opts.SigningKey.Public().(ed25519.PublicKey),
		keyID:     opts.KeyID,
		issuerURL: issuerURL,
		seed:      seed,
		now:       now,
		logger:    logger,
		metrics:   newMetrics(opts.Registerer),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.certifyLocked(s.sigs, now()); err != nil {
		return nil, err
	}
	return s, nil
}

// certifyLocked certifies the commitment root over the assets and sigs. Only
// once the root is certified does sigs replace the current signature map;
// on error the service state is left untouched.
func (s *Service) certifyLocked(sigs *certification.SignatureMap, now time.Time) error {
	root := certification.CommitmentRoot(s.assets.Root(), sigs.Root())
	cert, err := s.certifier.Certify(root, now)
	if err != nil {
		return apierror.Internal("certify commitment root", err)
	}
	sigs.MarkFinalized()
	s.sigs, s.cert, s.root = sigs, cert, root
	s.metrics.pending.Set(float64(s.sigs.Len()))
	s.metrics.certificate.Set(float64(now.Unix()))
	return nil
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logging.FromCtx(ctx, s.logger)
}

// aliasSettings returns the alias issuers and derivation origin currently configured.
func (s *Service) aliasSettings() ([]principal.ID, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.config.AliasIssuers), s.config.DerivationOrigin
}

// authorize verifies the alias assertion and resolves the requested spec.
// It runs without the lock.
func (s *Service) authorize(ctx context.Context, caller principal.ID, signed SignedIDAlias, spec catalog.Spec, owner principal.ID) (alias.Tuple, catalog.Spec, principal.ID, error) {
	trusted, origin := s.aliasSettings()
	tuple, err := s.aliases.Verify(ctx, signed.CredentialJWS, caller, trusted, origin, s.now())
	if err != nil {
		return alias.Tuple{}, catalog.Spec{}, principal.Anonymous, err
	}
	plain, owner, err := catalog.Resolve(spec, owner)
	if err != nil {
		return alias.Tuple{}, catalog.Spec{}, principal.Anonymous, err
	}
	return tuple, plain, owner, nil
}

// PrepareCredential checks the caller's alias and claim and registers the
// credential's signing digest for certification. The returned prepared
// context is the unsigned credential.
func (s *Service) PrepareCredential(ctx context.Context, caller principal.ID, req PrepareCredentialRequest) (_ PreparedCredential, err error) {
	defer func() { s.metrics.prepared.WithLabelValues(result(err)).Inc() }()

	tuple, plain, owner, err := s.authorize(ctx, caller, req.SignedIDAlias, req.CredentialSpec, req.Owner)
	if err != nil {
		return PreparedCredential{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := authz.VerifyPrincipalOwnsCredential(ctx, s.groups, tuple.IDDapp, plain, owner); err != nil {
		return PreparedCredential{}, err
	}

	now := s.now()
	jwt, err := credential.Build(credential.Params{
		Spec:      plain,
		Subject:   tuple.IDAlias,
		IssuerURL: s.issuerURL,
		IssuerKey: s.publicKey,
		KeyID:     s.keyID,
		Seed:      s.seed,
		Now:       now,
	})
	if err != nil {
		return PreparedCredential{}, apierror.Internal("build credential", err)
	}
	digest, err := credential.Digest(jwt)
	if err != nil {
		return PreparedCredential{}, apierror.Internal("credential digest", err)
	}
	next := s.sigs.Clone()
	if err := next.Add(digest, now); err != nil {
		return PreparedCredential{}, err
	}
	if err := s.certifyLocked(next, now); err != nil {
		return PreparedCredential{}, err
	}

	s.log(ctx).Info("credential prepared",
		zap.String("credential_type", plain.CredentialType),
		zap.Stringer("owner", owner),
		zap.String("digest", digest.Hex()))
	return PreparedCredential{PreparedContext: jwt}, nil
}

// GetCredential returns the signed credential for a prepared context. The
// alias and the claim are checked again; the signature must have been
// prepared and not yet expired.
func (s *Service) GetCredential(ctx context.Context, caller principal.ID, req GetCredentialRequest) (_ IssuedCredential, err error) {
	defer func() { s.metrics.issued.WithLabelValues(result(err)).Inc() }()

	tuple, plain, owner, err := s.authorize(ctx, caller, req.SignedIDAlias, req.CredentialSpec, req.Owner)
	if err != nil {
		return IssuedCredential{}, err
	}

	if req.PreparedContext == "" {
		return IssuedCredential{}, apierror.Internal("missing prepared_context", nil)
	}
	_, claims, err := credential.Parse(req.PreparedContext)
	if err != nil {
		return IssuedCredential{}, apierror.Internal("invalid prepared_context", err)
	}
	prepared, err := claims.Spec()
	if err != nil {
		return IssuedCredential{}, apierror.Internal("invalid prepared_context", err)
	}
	if claims.Subject != tuple.IDAlias {
		return IssuedCredential{}, apierror.UnauthorizedSubject("prepared_context was not prepared for id alias %s", tuple.IDAlias)
	}
	if !prepared.Equal(plain) {
		return IssuedCredential{}, apierror.UnsupportedSpec("prepared_context does not match credential %s", plain.CredentialType)
	}
	digest, err := credential.Digest(req.PreparedContext)
	if err != nil {
		return IssuedCredential{}, apierror.Internal("invalid prepared_context", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := authz.VerifyPrincipalOwnsCredential(ctx, s.groups, tuple.IDDapp, plain, owner); err != nil {
		return IssuedCredential{}, err
	}
	w, err := s.sigs.Witness(digest, s.now())
	if err != nil {
		return IssuedCredential{}, err
	}
	token, err := credential.Assemble(req.PreparedContext, certification.CertifiedSignature{
		Certificate: s.cert,
		LeafIndex:   w.LeafIndex,
		TreeSize:    w.TreeSize,
		Proof:       w.Proof,
		AssetRoot:   s.assets.Root(),
	})
	if err != nil {
		return IssuedCredential{}, apierror.Internal("assemble credential", err)
	}

	s.log(ctx).Info("credential issued",
		zap.String("credential_type", plain.CredentialType),
		zap.Stringer("owner", owner))
	return IssuedCredential{VCJWS: token}, nil
}

// PruneExpired drops expired pending signatures and recertifies if any were removed.
func (s *Service) PruneExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	next := s.sigs.Clone()
	n, err := next.Prune(now)
	if err != nil || n == 0 {
		return n, err
	}
	if err := s.certifyLocked(next, now); err != nil {
		return 0, err
	}
	return n, nil
}

// ConsentMessage renders the consent text for a spec.
func (s *Service) ConsentMessage(req ConsentRequest) (catalog.ConsentInfo, error) {
	return catalog.ConsentMessage(req.CredentialSpec, req.Owner)
}

// DerivationOrigin returns the configured derivation origin. The frontend
// hostname is accepted for compatibility and not used.
func (s *Service) DerivationOrigin(_ string) DerivationOriginData {
	_, origin := s.aliasSettings()
	return DerivationOriginData{Origin: origin}
}

// GroupTypes lists the group names that map to credential types.
func (s *Service) GroupTypes() []catalog.GroupType {
	return catalog.GroupTypes()
}

// CertifiedData returns the current commitment certificate and the roots it covers.
func (s *Service) CertifiedData() CertifiedData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CertifiedData{
		Certificate:   s.cert,
		Root:          slices.Clone(s.root),
		AssetRoot:     s.assets.Root(),
		SignatureRoot: s.sigs.Root(),
		IssuerKey:     s.PublicJWK(),
		IssuerURL:     s.issuerURL,
	}
}

// PublicJWK returns the issuer's public key.
func (s *Service) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{Key: s.publicKey, KeyID: s.keyID, Algorithm: string(jose.EdDSA), Use: "sig"}
}

// AddAsset certifies a static asset and recertifies the commitment root.
func (s *Service) AddAsset(a certification.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.assets.Add(a); err != nil {
		return err
	}
	return s.certifyLocked(s.sigs, s.now())
}

// CertifiedAsset returns the asset at path with the proof that it is
// covered by the current certificate.
func (s *Service) CertifiedAsset(path string) (certification.Asset, certification.CertifiedAsset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets.Get(path)
	if !ok {
		return certification.Asset{}, certification.CertifiedAsset{}, false
	}
	w, ok := s.assets.Witness(path)
	if !ok {
		return certification.Asset{}, certification.CertifiedAsset{}, false
	}
	return a, certification.CertifiedAsset{
		Certificate: s.cert,
		LeafIndex:   w.LeafIndex,
		TreeSize:    w.TreeSize,
		Proof:       w.Proof,
		SigRoot:     s.sigs.Root(),
	}, true
}

// Configure replaces the issuer configuration. Only admins may call it.
func (s *Service) Configure(ctx context.Context, caller principal.ID, cfg Config) error {
	if caller.IsAnonymous() {
		return apierror.NotAuthenticated("configure requires an authenticated caller")
	}
	if _, ok := s.admins[caller]; !ok {
		return apierror.NotAuthorized("%s may not configure the issuer", caller)
	}
	if err := cfg.Validate(); err != nil {
		return apierror.InvalidArgument("%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := SaveConfig(ctx, s.store, cfg); err != nil {
		return err
	}
	if err := s.trustRoot.Replace(cfg.TrustRoot); err != nil {
		return apierror.Internal("install trust root", err)
	}
	s.config = cfg
	s.log(ctx).Info("issuer configured",
		zap.Stringer("caller", caller),
		zap.Int("alias_issuers", len(cfg.AliasIssuers)),
		zap.String("derivation_origin", cfg.DerivationOrigin))
	return nil
}

// Config returns the current configuration.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.config
	cfg.AliasIssuers = slices.Clone(cfg.AliasIssuers)
	return cfg
}
