package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capiscio/meta-issuer/internal/config"
	"github.com/capiscio/meta-issuer/internal/logging"
	"github.com/capiscio/meta-issuer/internal/storage"
	"github.com/capiscio/meta-issuer/internal/storage/sqlite"
	"github.com/capiscio/meta-issuer/pkg/api"
	"github.com/capiscio/meta-issuer/pkg/certification"
	"github.com/capiscio/meta-issuer/pkg/issuer"
	"github.com/capiscio/meta-issuer/pkg/registry"
	"github.com/capiscio/meta-issuer/pkg/trust"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the issuer API server",
	Example: `  # Write a sample configuration and a signing key, then serve
  metaissuer config sample > metaissuer.toml
  metaissuer key gen --out-priv issuer.jwk
  metaissuer serve -c metaissuer.toml`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Log.Level)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := newService(ctx, cfg, store, reg, logger)
	if err != nil {
		return err
	}

	var gatherer prometheus.Gatherer
	if cfg.Server.Metrics == "" {
		gatherer = reg
	}
	apiServer := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: api.NewHandler(svc, api.Options{
			Logger:      logger.Named("api"),
			TokenMaxAge: cfg.Server.TokenMaxAge.Duration,
			Gatherer:    gatherer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	servers := []*http.Server{apiServer}
	if cfg.Server.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		servers = append(servers, &http.Server{Addr: cfg.Server.Metrics, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	g, errCtx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return pruneLoop(errCtx, svc, cfg.Issuer.PruneInterval.Duration, logger)
	})
	g.Go(func() error {
		<-errCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		logger.Info("shut down")
		return errors.Join(errs...)
	})
	return g.Wait()
}

// newService wires the issuer from the server configuration.
func newService(ctx context.Context, cfg *config.Config, store storage.Store, reg prometheus.Registerer, logger *zap.Logger) (*issuer.Service, error) {
	key, keyID, err := loadPrivateKey(cfg.Signing.KeyFile)
	if err != nil {
		return nil, err
	}

	var resolvers []registry.KeyResolver
	if cfg.Issuer.TrustDir != "" {
		fileStore, err := trust.NewFileStore(cfg.Issuer.TrustDir)
		if err != nil {
			return nil, err
		}
		resolvers = append(resolvers, registry.NewTrustRegistry(fileStore))
	}
	if cfg.Issuer.JWKSURL != "" {
		resolvers = append(resolvers, registry.NewCloudRegistry(cfg.Issuer.JWKSURL))
	}
	if cfg.Issuer.AllowDIDKey {
		resolvers = append(resolvers, registry.DIDKeyRegistry{})
	}

	assets := certification.NewStaticAssets()
	if cfg.Assets.Dir != "" {
		if err := loadAssets(cfg.Assets.Dir, assets); err != nil {
			return nil, err
		}
	}

	return issuer.New(ctx, issuer.Options{
		Store:      store,
		SigningKey: key,
		KeyID:      keyID,
		IssuerURL:  cfg.Signing.IssuerURL,
		Signatures: certification.SignatureMapConfig{
			TTL:        cfg.Issuer.SignatureTTL.Duration,
			MaxEntries: cfg.Issuer.MaxPendingSignatures,
		},
		Admins: cfg.Server.AdminIDs(),
		InitialConfig: &issuer.Config{
			AliasIssuers:     cfg.Issuer.AliasIssuerIDs(),
			DerivationOrigin: cfg.Issuer.DerivationOrigin,
		},
		Resolvers:  resolvers,
		Assets:     assets,
		Logger:     logger.Named("issuer"),
		Registerer: reg,
	})
}

// loadAssets certifies every regular file under dir at its slash path.
func loadAssets(dir string, assets *certification.StaticAssets) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		urlPath := "/" + filepath.ToSlash(rel)
		return assets.Add(certification.Asset{
			Path:        urlPath,
			ContentType: mime.TypeByExtension(path.Ext(urlPath)),
			Content:     content,
		})
	})
}

func pruneLoop(ctx context.Context, svc *issuer.Service, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := svc.PruneExpired()
			if err != nil {
				logger.Error("pruning signatures failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("pruned expired signatures", zap.Int("count", n))
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
