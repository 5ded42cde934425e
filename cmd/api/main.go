package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduss/appdrive/internal/account"
	"github.com/abduss/appdrive/internal/auth"
	"github.com/abduss/appdrive/internal/blob"
	"github.com/abduss/appdrive/internal/config"
	"github.com/abduss/appdrive/internal/jobs"
	"github.com/abduss/appdrive/internal/logger"
	"github.com/abduss/appdrive/internal/metrics"
	"github.com/abduss/appdrive/internal/node"
	"github.com/abduss/appdrive/internal/ownership"
	"github.com/abduss/appdrive/internal/plan"
	"github.com/abduss/appdrive/internal/server"
	"github.com/abduss/appdrive/internal/share"
	"github.com/abduss/appdrive/internal/storage"
	"github.com/abduss/appdrive/internal/tree"
	"github.com/abduss/appdrive/internal/upload"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// a missing .env is fine; the environment may already be populated
	_ = godotenv.Load()

	log, err := logger.Init()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("appdrive api stopped", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.InitMetrics()

	dbPool, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbPool.Close()

	if cfg.Postgres.RunMigrations {
		if err := storage.Migrate(ctx, dbPool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	plans, err := loadPlans(cfg.Quota)
	if err != nil {
		return err
	}

	verifier, err := newVerifier(ctx, cfg.Identity)
	if err != nil {
		return err
	}

	txManager := storage.NewTxManager(dbPool)
	nodeRepo := node.NewRepository(dbPool)

	accounts := account.NewService(account.NewRepository(dbPool), plans, log)
	resolver := ownership.NewResolver(nodeRepo, accounts, txManager, log)
	treeService := tree.NewService(nodeRepo, resolver, accounts, blobs, txManager, tree.Options{
		Retention:   cfg.Trash.Retention,
		PurgeBatch:  cfg.Trash.PurgeBatch,
		DownloadTTL: cfg.Blob.PresignTTL,
	}, log)
	uploads := upload.NewService(upload.NewRepository(dbPool), accounts, resolver, treeService, blobs, txManager, upload.Options{
		SessionTTL:  cfg.Upload.SessionTTL,
		MaxFileSize: cfg.Upload.MaxFileSize,
	}, log)
	shares := share.NewService(share.NewRepository(dbPool), nodeRepo, accounts, blobs, share.Options{
		DefaultTTL:    cfg.Share.DefaultTTL,
		MaxTTL:        cfg.Share.MaxTTL,
		TokenBytes:    cfg.Share.TokenBytes,
		DownloadTTL:   cfg.Blob.PresignTTL,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	}, log)

	router := server.NewRouter(server.Dependencies{
		Config:    cfg,
		Log:       log,
		DB:        dbPool,
		Blobs:     blobs,
		Verifier:  verifier,
		Accounts:  accounts,
		Ownership: resolver,
		Tree:      treeService,
		Uploads:   uploads,
		Shares:    shares,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	runner := jobs.NewRunner(log,
		jobs.Job{
			Name:     "upload_expiry",
			Interval: cfg.Upload.SweepInterval,
			Run: func(ctx context.Context) (int, error) {
				return uploads.SweepExpired(ctx, cfg.Upload.SweepBatch)
			},
		},
		jobs.Job{
			Name:     "trash_purge",
			Interval: cfg.Trash.PurgeInterval,
			Run:      treeService.PurgeAllExpiredTrash,
		},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("AppDrive API listening", zap.String("addr", cfg.Server.Address()), zap.String("blob_driver", cfg.Blob.Driver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newBlobStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	switch cfg.Blob.Driver {
	case config.BlobDriverS3:
		store, err := blob.NewS3Store(ctx, cfg.S3, cfg.Blob.Bucket, cfg.Blob.PresignTTL, cfg.Blob.CallTimeout)
		if err != nil {
			return nil, fmt.Errorf("connect s3: %w", err)
		}
		return store, nil
	default:
		client, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		if err := storage.EnsureBucket(ctx, client, cfg.Blob.Bucket, cfg.MinIO.Region); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		return blob.NewMinIOStore(client, cfg.Blob.Bucket, cfg.Blob.PresignTTL, cfg.Blob.CallTimeout), nil
	}
}

func loadPlans(cfg config.QuotaConfig) (*plan.Catalog, error) {
	if cfg.PlanCatalogPath == "" {
		return plan.Defaults(cfg.DefaultPlanID, cfg.DefaultCapBytes), nil
	}
	catalog, err := plan.LoadCatalog(cfg.PlanCatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load plan catalog: %w", err)
	}
	return catalog, nil
}

func newVerifier(ctx context.Context, cfg config.IdentityConfig) (auth.Verifier, error) {
	if cfg.OIDCIssuerURL == "" {
		return auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience), nil
	}
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("oidc verifier: %w", err)
	}
	return verifier, nil
}
