// StackDrive Server
//
// Features:
// - JWT-authenticated file API with per-account storage plans
// - Content-addressed blob storage on S3/MinIO with presigned downloads
// - File sharing with per-recipient permission grants
// - SSE change notifications
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stackdrive/stackdrive/internal/api"
	"github.com/stackdrive/stackdrive/internal/auth"
	"github.com/stackdrive/stackdrive/internal/blob"
	"github.com/stackdrive/stackdrive/internal/config"
	"github.com/stackdrive/stackdrive/internal/events"
	"github.com/stackdrive/stackdrive/internal/logging"
	"github.com/stackdrive/stackdrive/internal/metrics"
	"github.com/stackdrive/stackdrive/internal/quota"
	"github.com/stackdrive/stackdrive/internal/registry"
	"github.com/stackdrive/stackdrive/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("StackDrive Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	store, err := registry.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	// Run migrations
	migrationsDir := findMigrationsDir(cfg.MigrationsDir)
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := store.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Quota ledger shares the registry's connection pool
	ledger := quota.NewPostgresLedger(store.DB())

	// Initialize blob storage
	blobs, err := blob.NewS3Store(ctx, blob.S3Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
	})
	if err != nil {
		logging.Fatal("blob store init failed", zap.Error(err))
	}
	logging.Info("blob store initialized", zap.String("bucket", cfg.S3Bucket))

	// Initialize SSE broadcaster
	broadcaster := events.NewBroadcaster()

	// Wire the core service and API server
	svc := service.New(store, ledger, blobs, broadcaster, cfg.DefaultAllottedBytes)
	authHandler := auth.New(cfg.JWTSecret)
	srv := api.NewServer(svc, blobs, authHandler, broadcaster, cfg.MaxUploadSize)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.UpdateConnectionMetrics()
			}
		}
	}()

	// Start quota reconciliation sweeps
	reconciler := service.NewReconciler(store, ledger, cfg.ReconcileInterval)
	go reconciler.Run(ctx)
	logging.Info("quota reconciler started", zap.Duration("interval", cfg.ReconcileInterval))

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir(configured string) string {
	candidates := []string{
		configured,
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
