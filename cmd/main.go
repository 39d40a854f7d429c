package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apihttp "github.com/frkb/fingerprint-sync/internal/api/http"
	"github.com/frkb/fingerprint-sync/internal/bloomcache"
	"github.com/frkb/fingerprint-sync/internal/cache"
	"github.com/frkb/fingerprint-sync/internal/config"
	"github.com/frkb/fingerprint-sync/internal/logger"
	"github.com/frkb/fingerprint-sync/internal/model"
	"github.com/frkb/fingerprint-sync/internal/repository/postgres"
	"github.com/frkb/fingerprint-sync/internal/server"
	"github.com/frkb/fingerprint-sync/internal/service"
	storage "github.com/frkb/fingerprint-sync/internal/storage/minio"
	"github.com/frkb/fingerprint-sync/internal/synclock"
	"github.com/frkb/fingerprint-sync/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)

	db, err := postgres.NewConection(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err)
	}
	defer db.Close()

	fingerprintRepo := postgres.NewFingerprintRepository(db)
	metaRepo := postgres.NewMetaRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	userRepo := postgres.NewUserRepository(db)

	minioClient, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal("failed to create minio client", "error", err)
	}
	storageClient, err := storage.NewClient(ctx, minioClient, cfg.Storage.Bucket)
	if err != nil {
		logger.Fatal("failed to initialize storage client", "error", err)
	}
	snapshotStore := storage.NewSnapshotStore(storageClient)

	bloomCache := bloomcache.New(
		bloomcache.Config{
			Enabled:           cfg.Bloom.Enabled,
			FalsePositiveRate: cfg.Bloom.FalsePositiveRate,
			MinCapacity:       cfg.Bloom.MinCapacity,
			BasicMultiplier:   cfg.Bloom.BasicMultiplier,
		},
		fingerprintRepo,
		snapshotStore,
		metaRepo,
		logger,
	)

	ephemeralCache := cache.New(cfg.Cache.Size, cfg.Cache.Enabled)
	locks := synclock.New(cfg.Sync.LockTTL)
	adminTokens := token.NewAdmin(cfg.Admin.JWTSecret, 0)

	syncEngine := service.NewSync(
		fingerprintRepo,
		metaRepo,
		sessionRepo,
		userRepo,
		bloomCache,
		ephemeralCache,
		locks,
		service.SyncConfig{
			BatchSize:            cfg.Sync.BatchSize,
			DiffSessionTTL:       cfg.Sync.DiffSessionTTL,
			DefaultPageSize:      cfg.Sync.DefaultPageSize,
			MaxAnalyzeClientSize: cfg.Sync.MaxAnalyzeClientSize,
			LockStaleAge:         cfg.Sync.LockStaleAge,
			SessionMapMaxAge:     cfg.Sync.SessionMapMaxAge,
			UserMetaCacheTTL:     cfg.Cache.UserMetaTTL,
		},
		logger,
	)

	handler := apihttp.NewSyncHandler(syncEngine, locks, ephemeralCache, logger)
	router := apihttp.NewRouter(handler, adminTokens, logger)
	httpServer := apihttp.NewServer(fmt.Sprintf(":%s", cfg.HTTP.Port), router.Register(), logger)

	var sl model.SecurityLayer
	if cfg.HTTP.EnableHTTPS {
		sl = server.NewTLSListener(cfg.HTTP.CertFileName, cfg.HTTP.PrivateKeyFileName)
	} else {
		sl = server.NewPlainListener()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func(s model.Server) {
		defer wg.Done()
		logger.Info("starting server on", "address", s.Address())
		if err := s.Start(sl); err != nil {
			logger.Error("failed to start server", "error", err)
		}
	}(httpServer)

	maintenanceTicker := time.NewTicker(cfg.Sync.MaintenanceInterval)
	defer maintenanceTicker.Stop()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-maintenanceTicker.C:
				syncEngine.RunMaintenance(ctx)
			}
		}
	}()

	logAppVersion()

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err, "address", httpServer.Address())
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`
	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
