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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/museum-admin-api/internal/handler"
	"github.com/noah-isme/museum-admin-api/internal/models"
	"github.com/noah-isme/museum-admin-api/internal/repository"
	"github.com/noah-isme/museum-admin-api/internal/router"
	"github.com/noah-isme/museum-admin-api/internal/service"
	"github.com/noah-isme/museum-admin-api/pkg/cache"
	"github.com/noah-isme/museum-admin-api/pkg/config"
	"github.com/noah-isme/museum-admin-api/pkg/database"
	"github.com/noah-isme/museum-admin-api/pkg/export"
	"github.com/noah-isme/museum-admin-api/pkg/jobs"
	"github.com/noah-isme/museum-admin-api/pkg/mailer"
	"github.com/noah-isme/museum-admin-api/pkg/storage"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply pending migrations before serving")
	return cmd
}

func serve(migrate bool) error {
	cfg, logr := app.cfg, app.logger
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer db.Close()
	migrated := false
	if migrate {
		applied, err := database.Migrate(ctx, db)
		if err != nil {
			return err
		}
		logr.Info("migrations applied", zap.Strings("versions", applied))
		migrated = len(applied) > 0
	}

	metricsSvc := service.NewMetricsService()
	var (
		cacheRepo  service.CacheRepository
		redisCache *repository.CacheRepository
	)
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, donation cache disabled", zap.Error(err))
		} else {
			redisCache = repository.NewCacheRepository(client, "museum", logr)
			defer redisCache.Close() //nolint:errcheck
			cacheRepo = redisCache
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Donations.CacheTTL, logr, cfg.Donations.CacheEnabled && redisCache != nil)
	if migrated {
		// Cached details may predate the new schema.
		_ = cacheSvc.Invalidate(ctx, service.DonationDetailCachePattern)
	}

	files, err := storage.NewLocalStorage(cfg.Donations.StorageDir)
	if err != nil {
		return fmt.Errorf("failed to prepare storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Donations.SignedURLSecret, cfg.Donations.SignedURLTTL)

	templates, err := mailer.LoadTemplates(cfg.Notifications.TemplatesFile)
	if err != nil {
		return err
	}
	for _, event := range models.DonationEvents {
		if !templates.Has(string(event)) {
			return fmt.Errorf("email template %q is missing", event)
		}
	}
	notifier := service.NewNotificationService(nil, mailer.New(cfg.SMTP, templates, logr), metricsSvc, logr, service.NotificationServiceConfig{
		Enabled:    cfg.Notifications.Enabled,
		MuseumName: cfg.Museum.Name,
	})
	queue := jobs.NewQueue("donor-notifications", notifier.Handle, jobs.QueueConfig{
		Workers:     cfg.Notifications.Workers,
		BufferSize:  cfg.Notifications.BufferSize,
		MaxRetries:  cfg.Notifications.MaxRetries,
		RetryDelay:  cfg.Notifications.RetryDelay,
		Logger:      logr,
		OnExhausted: notifier.Exhausted,
	})
	notifier.AttachQueue(queue)
	queue.Start(ctx)
	defer queue.Stop()
	logr.Info("job queue started", zap.String("queue", queue.Name()), zap.Int("workers", cfg.Notifications.Workers))

	donationRepo := repository.NewDonationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	attachmentSvc := service.NewAttachmentService(repository.NewAttachmentRepository(db), files, signer, metricsSvc, logr, service.AttachmentServiceConfig{
		MaxFileSize:  cfg.Donations.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Donations.AllowedMIMEs,
		APIPrefix:    cfg.APIPrefix,
	})
	workflowSvc := service.NewDonationWorkflowService(donationRepo, attachmentSvc, notifier, cacheSvc, auditRepo, metricsSvc, validator.New(), logr, service.DonationWorkflowConfig{
		NotificationWait: cfg.Notifications.WaitTimeout,
	})
	querySvc := service.NewDonationQueryService(donationRepo, attachmentSvc, auditRepo, cacheSvc, export.NewCSVExporter(), logr, service.DonationQueryConfig{
		CacheTTL:     cfg.Donations.CacheTTL,
		SignedURLTTL: cfg.Donations.SignedURLTTL,
	})
	letterSvc := service.NewAppreciationLetterService(donationRepo, export.NewLetterRenderer(), logr, service.AppreciationLetterConfig{
		MuseumName: cfg.Museum.Name,
		Signatory:  cfg.Museum.Signatory,
	})
	tokens := service.NewTokenService(service.TokenConfig{Secret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	checks := map[string]handler.Pinger{"postgres": db}
	if redisCache != nil {
		checks["redis"] = handler.PingerFunc(redisCache.Ping)
	}

	engine := router.New(router.Options{
		APIPrefix:      cfg.APIPrefix,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		EnableDocs:     cfg.Env != config.EnvProduction,
		Tokens:         tokens,
		Audit:          auditRepo,
		Metrics:        metricsSvc,
		Logger:         logr,
	}, router.Handlers{
		Donations:   handler.NewDonationHandler(workflowSvc, querySvc, letterSvc),
		Attachments: handler.NewAttachmentHandler(workflowSvc, querySvc, attachmentSvc),
		Metrics:     handler.NewMetricsHandler(metricsSvc, checks),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
