package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pdca/api/internal/analysis"
	"pdca/api/internal/app"
	"pdca/api/internal/attachments"
	"pdca/api/internal/authpw"
	"pdca/api/internal/email"
	"pdca/api/internal/export"
	"pdca/api/internal/gitrepo"
	"pdca/api/internal/notify"
	"pdca/api/internal/search"
	"pdca/api/internal/session"
	"pdca/api/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return err
	}

	dataStore := store.NewPostgresStore(db)

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}
	searchService := search.NewService(meili, search.NewPgFTS(db), log)
	defer searchService.Close()
	go searchService.ReindexAll(ctx, dataStore)

	var redisStore session.Revoker
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rs, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, revocations use postgres only", "error", err)
		} else {
			defer rs.Close()
			redisStore = rs
		}
	}
	revoker := session.NewFallback(redisStore, dataStore.RevokedSessions(), log)

	objects, err := attachments.NewObjectStore(cfg)
	if err != nil {
		return err
	}
	if bucket, ok := objects.(*attachments.MinioStore); ok {
		if err := bucket.EnsureBucket(ctx); err != nil {
			log.Warn("attachment bucket unavailable", "bucket", cfg.S3Bucket, "error", err)
		}
	} else {
		log.Warn("attachment storage not configured")
	}

	mailer := email.NewService(email.ConfigFrom(cfg))
	if !mailer.IsConfigured() {
		log.Info("smtp not configured, notification e-mails are skipped")
	}

	aiConfig := analysis.NewDBConfigStore(dataStore, analysis.DefaultSettings(cfg))
	analyzer := analysis.NewAnalyzer(aiConfig, analysis.NewOllamaClient(), dataStore, log, analysis.Options{
		Delay:         cfg.AnalysisDelay.Std(),
		Retries:       uint64(max(cfg.AnalysisRetries, 0)),
		RetryInterval: cfg.AnalysisRetryInterval.Std(),
		Timeout:       cfg.AnalysisTimeout.Std(),
	})
	defer analyzer.Close()

	notifier := notify.New(dataStore, mailer, log, cfg.PublicURL)
	defer notifier.Close()

	service := app.New(cfg, app.Deps{
		Store:       dataStore,
		Revoker:     revoker,
		Search:      searchService,
		Notifier:    notifier,
		Analyzer:    analyzer,
		AIConfig:    aiConfig,
		Attachments: attachments.NewService(objects, dataStore, log, cfg.MaxUploadBytes),
		Reports:     export.NewService(dataStore),
		Importer:    export.NewImporter(dataStore, authpw.NewService(dataStore)),
		History:     gitrepo.New(cfg.ReposDir),
		Log:         log,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("PDCA API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.ShutdownTimeout.Std().String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	return nil
}
