package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"comicsdb/api/internal/app"
	"comicsdb/api/internal/archive"
	"comicsdb/api/internal/config"
	"comicsdb/api/internal/covers"
	"comicsdb/api/internal/email"
	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/oi"
	"comicsdb/api/internal/search"
	"comicsdb/api/internal/stats"
	"comicsdb/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.Pool("oi-api"))
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	if err := stats.EnsureGlobal(ctx, dataStore); err != nil {
		log.Printf("WARNING: global stats not initialized (will retry on first approval): %v", err)
	}

	sinks := notify.Multi{notify.Log{}}
	var appOpts []app.Option
	var engineOpts []oi.Option

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		SiteURL:  cfg.SiteURL,
	})
	if mailer.IsConfigured() {
		log.Printf("Sending notification email via %s", cfg.SMTPHost)
		sinks = append(sinks, mailer)
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		queue, err := notify.NewRedisQueue(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer queue.Close()
		sinks = append(sinks, queue)
		appOpts = append(appOpts, app.WithInbox(queue), app.WithReadyCheck("redis", app.ReadyFunc(queue.Ping)))
	}
	engineOpts = append(engineOpts, oi.WithNotifier(sinks))

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.MeiliIndex)
		defer meiliClient.Close()
	}
	var searchService *search.Service
	if meiliClient != nil {
		searchService = search.NewService(meiliClient)
		engineOpts = append(engineOpts, oi.WithSearch(searchService))
		appOpts = append(appOpts, app.WithSearch(searchService), app.WithReadyCheck("search", app.ReadyFunc(func(context.Context) error {
			if !meiliClient.Healthy() {
				return errUnhealthy("meilisearch")
			}
			return nil
		})))
	}

	if strings.TrimSpace(cfg.CoverEndpoint) != "" {
		coverStore, err := covers.NewMinioStore(covers.Config{
			Endpoint:  cfg.CoverEndpoint,
			AccessKey: cfg.CoverAccessKey,
			SecretKey: cfg.CoverSecretKey,
			Bucket:    cfg.CoverBucket,
			UseSSL:    cfg.CoverUseSSL,
		})
		if err != nil {
			log.Fatalf("cover storage: %v", err)
		}
		engineOpts = append(engineOpts, oi.WithCovers(coverStore))
		appOpts = append(appOpts, app.WithReadyCheck("covers", coverStore))
	}

	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			log.Fatalf("failed to create archive dir: %v", err)
		}
		history := archive.New(cfg.ArchiveDir)
		engineOpts = append(engineOpts, oi.WithArchive(history))
		appOpts = append(appOpts, app.WithArchive(history))
	}

	engine := oi.New(dataStore, cfg.OI, engineOpts...)
	service := app.NewService(cfg, engine, appOpts...)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Online indexer API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

type errUnhealthy string

func (e errUnhealthy) Error() string { return string(e) + " unhealthy" }
