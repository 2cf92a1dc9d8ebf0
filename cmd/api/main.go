package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sitesmith/api/internal/app"
	"sitesmith/api/internal/blob"
	"sitesmith/api/internal/config"
	"sitesmith/api/internal/logger"
	"sitesmith/api/internal/search"
	"sitesmith/api/internal/session"
	"sitesmith/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Init()
	defer logger.Log.Sync()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Sugar.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		logger.Sugar.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var blobs blob.Store
	var localUploads *blob.Local
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		logger.Sugar.Infof("storing assets in MinIO bucket %s", cfg.MinIOBucket)
		blobs, err = blob.NewMinIO(ctx, cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOPublicURL, cfg.MinIOUseSSL)
		if err != nil {
			logger.Sugar.Fatalf("minio connection failed: %v", err)
		}
	} else {
		logger.Sugar.Infof("storing assets in %s", cfg.UploadsDir)
		localUploads, err = blob.NewLocal(cfg.UploadsDir, "/uploads")
		if err != nil {
			logger.Sugar.Fatalf("uploads dir unavailable: %v", err)
		}
		blobs = localUploads
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Sugar.Info("using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Sugar.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, blobs, searchService)
	} else {
		logger.Sugar.Info("using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore, blobs, searchService)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	if localUploads != nil {
		httpServer.ServeUploadsFrom(localUploads.Dir())
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("Sitesmith API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("shutdown error: %v", err)
	}
}
