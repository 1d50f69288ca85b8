package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"regimen-risk/backend/internal/api"
	"regimen-risk/backend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	cfg.ConfigureLogging()
	gin.SetMode(cfg.Server.GinMode)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	server, err := api.NewServer(api.Config{
		DBPath:         cfg.Database.Path,
		ModelPath:      cfg.Model.Path,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SilentDB:       cfg.Database.Silent,
		MaxCandidates:  cfg.Scoring.MaxCandidates,
		DefaultTopK:    cfg.Scoring.DefaultTopK,
		Workers:        cfg.Scoring.Workers,
		CacheSize:      cfg.Scoring.PredictionCacheSize,
	})
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer server.Close()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.Infof("starting regimen-risk backend on :%s", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("graceful shutdown")
	}
}
