package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dhruva-antino/live-drm/internal/drm"
	"github.com/dhruva-antino/live-drm/internal/platform/config"
	"github.com/dhruva-antino/live-drm/internal/platform/logger"
	"github.com/dhruva-antino/live-drm/internal/platform/metrics"
	"github.com/dhruva-antino/live-drm/internal/process"
	"github.com/dhruva-antino/live-drm/internal/publish"
	"github.com/dhruva-antino/live-drm/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	met := metrics.New()

	objects, err := newObjectStore(cfg.Storage, log)
	if err != nil {
		log.Error("object store setup failed", "error", err)
		os.Exit(1)
	}

	keys := drm.NewClient(drm.Config{
		URL:              cfg.KeyServer.URL,
		SigningKeyHex:    cfg.KeyServer.SigningKeyHex,
		SigningIVHex:     cfg.KeyServer.SigningIVHex,
		Signer:           cfg.KeyServer.Signer,
		Scheme:           cfg.KeyServer.Scheme,
		ProtectionScheme: cfg.KeyServer.ProtectionScheme,
		DRMTypes:         cfg.KeyServer.DRMTypes,
		Tracks:           cfg.KeyServer.Tracks,
		Timeout:          cfg.KeyServer.Timeout,
	}, nil, log, met)
	if err := keys.Validate(); err != nil {
		log.Warn("DRM sessions disabled until the key server is configured", "error", err)
	}

	reg := session.NewRegistry(session.Settings{
		OutputRoot:           cfg.OutputRoot,
		FFmpegPath:           cfg.FFmpegPath,
		PackagerPath:         cfg.PackagerPath,
		PublicHost:           cfg.PublicHost,
		PlaybackBase:         playbackBase(cfg),
		Bucket:               cfg.Storage.Bucket,
		RemotePrefix:         cfg.Storage.Prefix,
		PortRangeStart:       cfg.PortRangeStart,
		PortRangeEnd:         cfg.PortRangeEnd,
		UDPBasePort:          cfg.UDPBasePort,
		Stability:            cfg.Publish.Stability,
		Poll:                 cfg.Publish.PollInterval,
		PackagerReadyTimeout: cfg.PackagerReadyTimeout,
		IdleTimeout:          cfg.IdleTimeout,
		ProtectionScheme:     cfg.KeyServer.ProtectionScheme,
		DRMLadder:            cfg.DRMLadder,
	}, session.Deps{
		Launcher: process.NewExecLauncher(log, met),
		Objects:  objects,
		Keys:     keys,
		Logger:   log,
		Metrics:  met,
	})
	h := session.NewHandler(reg, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(reg.ActiveCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go reg.RunJanitor(janitorCtx)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"output_root", cfg.OutputRoot,
		"bucket", cfg.Storage.Bucket,
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stopJanitor()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := reg.Shutdown(ctx); err != nil {
		log.Error("session shutdown incomplete", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// newObjectStore returns an S3 store, or an in-memory store when no bucket
// is configured.
func newObjectStore(cfg config.StorageConfig, log *slog.Logger) (publish.ObjectStore, error) {
	if cfg.Bucket == "" {
		log.Warn("AWS_S3_BUCKET not set, artifacts are kept in memory only")
		return publish.NewMemoryStore(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := publish.NewS3Store(ctx, publish.S3Config{
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Endpoint:        cfg.Endpoint,
		PathStyle:       cfg.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func playbackBase(cfg config.Config) string {
	if cfg.PublicBaseURL != "" {
		return cfg.PublicBaseURL
	}
	if cfg.Storage.Bucket == "" {
		return ""
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Storage.Bucket, cfg.Storage.Region)
}
