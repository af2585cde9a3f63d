package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfmerger/internal/assembly"
	"github.com/local/pdfmerger/internal/codec"
	cfgpkg "github.com/local/pdfmerger/internal/config"
	logpkg "github.com/local/pdfmerger/internal/logger"
	"github.com/local/pdfmerger/internal/merger"
	"github.com/local/pdfmerger/internal/metrics"
	"github.com/local/pdfmerger/internal/orchestrator"
	"github.com/local/pdfmerger/internal/pdfcodec"
	"github.com/local/pdfmerger/internal/preview"
	"github.com/local/pdfmerger/internal/progress"
	"github.com/local/pdfmerger/internal/statuscheck"
	"github.com/local/pdfmerger/internal/storage"
	"github.com/local/pdfmerger/internal/store"
)

func main() {
	cfg := cfgpkg.Load()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Status store
	var status store.StatusStore
	var redisPing statuscheck.Pinger
	if cfg.Store.RedisURL != "" {
		rs, err := store.NewRedisStatus(cfg.Store.RedisURL, cfg.Store.StatusTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init redis status store")
		}
		status, redisPing = rs, rs
	} else {
		status = store.NewMemoryStatus(cfg.Store.StatusTTL)
		log.Info().Msg("REDIS_URL not set, keeping merge status in memory")
	}
	defer status.Close()

	// Object storage
	// remote callers may only name s3 objects and allowlisted hosts
	fetcher := &storage.Fetcher{
		HTTP:      &http.Client{Timeout: 2 * time.Minute},
		AllowHTTP: len(cfg.Server.FetchAllowedHosts) > 0,
		Hosts:     cfg.Server.FetchAllowedHosts,
		MaxBytes:  cfg.Merge.MaxFileBytes,
		Password:  cfg.Results.Password,
	}
	var exporter storage.Exporter = storage.LocalExporter{Dir: cfg.Results.Dir}
	var s3Ping statuscheck.Pinger
	if cfg.S3.Bucket != "" {
		s3c, err := storage.NewS3Client(ctx, storage.S3Options{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init S3 client")
		}
		fetcher.S3 = s3c
		exporter = storage.S3Exporter{Client: s3c, Prefix: cfg.Results.S3Prefix, Password: cfg.Results.Password}
		s3Ping = s3c
	}

	// Sessions
	pdf := pdfcodec.New()
	renderer := &preview.Renderer{DPI: cfg.Merge.PreviewDPI}
	sessions := merger.NewRegistry(func() *merger.Session {
		return merger.New(merger.Config{
			Codec:     pdf,
			Optimizer: pdf,
			Reporter:  progress.LogReporter{},
			Metadata: codec.Metadata{
				Title:   cfg.Merge.Title,
				Author:  cfg.Merge.Author,
				Subject: cfg.Merge.Subject,
			},
			PageNumbers: assembly.PageNumberStyle{
				Font:   cfg.Merge.PageNumberFont,
				Size:   cfg.Merge.PageNumberSize,
				Margin: cfg.Merge.PageNumberGap,
				Color:  assembly.DefaultPageNumberStyle.Color,
			},
			MaxFileSize: cfg.Merge.MaxFileBytes,
			Previewer:   renderer,
		})
	}, cfg.Server.SessionIdleTTL)
	go sessions.Run(ctx, cfg.Server.SweepInterval)
	go cleanupLoop(ctx, cfg.Results.Dir, cfg.Results.Retention)

	orch := orchestrator.New(orchestrator.Dependencies{
		Sessions:        sessions,
		Status:          status,
		Fetcher:         fetcher,
		Exporter:        exporter,
		UploadMaxMemory: cfg.Server.UploadMaxMemory,
		UploadMaxBytes:  int64(cfg.Server.UploadMaxFiles)*cfg.Merge.MaxFileBytes + 1<<20,
	})
	mux := http.NewServeMux()
	orch.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	checker := statuscheck.New(statuscheck.Options{Redis: redisPing, S3: s3Ping, MuPDF: renderer})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		sum := checker.Summary(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !sum.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(sum)
	})

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}
	go func() {
		log.Info().Msgf("HTTP server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Int("sessions", sessions.Len()).Msg("shutdown complete")
}

func cleanupLoop(ctx context.Context, dir string, retention time.Duration) {
	if retention <= 0 {
		return
	}
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := orchestrator.CleanupResults(dir, retention); n > 0 {
				log.Info().Int("removed", n).Str("dir", dir).Msg("expired merge results removed")
			}
		}
	}
}
