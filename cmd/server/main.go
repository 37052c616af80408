package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/text-extraction-service/internal/config"
	"github.com/toricodesthings/text-extraction-service/internal/hybrid"
	"github.com/toricodesthings/text-extraction-service/internal/jobs"
	"github.com/toricodesthings/text-extraction-service/internal/logging"
	"github.com/toricodesthings/text-extraction-service/internal/metrics"
	"github.com/toricodesthings/text-extraction-service/internal/ocr"
	"github.com/toricodesthings/text-extraction-service/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	m := metrics.New()
	chain := ocr.NewChainFromConfig(cfg, nil).WithObserver(m)
	if !chain.Available() {
		log.Warn().Strs("chain", chain.Names()).Msg("no OCR backend available, scanned pages fall back to the text layer")
	}

	processor := hybrid.NewFromConfig(cfg, chain, m)

	store, err := newJobStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("job store")
	}
	manager := jobs.NewManager(store, processor, webhook.New(cfg.WebhookTimeout, cfg.WebhookSecret, m), m, jobs.Options{
		Workers:       cfg.JobWorkers,
		QueueSize:     cfg.JobQueueSize,
		Retention:     cfg.JobRetention,
		SweepSchedule: cfg.JobSweepSchedule,
		JobTimeout:    cfg.ExtractTimeout,
	})
	if err := manager.Start(); err != nil {
		log.Fatal().Err(err).Msg("job manager")
	}

	a := newApp(cfg, processor, chain, manager, m)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.cleanupRateLimiters(ctx)

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Int64("max_concurrent", cfg.MaxConcurrentRequests).
			Int64("max_ocr", cfg.MaxOCRConcurrent).
			Strs("ocr_chain", chain.Names()).
			Msg("text extraction service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("job manager shutdown")
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("close job store")
	}
}

// newJobStore picks Redis when REDIS_URL is set, memory otherwise.
func newJobStore(cfg config.Config) (jobs.Store, error) {
	if cfg.RedisURL == "" {
		log.Info().Msg("using in-memory job store")
		return jobs.NewMemoryStore(), nil
	}
	return jobs.NewRedisStore(cfg.RedisURL, cfg.JobRetention)
}
