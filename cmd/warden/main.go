package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/logger"
	"warden/internal/platform/metrics"
	"warden/internal/punishment/adapters"
	"warden/internal/punishment/cache"
	"warden/internal/punishment/events"
	"warden/internal/punishment/history"
	"warden/internal/punishment/models"
	"warden/internal/punishment/service"
	"warden/internal/storage/aggregate"
	"warden/internal/storage/repository"
	"warden/pkg/async"
)

const shutdownTimeout = 10 * time.Second

// main wires storage, cache and manager, serves the ops and history endpoints and
// drains background work on SIGINT or SIGTERM.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("warden stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := openBackend(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Storage.Backend, err)
	}
	defer func() {
		if err := store.close(context.Background()); err != nil {
			log.Error("close storage", "error", err)
		}
	}()

	pool := async.NewPool(cfg.Pool.Workers, cfg.Pool.Queue, async.WithLogger(log))
	types := models.DefaultTypes()
	codecs := adapters.NewRegistry(types)
	repoOpts := []repository.Option{
		repository.WithPool(pool),
		repository.WithLogger(log),
		repository.WithMetrics(m),
		repository.WithTracerProvider(otel.GetTracerProvider()),
	}

	openRepo := func(collection string) (*repository.Repository[string, *models.Record], error) {
		ds, err := store.open(collection)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", collection, err)
		}
		return repository.New(collection, ds, codecs, service.RecordID, repoOpts...), nil
	}
	restrictions, err := openRepo(collRestrictions)
	if err != nil {
		return err
	}
	notices, err := openRepo(collNotices)
	if err != nil {
		return err
	}
	revStore, err := store.open(collRevisions)
	if err != nil {
		return fmt.Errorf("open %s: %w", collRevisions, err)
	}
	revisions := repository.New(collRevisions, revStore, codecs, service.RevisionID, repoOpts...)

	records := aggregate.New[string, *models.Record](aggregate.WithLogger(log), aggregate.WithMetrics(m))
	records.Register(restrictions, models.Ban.Name, models.Mute.Name)
	records.Register(notices, models.Kick.Name, models.Warn.Name)

	revisionLog := service.NewRevisionLog(revisions)
	manager := service.New(records, revisionLog,
		cache.New(cfg.Cache.Capacity, cache.WithMetrics(m), cache.WithLogger(log)),
		pool,
		service.WithTypes(types),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithRetry(service.RetryConfig{
			Capacity:  cfg.Retry.Capacity,
			Interval:  cfg.Retry.Interval,
			Threshold: cfg.Retry.Threshold,
			Cooldown:  cfg.Retry.Cooldown,
		}),
	)

	var wg sync.WaitGroup
	bg, cancelBG := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBG()
	wg.Go(func() { manager.Retrier().Run(bg) })

	var publisher *events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		client, err := events.NewClient(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		publisher, err = events.New(client, cfg.Kafka.Topic,
			events.WithLogger(log),
			events.WithMetrics(m),
			events.WithBuffer(cfg.Kafka.Buffer),
			events.WithBatch(cfg.Kafka.Batch),
			events.WithInterval(cfg.Kafka.Interval),
		)
		if err != nil {
			client.Close()
			return err
		}
		restrictions.Subscribe(publisher)
		notices.Subscribe(publisher)
		revisions.Subscribe(publisher)
		wg.Go(func() { publisher.Run(bg) })
		log.InfoContext(ctx, "publishing storage events", "topic", cfg.Kafka.Topic)
	}

	hist := &historyHandler{svc: history.New(records, revisionLog, history.WithLogger(log))}
	srv := httpserver.New(cfg.Addr, httpserver.NewRouter(httpserver.RouterConfig{
		Checks:   map[string]httpserver.Check{store.name: store.check},
		Gatherer: reg,
		Logger:   log,
		Mount:    hist.mount,
	}))
	serveErr := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "starting warden", "addr", cfg.Addr, "backend", store.name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	log.Info("shutting down", "pending_writes", manager.Pending(), "retry_queue", manager.Retrier().Len())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if err := pool.Close(shutdownCtx); err != nil {
		log.Error("worker pool did not drain", "error", err)
	}
	manager.Retrier().Drain(shutdownCtx)
	cancelBG()
	wg.Wait()
	if publisher != nil {
		if err := publisher.Close(shutdownCtx); err != nil {
			log.Error("close event publisher", "error", err)
		}
	}
	return nil
}
