package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	tele "gopkg.in/telebot.v4"

	"nuclight.org/gatekeeper/internal/config"
	"nuclight.org/gatekeeper/internal/events"
	"nuclight.org/gatekeeper/internal/lock"
	"nuclight.org/gatekeeper/internal/logger"
	"nuclight.org/gatekeeper/internal/metrics"
	"nuclight.org/gatekeeper/internal/storage"
	"nuclight.org/gatekeeper/internal/telegram"
	"nuclight.org/gatekeeper/internal/vote"
)

// app holds what every command needs: configuration, logging and a
// migrated store.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  storage.Backend

	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, flush, err := logger.New(logger.Options{
		Level:     logger.ParseLevel(logLevel),
		SentryDSN: cfg.SentryDSN,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, closers: []func(){flush}}

	log.Info("config loaded",
		"store", cfg.StoreDriver,
		"db_path", cfg.DBPath,
		"sweep_interval", cfg.SweepInterval,
		"join_vote_ttl", cfg.JoinVoteTTL,
	)

	store, err := storage.Open(ctx, storage.Options{
		Driver:   cfg.StoreDriver,
		Path:     cfg.DBPath,
		MongoURI: cfg.MongoURI,
		MongoDB:  cfg.MongoDB,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.onClose(func() {
		if err := store.Close(context.Background()); err != nil {
			log.Error("close store", "error", err)
		}
	})

	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	log.Info("store ready")
	return a, nil
}

func (a *app) onClose(f func()) {
	a.closers = append(a.closers, f)
}

// Close runs the registered closers in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// wiring is the vote manager with its optional collaborators attached.
type wiring struct {
	manager  *vote.Manager
	recorder *metrics.Recorder
	registry *prometheus.Registry
}

func (a *app) wire(ctx context.Context, api *tele.Bot) (*wiring, error) {
	cfg, log := a.cfg, a.logger

	recorder := metrics.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder.MustRegister(registry)

	observers := []vote.Observer{recorder}

	var pub events.Publisher = events.NewNoop()
	if cfg.AMQPURL != "" {
		rabbit, err := events.NewRabbit(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("connect amqp: %w", err)
		}
		pub = rabbit
		log.Info("publishing vote events", "exchange", cfg.AMQPExchange)
	}
	a.onClose(func() { _ = pub.Close() })
	observers = append(observers, events.NewObserver(pub, log))

	if cfg.AdminChatID != 0 {
		observers = append(observers, telegram.NewAdminNotifier(api, cfg.AdminChatID, log))
	}

	opts := []vote.Option{
		vote.WithLogger(log),
		vote.WithClaimLease(cfg.ClaimLease),
		vote.WithObserver(observers...),
	}

	if cfg.RedisAddr != "" {
		client, err := lock.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.onClose(func() { _ = client.Close() })
		opts = append(opts, vote.WithLocker(lock.NewRedisLocker(client, log)))
		log.Info("sweep lease enabled", "redis", cfg.RedisAddr)
	}

	manager := vote.NewManager(a.store, telegram.NewTransport(api, log), opts...)
	return &wiring{manager: manager, recorder: recorder, registry: registry}, nil
}
