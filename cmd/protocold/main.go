package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tuborlabs/tyield/internal/config"
	"github.com/tuborlabs/tyield/internal/engine"
	"github.com/tuborlabs/tyield/internal/errors"
	"github.com/tuborlabs/tyield/internal/logger"
	"github.com/tuborlabs/tyield/internal/monitoring"
	"github.com/tuborlabs/tyield/internal/oracle"
	"github.com/tuborlabs/tyield/internal/store"
)

func main() {
	var (
		initGenesis = flag.Bool("init", false, "Initialize the protocol with the genesis config and exit")
	)
	flag.Parse()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entStore, closeStore, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	feed := oracle.NewBybitFeed(oracle.BybitConfig{
		APIKey:     cfg.Feed.APIKey,
		APISecret:  cfg.Feed.APISecret,
		Testnet:    cfg.Feed.Testnet,
		Category:   cfg.Feed.Category,
		TWAPWindow: cfg.Feed.TWAPWindow,
	})
	consensus := oracle.NewConsensus([]oracle.PriceFeed{feed}, log)
	eng := engine.New(entStore, consensus, log)

	if *initGenesis {
		if err := eng.Init(ctx, config.GenesisProtocolConfig()); err != nil {
			log.Fatal("protocol initialization failed", zap.Error(err))
		}
		log.Info("protocol initialized")
		return
	}

	if _, _, err := eng.Config(ctx); err != nil {
		log.Fatal("protocol is not initialized, run with -init first", zap.Error(err))
	}

	health := monitoring.NewHealthChecker()
	health.SetStoreConnected(true)
	startMonitoringServers(cfg, health, log)

	if cfg.Feed.StreamURL != "" {
		go runTickStream(ctx, cfg, eng, health, log)
	}
	go runUpdateLoop(ctx, cfg, eng, feed, health, log)

	log.Info("protocol daemon started",
		zap.Strings("symbols", cfg.Feed.Symbols),
		zap.Duration("poll_interval", cfg.Feed.PollInterval))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")
	cancel()
	// Let in-flight updates settle before the store closes.
	time.Sleep(time.Second)
}

// openStore selects the store backend from config.
func openStore(cfg *config.Config, log *zap.Logger) (store.EntityStore, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := store.NewPostgresStore(store.PostgresConfig{
			Host:     cfg.Store.Postgres.Host,
			Port:     cfg.Store.Postgres.Port,
			User:     cfg.Store.Postgres.User,
			Password: cfg.Store.Postgres.Password,
			DBName:   cfg.Store.Postgres.DBName,
			SSLMode:  cfg.Store.Postgres.SSLMode,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("connected to postgres store",
			zap.String("host", cfg.Store.Postgres.Host),
			zap.String("dbname", cfg.Store.Postgres.DBName))
		return pg, func() { pg.Close() }, nil
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func startMonitoringServers(cfg *config.Config, health *monitoring.HealthChecker, log *zap.Logger) {
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.NewMetricsHandler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Monitoring.HealthPort)
		mux := http.NewServeMux()
		mux.Handle("/health", health)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("health server stopped", zap.Error(err))
		}
	}()
}

// runUpdateLoop polls the ticker for each configured symbol and evaluates
// every open trade against the observed price. Version conflicts are
// retried once against the fresh record; persistent failures surface in
// the health report.
func runUpdateLoop(ctx context.Context, cfg *config.Config, eng *engine.Engine, feed *oracle.BybitFeed, health *monitoring.HealthChecker, log *zap.Logger) {
	ticker := time.NewTicker(cfg.Feed.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fresh := make(map[string]bool, len(cfg.Feed.Symbols))
		for _, symbol := range cfg.Feed.Symbols {
			sample, err := feed.Fetch(ctx, symbol)
			if err != nil {
				log.Warn("ticker fetch failed", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			fresh[symbol] = true
			health.RecordOracleRead(sample.Price)
		}
		if len(fresh) == 0 {
			continue
		}

		updateOpenTrades(ctx, eng, fresh, log)

		if state, _, err := eng.Breaker().State(ctx); err == nil {
			tripped := !state.Normal(time.Now())
			health.SetBreakerTripped(tripped)
			monitoring.SetBreakerTripped(tripped)
		}
	}
}

// runTickStream feeds live websocket ticks into the same update path as the
// polling loop.
func runTickStream(ctx context.Context, cfg *config.Config, eng *engine.Engine, health *monitoring.HealthChecker, log *zap.Logger) {
	stream, err := oracle.NewTickStream(cfg.Feed.StreamURL, log)
	if err != nil {
		log.Error("tick stream unavailable, polling only", zap.Error(err))
		return
	}
	defer stream.Close()

	if err := stream.Subscribe(cfg.Feed.Symbols...); err != nil {
		log.Error("stream subscribe failed", zap.Error(err))
		return
	}

	err = stream.Run(ctx, func(tick oracle.Tick) {
		health.RecordOracleRead(tick.Price)
		updateOpenTrades(ctx, eng, map[string]bool{tick.FeedID: true}, log)
	})
	if err != nil && ctx.Err() == nil {
		log.Error("tick stream terminated", zap.Error(err))
	}
}

// updateOpenTrades runs UpdateTrade for every open trade whose feed just
// produced a tick. The engine reads its own consensus price; the daemon only
// decides when to look.
func updateOpenTrades(ctx context.Context, eng *engine.Engine, feeds map[string]bool, log *zap.Logger) {
	open, err := eng.OpenTrades(ctx)
	if err != nil {
		log.Error("failed to list open trades", zap.Error(err))
		return
	}
	for _, trade := range open {
		if !feeds[trade.FeedID] {
			continue
		}
		if _, err := eng.UpdateTrade(ctx, trade.ID); err != nil {
			if errors.IsRetryable(err) {
				// Another executor moved the trade; retry against the
				// fresh record.
				if _, err = eng.UpdateTrade(ctx, trade.ID); err == nil {
					continue
				}
			}
			log.Warn("trade update failed",
				zap.String("trade_id", trade.ID),
				zap.Error(err))
		}
	}
}
