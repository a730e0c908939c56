package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/tuborlabs/tyield/internal/config"
	"github.com/tuborlabs/tyield/internal/logger"
	"github.com/tuborlabs/tyield/internal/protocol"
	"github.com/tuborlabs/tyield/internal/store"
	"github.com/tuborlabs/tyield/pkg/reporting"
)

func main() {
	var (
		format = flag.String("format", "console", "Output format: console, xlsx, json")
		output = flag.String("output", "", "Output file path (xlsx and json formats)")
	)
	flag.Parse()

	cfg := config.Load()
	zlog, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if cfg.Store.Backend != "postgres" {
		log.Fatal("tradereport requires STORE_BACKEND=postgres")
	}

	pg, err := store.NewPostgresStore(store.PostgresConfig{
		Host:     cfg.Store.Postgres.Host,
		Port:     cfg.Store.Postgres.Port,
		User:     cfg.Store.Postgres.User,
		Password: cfg.Store.Postgres.Password,
		DBName:   cfg.Store.Postgres.DBName,
		SSLMode:  cfg.Store.Postgres.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	trades, err := loadTrades(ctx, pg)
	if err != nil {
		log.Fatalf("failed to load trades: %v", err)
	}

	switch *format {
	case "console":
		reporter := reporting.NewConsoleReporter()
		reporter.PrintTrades(trades)
		reporter.PrintSummary(trades)
		printStatus(ctx, pg, reporter)
	case "xlsx":
		if *output == "" {
			*output = "reports/trades.xlsx"
		}
		if err := reporting.NewExcelReporter().WriteTradesXLSX(trades, *output); err != nil {
			log.Fatalf("failed to write xlsx report: %v", err)
		}
		log.Printf("report written to %s", *output)
	case "json":
		if *output == "" {
			*output = "reports/trades.json"
		}
		if err := reporting.WriteTradesJSON(trades, *output); err != nil {
			log.Fatalf("failed to write json report: %v", err)
		}
		log.Printf("report written to %s", *output)
	default:
		log.Fatalf("unknown format %q", *format)
	}
}

func loadTrades(ctx context.Context, s store.EntityStore) ([]protocol.Trade, error) {
	records, err := s.List(ctx, protocol.TradePrefix)
	if err != nil {
		return nil, err
	}
	trades := make([]protocol.Trade, 0, len(records))
	for _, rec := range records {
		var t protocol.Trade
		if _, err := store.GetJSON(ctx, s, rec.Key, &t); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func printStatus(ctx context.Context, s store.EntityStore, reporter *reporting.ConsoleReporter) {
	var cfg protocol.Config
	if _, err := store.GetJSON(ctx, s, protocol.ConfigKey, &cfg); err != nil {
		return
	}
	var breaker struct {
		Tripped       bool      `json:"tripped"`
		CooldownUntil time.Time `json:"cooldown_until"`
	}
	if _, err := store.GetJSON(ctx, s, protocol.BreakerKey, &breaker); err != nil {
		return
	}
	reporter.PrintProtocolStatus(cfg, breaker.Tripped && time.Now().Before(breaker.CooldownUntil), breaker.CooldownUntil)
}
