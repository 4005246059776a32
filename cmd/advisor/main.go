package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/polyadvisor/engine/config"
	"github.com/polyadvisor/engine/internal/adapters/notify"
	"github.com/polyadvisor/engine/internal/adapters/polymarket"
	"github.com/polyadvisor/engine/internal/adapters/storage/postgres"
	"github.com/polyadvisor/engine/internal/advice"
	"github.com/polyadvisor/engine/internal/cron"
	"github.com/polyadvisor/engine/internal/ingest"
	"github.com/polyadvisor/engine/internal/ledger"
	"github.com/polyadvisor/engine/internal/server"
	"github.com/polyadvisor/engine/internal/stats"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	jobName := flag.String("job", "", "run one job and exit: sync|compute|live-sync|compute-markets")
	advise := flag.Bool("advise", false, "print advice report for open markets and exit")
	table := flag.Bool("table", false, "print full advice table (default: compact 1-line)")
	details := flag.Bool("details", false, "print signal breakdown for top 3 markets")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("advisor starting",
		"config", *configPath,
		"job", *jobName,
		"advise", *advise,
	)

	store, err := postgres.New(ctx, cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.PruneRuns(ctx, time.Now().UTC().Add(-cfg.RunRetention())); err != nil {
		slog.Warn("prune audit log failed", "err", err)
	}

	client := polymarket.NewClient(cfg.API.GammaBase, cfg.API.DataBase, cfg.API.CLOBBase)
	led := ledger.New(store)
	pipeline := ingest.NewPipeline(client, client, store, cfg.IngestConfig())
	live := ingest.NewLive(client, client, store, led, cfg.LiveConfig())
	engine := stats.New(store, store, cfg.StatsConfig())
	model := advice.New(store, store, store, store, store, cfg.AdviceConfig())

	adviceMarkets := cfg.Stats.AdviceMarkets
	jobs := []cron.Job{
		{Name: "sync", LockKey: cron.LockSync, Budget: cfg.SyncBudget(), Handler: pipeline.Sync},
		{Name: "compute", LockKey: cron.LockCompute, Budget: cfg.ComputeBudget(), Handler: engine.Job(store)},
		{Name: "live-sync", LockKey: cron.LockLiveSync, Budget: cfg.LiveSyncBudget(), Handler: live.Refresh},
		{Name: "compute-markets", LockKey: cron.LockComputeMarkets, Budget: cfg.ComputeMarketsBudget(),
			Handler: func(jc *cron.Context) (cron.Outcome, error) { return model.Batch(jc, adviceMarkets) }},
	}
	runner := cron.NewRunner(store, store)

	if *advise {
		runAdvise(ctx, store, model, notify.NewConsole(*table, *details), adviceMarkets)
		return
	}

	if *jobName != "" {
		runOnce(ctx, runner, jobs, *jobName)
		return
	}

	srv := server.New(server.Config{
		Addr:        cfg.Server.Addr,
		CronSecret:  cfg.Server.CronSecret,
		AdminSecret: cfg.Server.AdminSecret,
	}, runner, jobs, model, store)

	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("advisor stopped cleanly")
}

// runOnce ejecuta un solo job por nombre e imprime el resultado como JSON,
// pensado para invocación manual o desde un scheduler sin HTTP.
func runOnce(ctx context.Context, runner *cron.Runner, jobs []cron.Job, name string) {
	for _, job := range jobs {
		if job.Name != name {
			continue
		}
		res := runner.Run(ctx, job)
		out, _ := json.MarshalIndent(res, "", "  ")
		os.Stdout.Write(append(out, '\n'))
		if !res.OK {
			os.Exit(1)
		}
		return
	}
	slog.Error("unknown job", "job", name)
	os.Exit(1)
}

// runAdvise imprime el reporte de advice para los mercados abiertos.
func runAdvise(ctx context.Context, store *postgres.Store, model *advice.Model, console *notify.Console, limit int) {
	markets, err := store.OpenMarkets(ctx, limit)
	if err != nil {
		slog.Error("list open markets failed", "err", err)
		os.Exit(1)
	}

	entries := make([]notify.AdviceEntry, 0, len(markets))
	for _, m := range markets {
		a, err := model.Cached(ctx, m.ConditionID)
		if err != nil {
			slog.Debug("advice unavailable", "market", m.ConditionID, "err", err)
			continue
		}
		entries = append(entries, notify.AdviceEntry{Market: m, Advice: a})
	}

	console.PrintAdvice(entries)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
