// Market Intelligence Backend — ingests regulatory filings, prediction-
// market order books, equity candles, news and earnings transcripts, and
// computes typed risk signals attached to tradable instruments. Serves a
// trading-terminal front-end over HTTP and WebSocket.
//
// Architecture:
//
//	config              — viper YAML + INTEL_* env configuration
//	storage             — Postgres repositories (sqlx), embedded migrations
//	blob                — S3 or filesystem object storage for raw documents
//	sources             — one rate-limited adapter per external source
//	indexer             — full/incremental prediction-market catalog sync
//	stream              — live order-book state from the CLOB WebSocket feed
//	backfill            — one-shot historical trade ingest per market
//	lifecycle           — document discovery → download → parse → enrich
//	extract             — regex fact extractors with frozen keyword tables
//	signals             — ETF metric + peer propagation signal generators
//	candles             — on-demand OHLCV aggregation + instrument cache
//	api                 — chi HTTP router + WebSocket hub over the bus
//	scheduler           — cron-driven periodic jobs with graceful stop
//
// Startup order: configuration, store, HTTP server, stream service, indexer
// kick-off in background, periodic jobs; optional workers (filings, news,
// transcripts, signal computation, ETF metrics) are gated by feature flags.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"market-intel/internal/api"
	"market-intel/internal/auth"
	"market-intel/internal/backfill"
	"market-intel/internal/blob"
	"market-intel/internal/bus"
	"market-intel/internal/cache"
	"market-intel/internal/candles"
	"market-intel/internal/config"
	"market-intel/internal/etfmetrics"
	"market-intel/internal/indexer"
	"market-intel/internal/lifecycle"
	"market-intel/internal/positions"
	"market-intel/internal/scheduler"
	"market-intel/internal/signals"
	"market-intel/internal/sources"
	"market-intel/internal/storage"
	"market-intel/internal/stream"
	"market-intel/internal/trades"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("INTEL_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLog().Fatal().Err(err).Str("path", cfgPath).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		bootLog().Fatal().Err(err).Msg("invalid configuration")
	}

	log := newLogger(cfg.Logging)
	log.Info().Msg("starting market intelligence backend")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Store first: everything else serializes through it.
	db, err := storage.Connect(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	blobs, err := blob.New(cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Msg("blob storage init failed")
	}

	// Repositories.
	instrumentRepo := storage.NewInstrumentRepo(db)
	marketRepo := storage.NewMarketRepo(db)
	documentRepo := storage.NewDocumentRepo(db)
	eventRepo := storage.NewEventRepo(db)
	candleRepo := storage.NewCandleRepo(db)
	metricRepo := storage.NewMetricRepo(db)
	signalRepo := storage.NewSignalRepo(db)
	backfillRepo := storage.NewBackfillRepo(db)
	watermarkRepo := storage.NewWatermarkRepo(db)
	nonceRepo := storage.NewNonceRepo(db)

	// Source adapters; gates are per upstream host.
	gammaGate := sources.NewGate(cfg.Sources.Gamma.RateLimitInterval)
	edgarGate := sources.NewGate(cfg.Sources.Edgar.RateLimitInterval)
	dataHistGate := sources.NewGate(cfg.Sources.DataHist.RateLimitInterval)
	newsGate := sources.NewGate(cfg.Sources.News.RateLimitInterval)
	transcriptsGate := sources.NewGate(cfg.Sources.Transcripts.RateLimitInterval)

	gammaClient := sources.NewGammaClient(cfg.Sources.Gamma, gammaGate, log)
	clobClient := sources.NewCLOBClient(cfg.Sources.CLOB, log)
	dataHistClient := sources.NewDataHistClient(cfg.Sources.DataHist, dataHistGate, log)
	edgarClient := sources.NewEdgarClient(cfg.Sources.Edgar, cfg.Sources.UserAgent, edgarGate, log)
	newsClient := sources.NewNewsClient(cfg.Sources.News, newsGate, log)
	transcriptsClient := sources.NewTranscriptsClient(cfg.Sources.Transcripts, transcriptsGate, log)

	// Shared infrastructure.
	eventBus := bus.New(log)
	caches := cache.New(cfg.Cache)

	// Stream service and its feed.
	feed := sources.NewMarketFeed(cfg.Sources.CLOBWSURL, cfg.Stream.HeartbeatInterval, log)
	streamSvc := stream.New(cfg.Stream, clobClient, feed, eventRepo, marketRepo, eventBus, log)

	// Backfill + indexer; the stream refresher is injected after both exist.
	backfiller := backfill.New(rootCtx, dataHistClient, eventRepo, backfillRepo, cfg.Sync.BackfillBatchSize, log)
	marketIndexer := indexer.New(gammaClient, marketRepo, backfiller, caches, log)
	marketIndexer.SetRefresher(streamSvc)

	// Document pipeline.
	discovery := lifecycle.NewDiscovery(documentRepo, instrumentRepo, watermarkRepo,
		edgarClient, newsClient, transcriptsClient, log)
	downloader := lifecycle.NewDownloader(documentRepo, blobs, cfg.Sources.UserAgent, cfg.Sync.BatchSize, log)
	parser := lifecycle.NewParser(documentRepo, blobs, cfg.Sync.BatchSize, log)
	enricher := lifecycle.NewEnricher(documentRepo, signalRepo, cfg.Signals, cfg.Sync.BatchSize, log)

	// Signal generators.
	signalRunner := signals.NewRunner(signalRepo, cfg.Signals, log,
		signals.NewAPConcentration(instrumentRepo, metricRepo),
		signals.NewFlowShock(instrumentRepo, metricRepo),
		signals.NewTrackingStress(instrumentRepo, metricRepo),
		signals.NewPeerPriceMovement(instrumentRepo, instrumentRepo, candleRepo, "datahist"),
		signals.NewPeerImpact(instrumentRepo, signalRepo),
	)

	metricIngestor := etfmetrics.New(dataHistClient, instrumentRepo, metricRepo, cfg.Signals.Lookback, log)

	// HTTP layer.
	candleSvc := candles.New(eventRepo, candleRepo, dataHistClient, log)
	positionSvc := positions.New(eventRepo)
	authSvc := auth.New(nonceRepo, cfg.Auth.NonceTTL, cfg.Auth.ChainID)
	preparer, err := trades.NewPreparer(cfg.Auth.Exchange, cfg.Auth.ChainID)
	if err != nil {
		log.Fatal().Err(err).Msg("trade preparer init failed")
	}

	handlers := api.NewHandlers(marketRepo, instrumentRepo, signalRepo, eventRepo,
		streamSvc, candleSvc, positionSvc, authSvc, preparer, caches, log)
	server := api.NewServer(cfg, handlers, eventBus, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	// Live stream before the first sync so discovered markets join
	// immediately.
	streamSvc.Start(rootCtx)
	go func() {
		if err := feed.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Error().Err(err).Msg("market feed stopped")
		}
	}()

	// First catalog sync runs in the background; periodic jobs take over.
	go func() {
		if err := marketIndexer.FullSync(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Error().Err(err).Msg("initial full sync failed")
		}
	}()

	sched := scheduler.New(rootCtx, log)
	mustAdd := func(job scheduler.Job) {
		if err := sched.Add(job); err != nil {
			log.Fatal().Err(err).Str("job", job.Name).Msg("job registration failed")
		}
	}

	mustAdd(scheduler.Job{Name: "full_sync", Interval: cfg.Sync.FullInterval,
		Run: marketIndexer.FullSync, SkipInitial: true})
	mustAdd(scheduler.Job{Name: "incremental_sync", Interval: cfg.Sync.IncrementalInterval,
		Run: marketIndexer.IncrementalSync, SkipInitial: true})
	mustAdd(scheduler.Job{Name: "doc_download", Interval: cfg.Sync.LifecycleInterval, Run: downloader.Run})
	mustAdd(scheduler.Job{Name: "doc_parse", Interval: cfg.Sync.LifecycleInterval, Run: parser.Run})
	mustAdd(scheduler.Job{Name: "doc_enrich", Interval: cfg.Sync.LifecycleInterval, Run: enricher.Run})

	if cfg.Workers.Filings {
		mustAdd(scheduler.Job{Name: "filings_discovery", Interval: cfg.Sync.IncrementalInterval, Run: discovery.RunFilings})
	}
	if cfg.Workers.News {
		mustAdd(scheduler.Job{Name: "news_discovery", Interval: cfg.Sync.IncrementalInterval, Run: discovery.RunNews})
	}
	if cfg.Workers.Transcripts {
		mustAdd(scheduler.Job{Name: "transcripts_discovery", Interval: cfg.Sync.MetricsInterval, Run: discovery.RunTranscripts})
	}
	if cfg.Workers.Signals {
		mustAdd(scheduler.Job{Name: "signal_computation", Interval: cfg.Sync.SignalsInterval, Run: signalRunner.Run})
	}
	if cfg.Workers.EtfMetrics {
		mustAdd(scheduler.Job{Name: "etf_metric_sync", Interval: cfg.Sync.MetricsInterval, Run: metricIngestor.Run})
	}

	sched.Start()
	log.Info().Int("port", cfg.Port).Msg("backend started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// Shutdown order: stop accepting requests, stop jobs, close the stream,
	// let launched backfills drain, then the deferred store close.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	sched.Stop()
	rootCancel()
	feed.Close()
	streamSvc.Stop()
	backfiller.Wait()

	log.Info().Msg("stopped")
}

func bootLog() *zerolog.Logger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	return &l
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.Level(level).With().Timestamp().Logger()
}
