package cmd

import (
	"fmt"
	"time"

	"marketsync/config"
	"marketsync/logger"
	"marketsync/metrics"
	"marketsync/scheduler"
	"marketsync/services/analysis"
	"marketsync/services/calendar"
	"marketsync/services/datafetcher"
	"marketsync/services/ledger"
	"marketsync/services/report"
	"marketsync/services/syncer"
	"marketsync/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds every wired component of one process
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *gorm.DB
	store     *store.GormStore
	registry  *prometheus.Registry
	syncer    *syncer.Orchestrator
	scheduler *scheduler.Engine
}

// newApp loads configuration and wires the components
func newApp(opts rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.debug {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Debug,
		Dir:         cfg.Logging.Dir,
		FileName:    fmt.Sprintf("marketsync-%s.log", time.Now().Format("20060102")),
	})
	if err != nil {
		return nil, err
	}

	db, err := config.InitDB(cfg.Database, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	st := store.New(db)
	cal := calendar.New(cfg.Location())
	client := datafetcher.NewRetryingClient(newProviderClient(cfg), datafetcher.RetryConfig{
		RequestDelay:   cfg.Data.RequestDelayDuration(),
		MaxRetries:     cfg.Data.MaxRetries,
		Timeout:        cfg.Data.TimeoutDuration(),
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}, log)

	orch := syncer.New(syncer.Deps{
		Store:    st,
		Client:   client,
		Ledger:   ledger.New(db, log),
		Engine:   analysis.NewEngine(st, cfg.Indicators.LookbackMargin, log),
		Calendar: cal,
		Metrics:  m,
		Logger:   log,
	}, syncer.Options{
		BatchSize:         cfg.Data.BatchSize,
		DaysBack:          cfg.Data.DaysBack,
		IndicatorDaysBack: cfg.Indicators.DaysBack,
	})

	var notifier report.Notifier = report.NewSMTPNotifier(cfg.Email)
	if cfg.Email.LogOnly {
		notifier = report.NewLogNotifier(log)
	}

	tasks := scheduler.NewTasks(scheduler.TaskDeps{
		Syncer:            orch,
		Reporter:          report.NewGenerator(st, orch, log),
		Notifier:          notifier,
		Store:             st,
		Calendar:          cal,
		Logging:           cfg.Logging,
		Email:             cfg.Email,
		IndicatorDaysBack: cfg.Indicators.DaysBack,
		Logger:            log,
	})
	engine := scheduler.New(scheduler.DefaultJobs(tasks), scheduler.Options{
		Location:     cfg.Location(),
		TickInterval: cfg.Scheduler.TickDuration(),
		StopTimeout:  cfg.Scheduler.StopDuration(),
		Metrics:      m,
		Logger:       log,
	})

	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		store:     st,
		registry:  registry,
		syncer:    orch,
		scheduler: engine,
	}, nil
}

func newProviderClient(cfg *config.Config) datafetcher.Client {
	switch cfg.Data.Provider {
	case "alpaca":
		return datafetcher.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)
	default:
		return datafetcher.NewVNDirectClient(cfg.Data.BaseURL, cfg.Data.TimeoutDuration())
	}
}

// close releases the database and flushes the logger
func (a *app) close() {
	if err := config.CloseDB(a.db); err != nil {
		a.log.Warn("Failed to close database", zap.Error(err))
	}
	_ = a.log.Sync()
}
