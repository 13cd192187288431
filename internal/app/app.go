package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"wind-curtailment-monitor/internal/catalog"
	"wind-curtailment-monitor/internal/config"
	"wind-curtailment-monitor/internal/curtailment"
	"wind-curtailment-monitor/internal/elexon"
	"wind-curtailment-monitor/internal/fetch"
	"wind-curtailment-monitor/internal/scheduler"
	"wind-curtailment-monitor/internal/service"
	"wind-curtailment-monitor/internal/sink"
	"wind-curtailment-monitor/internal/store"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() (*elexon.Client, error) {
	return elexon.NewClient(elexon.Options{
		BaseURL:        a.Config.Elexon.BaseURL,
		APIKey:         a.Config.Elexon.APIKey,
		RequestTimeout: a.Config.Elexon.RequestTimeout,
		UserAgent:      a.Config.Elexon.UserAgent,
	}, a.Logger)
}

func (a *App) loadCatalog() (*catalog.Catalog, error) {
	units, err := catalog.Load(a.Config.Units.Path)
	if err != nil {
		return nil, fmt.Errorf("load unit catalog %s: %w", a.Config.Units.Path, err)
	}
	a.Logger.Info().Int("units", units.Len()).
		Int("wind_units", len(units.WindUnits())).
		Str("path", a.Config.Units.Path).
		Msg("unit catalog loaded")
	return units, nil
}

func (a *App) openSink(ctx context.Context) (*sink.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := sink.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	records := sink.NewStore(pool)
	if err := records.EnsureSchema(ctx); err != nil {
		records.Close()
		return nil, nil, err
	}
	closer := func() {
		records.Close()
	}
	return records, closer, nil
}

func (a *App) retryPolicy() fetch.RetryPolicy {
	return fetch.RetryPolicy{
		MaxRetries: a.Config.Fetch.MaxRetries,
		BackoffMin: a.Config.Fetch.BackoffMin,
		BackoffMax: a.Config.Fetch.BackoffMax,
	}
}

// runWindow executes one full pipeline pass over [start, end) against a
// run-scoped staging store, which is discarded afterwards unless store.keep
// is set.
func (a *App) runWindow(ctx context.Context, records service.RecordWriter, start, end time.Time, chunkSize time.Duration) (service.RunReport, error) {
	client, err := a.newClient()
	if err != nil {
		return service.RunReport{}, err
	}
	units, err := a.loadCatalog()
	if err != nil {
		return service.RunReport{}, err
	}
	engine, err := curtailment.NewEngine(a.Logger)
	if err != nil {
		return service.RunReport{}, err
	}

	path := store.PathForWindow(a.Config.Store.Dir, start, end)
	staging, err := store.Open(path, a.Logger)
	if err != nil {
		return service.RunReport{}, err
	}
	defer func() {
		if cerr := staging.Close(); cerr != nil {
			a.Logger.Warn().Err(cerr).Str("path", path).Msg("close staging store")
		}
		if !a.Config.Store.Keep {
			if rerr := os.Remove(path); rerr != nil {
				a.Logger.Warn().Err(rerr).Str("path", path).Msg("remove staging store")
			}
		}
	}()

	orch := fetch.NewOrchestrator(client, staging, units, fetch.Options{
		Workers:  a.Config.Fetch.Workers,
		PullOnce: a.Config.Fetch.PullOnce,
		Retry:    a.retryPolicy(),
	}, a.Logger)

	svc := service.New(orch, staging, engine, records, a.Logger)
	return svc.RunWindow(ctx, start, end, chunkSize)
}

// Run executes the long-running monitoring service: an aligned hourly loop
// that reprocesses the most recently completed day.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	records, closeSink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	var writer service.RecordWriter = records
	if records == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
		writer = nopRecordWriter{}
	}
	if closeSink != nil {
		defer closeSink()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Offset:       a.Config.Scheduler.Offset,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting curtailment monitor")
	err = sched.Run(ctx, func(ctx context.Context, tick time.Time) error {
		start, end := service.DefaultWindow(tick)
		report, runErr := a.runWindow(ctx, writer, start, end, a.Config.Fetch.ChunkSize)
		a.logReport(report)
		return runErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}

	a.Logger.Info().Msg("curtailment monitor stopped")
	return nil
}

func (a *App) logReport(report service.RunReport) {
	event := a.Logger.Info()
	if report.Worst() != service.ChunkComplete {
		event = a.Logger.Warn()
	}
	event.Time("start", report.Start).Time("end", report.End).
		Int("chunks", len(report.Chunks)).
		Str("status", string(report.Worst())).
		Msg("pipeline run report")
}

type nopRecordWriter struct{}

func (nopRecordWriter) WriteRecords(ctx context.Context, records []curtailment.SettlementRecord) error {
	return nil
}

// ExportOptions hold parameters for exporting persisted records.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	Start     time.Time
	End       time.Time
	ChunkSize time.Duration
}
