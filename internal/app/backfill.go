package app

import (
	"context"
	"errors"
	"fmt"

	"wind-curtailment-monitor/internal/service"
)

// Backfill reprocesses a historical window into the result sink.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	start := opts.Start.UTC()
	end := opts.End.UTC()
	if !start.Before(end) {
		return errors.New("backfill window is empty; check --start/--end")
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = a.Config.Fetch.ChunkSize
	}

	records, closeSink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	if records == nil {
		return errors.New("database.dsn not configured; cannot backfill")
	}
	defer closeSink()

	a.Logger.Info().Time("start", start).Time("end", end).
		Dur("chunk_size", chunkSize).
		Msg("backfill starting")

	report, runErr := a.runWindow(ctx, records, start, end, chunkSize)
	a.logReport(report)
	if runErr != nil {
		return fmt.Errorf("backfill: %w", runErr)
	}
	if report.Worst() == service.ChunkDegraded {
		a.Logger.Warn().Msg("backfill finished with degraded chunks; rerun to fill gaps")
	}
	return nil
}
