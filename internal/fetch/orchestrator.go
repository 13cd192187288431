package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"wind-curtailment-monitor/internal/catalog"
	"wind-curtailment-monitor/internal/elexon"
	"wind-curtailment-monitor/internal/store"
)

// Client retrieves raw physical and price records from the upstream API.
type Client interface {
	FetchPhysical(ctx context.Context, unit string, start, end time.Time) ([]elexon.Record, error)
	FetchPrices(ctx context.Context, unit string, start, end time.Time) ([]elexon.Record, error)
}

// Staging receives classified rows for one chunk.
type Staging interface {
	WriteSchedule(ctx context.Context, rows []store.ScheduleRow) error
	WriteDeviations(ctx context.Context, rows []store.DeviationRow) error
	WritePrices(ctx context.Context, rows []store.PriceRow) error
}

// Options parameterise the fetch orchestrator.
type Options struct {
	// Workers bounds concurrent per-unit fetches.
	Workers int
	// PullOnce fetches all units in a single pass and filters locally,
	// instead of one request series per wind unit.
	PullOnce bool
	Retry    RetryPolicy
}

// Chunk is one contiguous slice of the requested window.
type Chunk struct {
	Start time.Time
	End   time.Time
}

// Result summarises what one chunk fetch staged.
type Result struct {
	ScheduleRows  int
	DeviationRows int
	PriceRows     int
	// FailedUnits counts units whose fetch failed and were skipped.
	FailedUnits int
	// Degraded is set when staged data is known to be incomplete: some
	// units failed to fetch, or a staging write exhausted its retries.
	Degraded bool
}

// Orchestrator walks a time window chunk by chunk, fetching raw records for
// every wind unit, classifying them and staging them for reconciliation.
type Orchestrator struct {
	client  Client
	staging Staging
	units   *catalog.Catalog
	opts    Options
	logger  zerolog.Logger
}

func NewOrchestrator(client Client, staging Staging, units *catalog.Catalog, opts Options, logger zerolog.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 20
	}
	return &Orchestrator{
		client:  client,
		staging: staging,
		units:   units,
		opts:    opts,
		logger:  logger.With().Str("component", "fetch_orchestrator").Logger(),
	}
}

// Chunks splits [start, end) into consecutive slices of at most size. The
// final chunk is clamped to end, so chunks always tile the window exactly.
func Chunks(start, end time.Time, size time.Duration) []Chunk {
	if size <= 0 || !start.Before(end) {
		return nil
	}
	chunks := make([]Chunk, 0, end.Sub(start)/size+1)
	for at := start; at.Before(end); at = at.Add(size) {
		chunk := Chunk{Start: at, End: at.Add(size)}
		if chunk.End.After(end) {
			chunk.End = end
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// FetchChunk retrieves, classifies and stages one chunk. Individual unit
// failures are tolerated and reported through Result.Degraded; an error means
// nothing usable was staged for the chunk.
func (o *Orchestrator) FetchChunk(ctx context.Context, chunk Chunk) (Result, error) {
	var records []elexon.Record
	var failed int
	var err error

	if o.opts.PullOnce {
		records, err = o.fetchAll(ctx, chunk)
	} else {
		records, failed, err = o.fetchPerUnit(ctx, chunk)
	}
	if err != nil {
		return Result{}, err
	}

	schedule, deviations, prices := classify(records)

	result := Result{
		ScheduleRows:  len(schedule),
		DeviationRows: len(deviations),
		PriceRows:     len(prices),
		FailedUnits:   failed,
		Degraded:      failed > 0,
	}

	writes := []struct {
		op string
		fn func() error
	}{
		{"write_schedule", func() error { return o.staging.WriteSchedule(ctx, schedule) }},
		{"write_deviations", func() error { return o.staging.WriteDeviations(ctx, deviations) }},
		{"write_prices", func() error { return o.staging.WritePrices(ctx, prices) }},
	}
	for _, w := range writes {
		if werr := o.opts.Retry.Do(ctx, o.logger, w.op, w.fn); werr != nil {
			if errors.Is(werr, store.ErrBusy) {
				// Retries exhausted: the chunk is incomplete but the run
				// can continue with what the other writes staged.
				o.logger.Error().Str("op", w.op).Err(werr).Msg("staging write abandoned")
				result.Degraded = true
				continue
			}
			return result, fmt.Errorf("%s: %w", w.op, werr)
		}
	}

	o.logger.Info().
		Time("chunk_start", chunk.Start).Time("chunk_end", chunk.End).
		Int("schedule_rows", result.ScheduleRows).
		Int("deviation_rows", result.DeviationRows).
		Int("price_rows", result.PriceRows).
		Int("failed_units", result.FailedUnits).
		Msg("chunk staged")
	return result, nil
}

// fetchPerUnit runs one request series per wind unit under a bounded pool.
// A failed unit is logged and skipped; only a fully failed chunk errors.
func (o *Orchestrator) fetchPerUnit(ctx context.Context, chunk Chunk) ([]elexon.Record, int, error) {
	units := o.units.WindUnits()
	if len(units) == 0 {
		return nil, 0, errors.New("no wind units in catalog")
	}

	var mu sync.Mutex
	var records []elexon.Record
	var failed int

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(o.opts.Workers)
	for _, unit := range units {
		group.Go(func() error {
			unitRecords, err := o.fetchUnit(gctx, unit, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Tolerated: the reconciliation engine treats a missing
				// unit as zero curtailment rather than losing the chunk.
				o.logger.Warn().Str("unit", unit).Err(err).Msg("unit fetch failed, skipping")
				failed++
				return nil
			}
			records = append(records, unitRecords...)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, failed, err
	}
	if failed == len(units) {
		return nil, failed, fmt.Errorf("all %d unit fetches failed", failed)
	}
	return records, failed, nil
}

func (o *Orchestrator) fetchUnit(ctx context.Context, unit string, chunk Chunk) ([]elexon.Record, error) {
	physical, err := o.client.FetchPhysical(ctx, unit, chunk.Start, chunk.End)
	if err != nil {
		return nil, fmt.Errorf("fetch physical: %w", err)
	}
	prices, err := o.client.FetchPrices(ctx, unit, chunk.Start, chunk.End)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	return append(physical, prices...), nil
}

// fetchAll retrieves every unit in one request series and keeps only wind
// units. Cheaper on requests, heavier on payload.
func (o *Orchestrator) fetchAll(ctx context.Context, chunk Chunk) ([]elexon.Record, error) {
	physical, err := o.client.FetchPhysical(ctx, "", chunk.Start, chunk.End)
	if err != nil {
		return nil, fmt.Errorf("fetch physical: %w", err)
	}
	prices, err := o.client.FetchPrices(ctx, "", chunk.Start, chunk.End)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	records := make([]elexon.Record, 0, len(physical)+len(prices))
	for _, rec := range append(physical, prices...) {
		if o.units.IsWind(rec.Unit) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// recordKey is the logical identity of a staged row. Segments straddling a
// settlement-period boundary come back from both period requests, so
// duplicates within a chunk are expected and dropped before staging.
// Cross-chunk duplicates are handled by the store's row-level skip.
type recordKey struct {
	kind      elexon.Kind
	unit      string
	timeFrom  int64
	timeTo    int64
	acceptID  int64
	pairID    int
	levelFrom float64
	levelTo   float64
}

func classify(records []elexon.Record) ([]store.ScheduleRow, []store.DeviationRow, []store.PriceRow) {
	var schedule []store.ScheduleRow
	var deviations []store.DeviationRow
	var prices []store.PriceRow

	seen := make(map[recordKey]struct{})
	dedup := func(rec elexon.Record) bool {
		key := recordKey{
			kind:      rec.Kind,
			unit:      rec.Unit,
			timeFrom:  rec.TimeFrom.Unix(),
			timeTo:    rec.TimeTo.Unix(),
			acceptID:  rec.AcceptID,
			pairID:    rec.PairID,
			levelFrom: rec.LevelFrom,
			levelTo:   rec.LevelTo,
		}
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		return false
	}

	for _, rec := range records {
		if dedup(rec) {
			continue
		}
		switch rec.Kind {
		case elexon.KindSchedule:
			schedule = append(schedule, store.ScheduleRow{
				Unit:      rec.Unit,
				TimeFrom:  rec.TimeFrom,
				TimeTo:    rec.TimeTo,
				LevelFrom: rec.LevelFrom,
				LevelTo:   rec.LevelTo,
			})
		case elexon.KindDeviation:
			deviations = append(deviations, store.DeviationRow{
				Unit:       rec.Unit,
				AcceptID:   rec.AcceptID,
				AcceptTime: rec.AcceptTime,
				TimeFrom:   rec.TimeFrom,
				TimeTo:     rec.TimeTo,
				LevelFrom:  rec.LevelFrom,
				LevelTo:    rec.LevelTo,
			})
		case elexon.KindPrice:
			prices = append(prices, store.PriceRow{
				Unit:     rec.Unit,
				TimeFrom: rec.TimeFrom,
				TimeTo:   rec.TimeTo,
				PairID:   rec.PairID,
				Bid:      rec.Bid,
				Offer:    rec.Offer,
			})
		}
	}
	return schedule, deviations, prices
}
