package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"wind-curtailment-monitor/internal/curtailment"
	"wind-curtailment-monitor/internal/fetch"
	"wind-curtailment-monitor/internal/store"
)

// ChunkStatus reports how one chunk of a run fared.
type ChunkStatus string

const (
	// ChunkComplete means the chunk was fetched, reconciled and persisted
	// in full.
	ChunkComplete ChunkStatus = "complete"
	// ChunkDegraded means results were persisted but are known to be
	// incomplete, e.g. a unit fetch failed or a staging write was
	// abandoned.
	ChunkDegraded ChunkStatus = "degraded"
	// ChunkFailed means nothing usable was persisted for the chunk.
	ChunkFailed ChunkStatus = "failed"
)

func (s ChunkStatus) worse(other ChunkStatus) ChunkStatus {
	rank := map[ChunkStatus]int{ChunkComplete: 0, ChunkDegraded: 1, ChunkFailed: 2}
	if rank[other] > rank[s] {
		return other
	}
	return s
}

// ChunkResult captures the outcome of one chunk.
type ChunkResult struct {
	Chunk   fetch.Chunk
	Status  ChunkStatus
	Records int
	Err     error
}

// RunReport summarises a pipeline run chunk by chunk. Callers decide how to
// react to degradation instead of digging it out of logs.
type RunReport struct {
	Start  time.Time
	End    time.Time
	Chunks []ChunkResult
}

// Worst returns the most severe chunk status in the run, ChunkComplete for
// an empty report.
func (r RunReport) Worst() ChunkStatus {
	worst := ChunkComplete
	for _, c := range r.Chunks {
		worst = worst.worse(c.Status)
	}
	return worst
}

// ChunkFetcher retrieves and stages one chunk of raw data.
type ChunkFetcher interface {
	FetchChunk(ctx context.Context, chunk fetch.Chunk) (fetch.Result, error)
}

// StagingReader reads back staged rows for reconciliation.
type StagingReader interface {
	ScheduleBetween(ctx context.Context, start, end time.Time) ([]store.ScheduleRow, error)
	DeviationsBetween(ctx context.Context, start, end time.Time) ([]store.DeviationRow, error)
	PricesBetween(ctx context.Context, start, end time.Time) ([]store.PriceRow, error)
}

// RecordWriter persists reconciled settlement records.
type RecordWriter interface {
	WriteRecords(ctx context.Context, records []curtailment.SettlementRecord) error
}

// Service drives the fetch-reconcile-persist pipeline over a time window.
type Service struct {
	fetcher ChunkFetcher
	staging StagingReader
	engine  *curtailment.Engine
	sink    RecordWriter
	logger  zerolog.Logger
}

// New constructs the pipeline service.
func New(fetcher ChunkFetcher, staging StagingReader, engine *curtailment.Engine, sink RecordWriter, logger zerolog.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		staging: staging,
		engine:  engine,
		sink:    sink,
		logger:  logger.With().Str("component", "service").Logger(),
	}
}

// RunWindow processes [start, end) in consecutive chunks. Each chunk is
// fetched, reconciled from staging and persisted before the next begins, so
// an aborted run leaves complete chunks behind. A failed fetch aborts the
// run; a failed persist degrades the chunk and the run continues.
func (s *Service) RunWindow(ctx context.Context, start, end time.Time, chunkSize time.Duration) (RunReport, error) {
	report := RunReport{Start: start, End: end}

	chunks := fetch.Chunks(start, end, chunkSize)
	if len(chunks) == 0 {
		return report, fmt.Errorf("empty window [%s, %s)", start, end)
	}

	s.logger.Info().Time("start", start).Time("end", end).
		Int("chunks", len(chunks)).Dur("chunk_size", chunkSize).
		Msg("pipeline run starting")

	for _, chunk := range chunks {
		result := s.runChunk(ctx, chunk)
		report.Chunks = append(report.Chunks, result)
		if result.Status == ChunkFailed {
			return report, fmt.Errorf("chunk [%s, %s): %w", chunk.Start, chunk.End, result.Err)
		}
	}

	s.logger.Info().Str("status", string(report.Worst())).
		Int("chunks", len(report.Chunks)).
		Msg("pipeline run finished")
	return report, nil
}

func (s *Service) runChunk(ctx context.Context, chunk fetch.Chunk) ChunkResult {
	result := ChunkResult{Chunk: chunk, Status: ChunkComplete}

	fetched, err := s.fetcher.FetchChunk(ctx, chunk)
	if err != nil {
		result.Status = ChunkFailed
		result.Err = fmt.Errorf("fetch: %w", err)
		return result
	}
	if fetched.Degraded {
		result.Status = ChunkDegraded
	}

	records, err := s.reconcile(ctx, chunk)
	if err != nil {
		result.Status = ChunkFailed
		result.Err = err
		return result
	}
	result.Records = len(records)

	if err := s.sink.WriteRecords(ctx, records); err != nil {
		// Staged data survives in the run store, so the window can be
		// replayed once the sink recovers.
		s.logger.Error().Err(err).
			Time("chunk_start", chunk.Start).Time("chunk_end", chunk.End).
			Msg("persist failed, chunk degraded")
		result.Status = ChunkDegraded
		result.Err = fmt.Errorf("persist: %w", err)
	}
	return result
}

// reconcile reads the chunk's staged rows back and runs the engine on them.
func (s *Service) reconcile(ctx context.Context, chunk fetch.Chunk) ([]curtailment.SettlementRecord, error) {
	schedule, err := s.staging.ScheduleBetween(ctx, chunk.Start, chunk.End)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	deviations, err := s.staging.DeviationsBetween(ctx, chunk.Start, chunk.End)
	if err != nil {
		return nil, fmt.Errorf("read deviations: %w", err)
	}
	prices, err := s.staging.PricesBetween(ctx, chunk.Start, chunk.End)
	if err != nil {
		return nil, fmt.Errorf("read prices: %w", err)
	}

	inputs := curtailment.Inputs{
		Schedule:   make([]curtailment.ScheduleSegment, 0, len(schedule)),
		Deviations: make([]curtailment.DeviationSegment, 0, len(deviations)),
		Prices:     make([]curtailment.PricePair, 0, len(prices)),
	}
	for _, row := range schedule {
		inputs.Schedule = append(inputs.Schedule, curtailment.ScheduleSegment{
			Unit:      row.Unit,
			TimeFrom:  row.TimeFrom,
			TimeTo:    row.TimeTo,
			LevelFrom: row.LevelFrom,
			LevelTo:   row.LevelTo,
		})
	}
	for _, row := range deviations {
		inputs.Deviations = append(inputs.Deviations, curtailment.DeviationSegment{
			Unit:      row.Unit,
			AcceptID:  row.AcceptID,
			TimeFrom:  row.TimeFrom,
			TimeTo:    row.TimeTo,
			LevelFrom: row.LevelFrom,
			LevelTo:   row.LevelTo,
		})
	}
	for _, row := range prices {
		inputs.Prices = append(inputs.Prices, curtailment.PricePair{
			Unit:     row.Unit,
			PairID:   row.PairID,
			TimeFrom: row.TimeFrom,
			Bid:      row.Bid,
		})
	}

	return s.engine.Analyze(inputs, chunk.Start, chunk.End), nil
}

// DefaultWindow returns the most recently completed UTC day, the window a
// scheduled run processes.
func DefaultWindow(now time.Time) (time.Time, time.Time) {
	end := now.UTC().Truncate(24 * time.Hour)
	return end.Add(-24 * time.Hour), end
}
