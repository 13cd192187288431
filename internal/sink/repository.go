package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"wind-curtailment-monitor/internal/curtailment"
)

// ErrNotConfigured indicates the sink pool was not initialised.
var ErrNotConfigured = errors.New("sink: pool not configured")

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS curtailment_records (
        period_ts           TIMESTAMPTZ PRIMARY KEY,
        level_fpn_mw        DOUBLE PRECISION NOT NULL,
        level_boal_mw       DOUBLE PRECISION NOT NULL,
        level_after_boal_mw DOUBLE PRECISION NOT NULL,
        delta_mw            DOUBLE PRECISION NOT NULL,
        energy_mwh          DOUBLE PRECISION NOT NULL,
        cost_gbp            NUMERIC NOT NULL,
        created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertRecordSQL = `INSERT INTO curtailment_records (
        period_ts,
        level_fpn_mw,
        level_boal_mw,
        level_after_boal_mw,
        delta_mw,
        energy_mwh,
        cost_gbp
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (period_ts) DO NOTHING;`

	listRecordsBetweenSQL = `SELECT
        period_ts,
        level_fpn_mw,
        level_boal_mw,
        level_after_boal_mw,
        delta_mw,
        energy_mwh,
        cost_gbp,
        created_at
    FROM curtailment_records
    WHERE period_ts >= $1
      AND period_ts < $2
    ORDER BY period_ts;`

	listRecentRecordsSQL = `SELECT
        period_ts,
        level_fpn_mw,
        level_boal_mw,
        level_after_boal_mw,
        delta_mw,
        energy_mwh,
        cost_gbp,
        created_at
    FROM curtailment_records
    ORDER BY period_ts DESC
    LIMIT $1;`

	countRecordsSQL = `SELECT COUNT(*) FROM curtailment_records;`
)

// RecordStore defines operations for curtailment record persistence.
type RecordStore interface {
	WriteRecords(ctx context.Context, records []curtailment.SettlementRecord) error
	RecordsBetween(ctx context.Context, from, to time.Time) ([]CurtailmentRecord, error)
	RecentRecords(ctx context.Context, limit int) ([]CurtailmentRecord, error)
	CountRecords(ctx context.Context) (int64, error)
}

// Store persists settlement-period aggregates to PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the records table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createSchemaSQL); execErr != nil {
		return fmt.Errorf("create curtailment schema: %w", execErr)
	}
	return nil
}

// WriteRecords persists a batch of settlement records. A period already
// written by an earlier run is left untouched, so replaying a window is safe.
// An empty batch is a no-op.
func (s *Store) WriteRecords(ctx context.Context, records []curtailment.SettlementRecord) error {
	if len(records) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		row := fromSettlement(rec)
		batch.Queue(insertRecordSQL,
			row.PeriodTime,
			row.LevelFPNMW,
			row.LevelBOALMW,
			row.LevelAfterMW,
			row.DeltaMW,
			row.EnergyMWh,
			row.CostGBP.String(),
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("insert curtailment record: %w", execErr)
		}
	}
	return nil
}

// RecordsBetween lists records within [from, to) ordered by period.
func (s *Store) RecordsBetween(ctx context.Context, from, to time.Time) ([]CurtailmentRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecordsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list records between: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, 0)
}

// RecentRecords lists the most recent records ordered by descending period.
func (s *Store) RecentRecords(ctx context.Context, limit int) ([]CurtailmentRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRecordsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent records: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, limit)
}

// CountRecords counts stored records.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRecordsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count records: %w", scanErr)
	}
	return count, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func collectRecords(rows pgx.Rows, hint int) ([]CurtailmentRecord, error) {
	records := make([]CurtailmentRecord, 0, hint)
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanRecord(rows pgx.Rows) (CurtailmentRecord, error) {
	var (
		rec     CurtailmentRecord
		costStr string
	)

	if err := rows.Scan(
		&rec.PeriodTime,
		&rec.LevelFPNMW,
		&rec.LevelBOALMW,
		&rec.LevelAfterMW,
		&rec.DeltaMW,
		&rec.EnergyMWh,
		&costStr,
		&rec.CreatedAt,
	); err != nil {
		return CurtailmentRecord{}, err
	}

	cost, err := decimal.NewFromString(costStr)
	if err != nil {
		return CurtailmentRecord{}, fmt.Errorf("parse cost: %w", err)
	}
	rec.CostGBP = cost

	return rec, nil
}
