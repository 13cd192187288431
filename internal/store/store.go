package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	sqlite3 "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

var (
	// ErrBusy wraps transient lock contention; callers may retry the write.
	ErrBusy = errors.New("store: database busy")
	// ErrDuplicate wraps primary-key conflicts on append-only inserts.
	ErrDuplicate = errors.New("store: duplicate row")
)

// Range queries are widened by one settlement period each side so segments
// straddling the window edge are captured.
const queryEpsilon = 30 * time.Minute

const schemaSQL = `
CREATE TABLE IF NOT EXISTS fpn (
    unit       TEXT NOT NULL,
    time_from  TEXT NOT NULL,
    time_to    TEXT NOT NULL,
    level_from REAL NOT NULL,
    level_to   REAL NOT NULL,
    PRIMARY KEY (unit, time_from, time_to)
);
CREATE TABLE IF NOT EXISTS boal (
    unit        TEXT NOT NULL,
    accept_id   INTEGER NOT NULL,
    accept_time TEXT NOT NULL,
    time_from   TEXT NOT NULL,
    time_to     TEXT NOT NULL,
    level_from  REAL NOT NULL,
    level_to    REAL NOT NULL,
    PRIMARY KEY (unit, time_from, time_to, accept_id, level_from, level_to)
);
CREATE TABLE IF NOT EXISTS bod (
    unit      TEXT NOT NULL,
    time_from TEXT NOT NULL,
    time_to   TEXT NOT NULL,
    pair_id   INTEGER NOT NULL,
    bid       TEXT NOT NULL,
    offer     TEXT NOT NULL,
    PRIMARY KEY (unit, time_from, time_to, pair_id)
);
`

// ScheduleRow is one staged declared-schedule (FPN) segment.
type ScheduleRow struct {
	Unit      string
	TimeFrom  time.Time
	TimeTo    time.Time
	LevelFrom float64
	LevelTo   float64
}

// DeviationRow is one staged deviation-instruction (BOAL) segment.
type DeviationRow struct {
	Unit       string
	AcceptID   int64
	AcceptTime time.Time
	TimeFrom   time.Time
	TimeTo     time.Time
	LevelFrom  float64
	LevelTo    float64
}

// PriceRow is one staged bid/offer price pair (BOD).
type PriceRow struct {
	Unit     string
	TimeFrom time.Time
	TimeTo   time.Time
	PairID   int
	Bid      decimal.Decimal
	Offer    decimal.Decimal
}

// Store is the run-scoped embedded staging area between fetch and
// reconciliation. Each pipeline run opens its own database file keyed by the
// run window, so overlapping runs never share state.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open creates (or reopens) the staging database at path and ensures the
// schema exists. Use ":memory:" for tests.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open staging db %s: %w", path, err)
	}

	// Writers within a chunk contend for the file lock; a single connection
	// plus the retry policy upstream keeps this manageable.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init staging schema: %w", err)
	}

	return &Store{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "interval_store").Logger(),
	}, nil
}

// PathForWindow builds the per-run database filename for a time window.
func PathForWindow(dir string, start, end time.Time) string {
	name := fmt.Sprintf("phys_%s_%s.db", start.UTC().Format("20060102T1504"), end.UTC().Format("20060102T1504"))
	return filepath.Join(dir, name)
}

// Path reports the backing file path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteSchedule appends declared-schedule rows. Duplicate keys never discard
// the batch; see writeRows.
func (s *Store) WriteSchedule(ctx context.Context, rows []ScheduleRow) error {
	return s.writeRows(ctx, "fpn", len(rows), func(tx *sql.Tx, i int) error {
		row := rows[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fpn (unit, time_from, time_to, level_from, level_to) VALUES (?, ?, ?, ?, ?)`,
			row.Unit, encodeTime(row.TimeFrom), encodeTime(row.TimeTo), row.LevelFrom, row.LevelTo)
		return classify(err)
	})
}

// WriteDeviations appends deviation rows. Duplicate keys never discard the
// batch; see writeRows.
func (s *Store) WriteDeviations(ctx context.Context, rows []DeviationRow) error {
	return s.writeRows(ctx, "boal", len(rows), func(tx *sql.Tx, i int) error {
		row := rows[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO boal (unit, accept_id, accept_time, time_from, time_to, level_from, level_to)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			row.Unit, row.AcceptID, encodeTime(row.AcceptTime),
			encodeTime(row.TimeFrom), encodeTime(row.TimeTo), row.LevelFrom, row.LevelTo)
		return classify(err)
	})
}

// WritePrices appends bid/offer price rows. Duplicate keys never discard the
// batch; see writeRows.
func (s *Store) WritePrices(ctx context.Context, rows []PriceRow) error {
	return s.writeRows(ctx, "bod", len(rows), func(tx *sql.Tx, i int) error {
		row := rows[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bod (unit, time_from, time_to, pair_id, bid, offer) VALUES (?, ?, ?, ?, ?, ?)`,
			row.Unit, encodeTime(row.TimeFrom), encodeTime(row.TimeTo), row.PairID,
			row.Bid.String(), row.Offer.String())
		return classify(err)
	})
}

// writeRows batch-inserts rows inside one transaction. On a duplicate key the
// batch is retried row by row and only the colliding rows are skipped: segments
// spanning a settlement-period boundary are reported once per period, and
// adjacent chunks of one run both stage the boundary period, so collisions are
// routine and must never abort a write.
func (s *Store) writeRows(ctx context.Context, table string, n int, insert func(tx *sql.Tx, i int) error) error {
	if n == 0 {
		return nil
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for i := 0; i < n; i++ {
			if err := insert(tx, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil || !errors.Is(err, ErrDuplicate) {
		return err
	}

	s.logger.Warn().Str("table", table).Int("rows", n).Msg("duplicate row in batch, retrying row by row")

	return s.inTx(ctx, func(tx *sql.Tx) error {
		skipped := 0
		for i := 0; i < n; i++ {
			insertErr := insert(tx, i)
			if insertErr == nil {
				continue
			}
			if errors.Is(insertErr, ErrDuplicate) {
				skipped++
				continue
			}
			return insertErr
		}
		if skipped > 0 {
			s.logger.Debug().Str("table", table).Int("skipped", skipped).Msg("discarded duplicate rows")
		}
		return nil
	})
}

// ScheduleBetween reads staged schedule segments overlapping [start-ε, end+ε].
func (s *Store) ScheduleBetween(ctx context.Context, start, end time.Time) ([]ScheduleRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit, time_from, time_to, level_from, level_to FROM fpn
		 WHERE time_from >= ? AND time_from <= ? ORDER BY unit, time_from`,
		encodeTime(start.Add(-queryEpsilon)), encodeTime(end.Add(queryEpsilon)))
	if err != nil {
		return nil, fmt.Errorf("query fpn: %w", classify(err))
	}
	defer rows.Close()

	out := make([]ScheduleRow, 0)
	for rows.Next() {
		var row ScheduleRow
		var from, to string
		if err := rows.Scan(&row.Unit, &from, &to, &row.LevelFrom, &row.LevelTo); err != nil {
			return nil, err
		}
		if row.TimeFrom, err = decodeTime(from); err != nil {
			return nil, err
		}
		if row.TimeTo, err = decodeTime(to); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeviationsBetween reads staged deviation segments overlapping [start-ε, end+ε].
func (s *Store) DeviationsBetween(ctx context.Context, start, end time.Time) ([]DeviationRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit, accept_id, accept_time, time_from, time_to, level_from, level_to FROM boal
		 WHERE time_from >= ? AND time_from <= ? ORDER BY unit, accept_id, time_from`,
		encodeTime(start.Add(-queryEpsilon)), encodeTime(end.Add(queryEpsilon)))
	if err != nil {
		return nil, fmt.Errorf("query boal: %w", classify(err))
	}
	defer rows.Close()

	out := make([]DeviationRow, 0)
	for rows.Next() {
		var row DeviationRow
		var acceptTime, from, to string
		if err := rows.Scan(&row.Unit, &row.AcceptID, &acceptTime, &from, &to, &row.LevelFrom, &row.LevelTo); err != nil {
			return nil, err
		}
		if row.AcceptTime, err = decodeTime(acceptTime); err != nil {
			return nil, err
		}
		if row.TimeFrom, err = decodeTime(from); err != nil {
			return nil, err
		}
		if row.TimeTo, err = decodeTime(to); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// PricesBetween reads staged price pairs overlapping [start-ε, end+ε].
func (s *Store) PricesBetween(ctx context.Context, start, end time.Time) ([]PriceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unit, time_from, time_to, pair_id, bid, offer FROM bod
		 WHERE time_from >= ? AND time_from <= ? ORDER BY unit, time_from`,
		encodeTime(start.Add(-queryEpsilon)), encodeTime(end.Add(queryEpsilon)))
	if err != nil {
		return nil, fmt.Errorf("query bod: %w", classify(err))
	}
	defer rows.Close()

	out := make([]PriceRow, 0)
	for rows.Next() {
		var row PriceRow
		var from, to, bid, offer string
		if err := rows.Scan(&row.Unit, &from, &to, &row.PairID, &bid, &offer); err != nil {
			return nil, err
		}
		if row.TimeFrom, err = decodeTime(from); err != nil {
			return nil, err
		}
		if row.TimeTo, err = decodeTime(to); err != nil {
			return nil, err
		}
		if row.Bid, err = decimal.NewFromString(bid); err != nil {
			return nil, fmt.Errorf("parse bid price: %w", err)
		}
		if row.Offer, err = decimal.NewFromString(offer); err != nil {
			return nil, fmt.Errorf("parse offer price: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps driver errors onto the store's sentinel errors so callers can
// pick between retry (busy) and row-skip (duplicate) policies.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrBusy, err)
		case sqlitelib.SQLITE_CONSTRAINT:
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return err
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func decodeTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode stored timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}
