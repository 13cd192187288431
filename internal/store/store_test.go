package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestScheduleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []ScheduleRow{
		{Unit: "T_WINDY-1", TimeFrom: from, TimeTo: from.Add(30 * time.Minute), LevelFrom: 100, LevelTo: 120},
		{Unit: "T_WINDY-2", TimeFrom: from, TimeTo: from.Add(30 * time.Minute), LevelFrom: 50, LevelTo: 50},
	}
	if err := s.WriteSchedule(ctx, rows); err != nil {
		t.Fatalf("write schedule: %v", err)
	}

	got, err := s.ScheduleBetween(ctx, from, from.Add(time.Hour))
	if err != nil {
		t.Fatalf("read schedule: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Unit != "T_WINDY-1" || got[0].LevelTo != 120 {
		t.Errorf("unexpected first row: %+v", got[0])
	}
	if !got[0].TimeFrom.Equal(from) {
		t.Errorf("timestamps should round-trip, got %s", got[0].TimeFrom)
	}
}

func TestRangeQueryEpsilonCapturesStraddlingRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	start := time.Date(2022, 1, 1, 1, 0, 0, 0, time.UTC)
	// Segment starting 20 minutes before the window straddles into it.
	rows := []ScheduleRow{
		{Unit: "T_WINDY-1", TimeFrom: start.Add(-20 * time.Minute), TimeTo: start.Add(10 * time.Minute), LevelFrom: 80, LevelTo: 80},
	}
	if err := s.WriteSchedule(ctx, rows); err != nil {
		t.Fatalf("write schedule: %v", err)
	}

	got, err := s.ScheduleBetween(ctx, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("read schedule: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("straddling segment should be captured, got %d rows", len(got))
	}
}

func TestWriteDeviationsSkipsDuplicateRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	from := time.Date(2022, 1, 1, 0, 40, 0, 0, time.UTC)
	row := DeviationRow{
		Unit: "T_WINDY-1", AcceptID: 1, AcceptTime: from.Add(-5 * time.Minute),
		TimeFrom: from, TimeTo: from.Add(25 * time.Minute), LevelFrom: 40, LevelTo: 40,
	}
	other := row
	other.AcceptID = 2

	if err := s.WriteDeviations(ctx, []DeviationRow{row}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Same instruction reported again (spanning a settlement-period boundary)
	// alongside a new one; the batch must keep the new row.
	if err := s.WriteDeviations(ctx, []DeviationRow{row, other}); err != nil {
		t.Fatalf("second write should fall back to row-by-row: %v", err)
	}

	got, err := s.DeviationsBetween(ctx, from.Add(-time.Hour), from.Add(time.Hour))
	if err != nil {
		t.Fatalf("read deviations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct rows, got %d", len(got))
	}
}

func TestWriteScheduleSkipsDuplicateRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boundary := time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC)
	row := ScheduleRow{
		Unit: "T_WINDY-1", TimeFrom: boundary, TimeTo: boundary.Add(30 * time.Minute),
		LevelFrom: 100, LevelTo: 100,
	}
	next := row
	next.TimeFrom = boundary.Add(30 * time.Minute)
	next.TimeTo = boundary.Add(time.Hour)

	if err := s.WriteSchedule(ctx, []ScheduleRow{row}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Adjacent chunks both stage the segment starting on their shared
	// boundary; the second batch must keep its new row.
	if err := s.WriteSchedule(ctx, []ScheduleRow{row, next}); err != nil {
		t.Fatalf("second write should fall back to row-by-row: %v", err)
	}

	got, err := s.ScheduleBetween(ctx, boundary, boundary.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("read schedule: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct rows, got %d", len(got))
	}
}

func TestWritePricesSkipsDuplicateRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	row := PriceRow{
		Unit: "T_WINDY-1", TimeFrom: from, TimeTo: from.Add(30 * time.Minute), PairID: -1,
		Bid: decimal.RequireFromString("-40"), Offer: decimal.RequireFromString("90"),
	}
	other := row
	other.PairID = -2

	if err := s.WritePrices(ctx, []PriceRow{row}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.WritePrices(ctx, []PriceRow{row, other}); err != nil {
		t.Fatalf("second write should fall back to row-by-row: %v", err)
	}

	got, err := s.PricesBetween(ctx, from, from.Add(time.Hour))
	if err != nil {
		t.Fatalf("read prices: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct rows, got %d", len(got))
	}
}

func TestPricesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []PriceRow{
		{Unit: "T_WINDY-1", TimeFrom: from, TimeTo: from.Add(30 * time.Minute), PairID: -1,
			Bid: decimal.RequireFromString("-55.55"), Offer: decimal.RequireFromString("120")},
		{Unit: "T_WINDY-1", TimeFrom: from, TimeTo: from.Add(30 * time.Minute), PairID: 1,
			Bid: decimal.RequireFromString("10"), Offer: decimal.RequireFromString("99")},
	}
	if err := s.WritePrices(ctx, rows); err != nil {
		t.Fatalf("write prices: %v", err)
	}

	got, err := s.PricesBetween(ctx, from, from.Add(time.Hour))
	if err != nil {
		t.Fatalf("read prices: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if !got[0].Bid.Equal(decimal.RequireFromString("-55.55")) {
		t.Errorf("bid should round-trip exactly, got %s", got[0].Bid)
	}
}

func TestEmptyWritesAreNoOps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.WriteSchedule(ctx, nil); err != nil {
		t.Errorf("empty schedule write: %v", err)
	}
	if err := s.WriteDeviations(ctx, nil); err != nil {
		t.Errorf("empty deviation write: %v", err)
	}
	if err := s.WritePrices(ctx, nil); err != nil {
		t.Errorf("empty price write: %v", err)
	}
}
