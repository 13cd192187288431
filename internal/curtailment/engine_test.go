package curtailment

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const tolerance = 1e-9

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

// flatSchedule declares a constant level between from and to.
func flatSchedule(unit string, from, to time.Time, level float64) ScheduleSegment {
	return ScheduleSegment{Unit: unit, TimeFrom: from, TimeTo: to, LevelFrom: level, LevelTo: level}
}

func TestConcreteCurtailmentScenario(t *testing.T) {
	engine := newTestEngine(t)

	start := time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	inputs := Inputs{
		Schedule: []ScheduleSegment{flatSchedule("T_WINDY-1", start, end, 100)},
		Deviations: []DeviationSegment{{
			Unit: "T_WINDY-1", AcceptID: 1,
			TimeFrom: start.Add(10 * time.Minute), TimeTo: start.Add(30 * time.Minute),
			LevelFrom: 40, LevelTo: 40,
		}},
		Prices: []PricePair{{
			Unit: "T_WINDY-1", PairID: DownwardPair, TimeFrom: start,
			Bid: decimal.NewFromInt(-50),
		}},
	}

	records := engine.Analyze(inputs, start, end)
	if len(records) != 2 {
		t.Fatalf("expected 2 settlement periods, got %d", len(records))
	}

	// First period: minutes 10..29 curtailed by 60 MW.
	first := records[0]
	if !approxEqual(first.DeltaMW, 20*60.0/30) {
		t.Errorf("first period delta = %v MW, want 40", first.DeltaMW)
	}
	if !approxEqual(first.LevelFPNMW, 100) {
		t.Errorf("first period FPN = %v MW, want 100", first.LevelFPNMW)
	}
	if !approxEqual(first.LevelAfterMW, (10*100+20*40)/30.0) {
		t.Errorf("first period resolved = %v MW", first.LevelAfterMW)
	}
	if !approxEqual(first.EnergyMWh, 20*60.0/60) {
		t.Errorf("first period energy = %v MWh, want 20", first.EnergyMWh)
	}
	// 20 curtailed minutes at 50 GBP each.
	if math.Abs(first.CostGBP.InexactFloat64()-1000) > 1e-6 {
		t.Errorf("first period cost = %s GBP, want 1000", first.CostGBP)
	}

	// Second period: only the boundary minute 30 still carries the
	// instruction's final level.
	second := records[1]
	if !approxEqual(second.DeltaMW, 60.0/30) {
		t.Errorf("second period delta = %v MW, want 2", second.DeltaMW)
	}
	if math.Abs(second.CostGBP.InexactFloat64()-50) > 1e-6 {
		t.Errorf("second period cost = %s GBP, want 50", second.CostGBP)
	}
}

func TestResolutionPrecedence(t *testing.T) {
	engine := newTestEngine(t)

	start := time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC)
	end := start.Add(SettlementPeriod)

	// Two acceptances cover the same minutes; the larger id must win at
	// every overlapping minute.
	inputs := Inputs{
		Schedule: []ScheduleSegment{flatSchedule("T_WINDY-1", start, end, 100)},
		Deviations: []DeviationSegment{
			{Unit: "T_WINDY-1", AcceptID: 7, TimeFrom: start, TimeTo: end, LevelFrom: 50, LevelTo: 50},
			{Unit: "T_WINDY-1", AcceptID: 9, TimeFrom: start, TimeTo: end, LevelFrom: 20, LevelTo: 20},
		},
	}

	records := engine.Analyze(inputs, start, end)
	if len(records) != 1 {
		t.Fatalf("expected 1 period, got %d", len(records))
	}
	if !approxEqual(records[0].LevelAfterMW, 20) {
		t.Errorf("resolved level = %v MW, want 20 (acceptance 9 wins)", records[0].LevelAfterMW)
	}

	// Issue order must not depend on slice order.
	inputs.Deviations[0], inputs.Deviations[1] = inputs.Deviations[1], inputs.Deviations[0]
	swapped := engine.Analyze(inputs, start, end)
	if !approxEqual(swapped[0].LevelAfterMW, 20) {
		t.Errorf("resolved level after swap = %v MW, want 20", swapped[0].LevelAfterMW)
	}
}

func TestNoInstructionInvariant(t *testing.T) {
	engine := newTestEngine(t)

	start := time.Date(2022, 1, 15, 6, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	inputs := Inputs{
		Schedule: []ScheduleSegment{
			flatSchedule("T_WINDY-1", start, start.Add(time.Hour), 80),
			{Unit: "T_WINDY-1", TimeFrom: start.Add(time.Hour), TimeTo: end, LevelFrom: 80, LevelTo: 140},
		},
	}

	records := engine.Analyze(inputs, start, end)
	for _, rec := range records {
		if !approxEqual(rec.LevelAfterMW, rec.LevelFPNMW) {
			t.Errorf("period %s: resolved %v != declared %v with no instruction",
				rec.PeriodTime, rec.LevelAfterMW, rec.LevelFPNMW)
		}
		if !approxEqual(rec.DeltaMW, 0) {
			t.Errorf("period %s: delta = %v, want 0", rec.PeriodTime, rec.DeltaMW)
		}
		if !rec.CostGBP.IsZero() {
			t.Errorf("period %s: cost = %s, want 0", rec.PeriodTime, rec.CostGBP)
		}
	}
}

func TestDeduplicationIdempotence(t *testing.T) {
	engine := newTestEngine(t)

	start := time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	dup := DeviationSegment{
		Unit: "T_WINDY-1", AcceptID: 3,
		TimeFrom: start.Add(5 * time.Minute), TimeTo: start.Add(25 * time.Minute),
		LevelFrom: 30, LevelTo: 30,
	}
	base := Inputs{
		Schedule:   []ScheduleSegment{flatSchedule("T_WINDY-1", start, end, 90)},
		Deviations: []DeviationSegment{dup},
	}
	doubled := Inputs{
		Schedule:   base.Schedule,
		Deviations: []DeviationSegment{dup, dup},
	}

	once := engine.Analyze(base, start, end)
	twice := engine.Analyze(doubled, start, end)

	if len(once) != len(twice) {
		t.Fatalf("record counts differ: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if !approxEqual(once[i].DeltaMW, twice[i].DeltaMW) {
			t.Errorf("period %d delta differs: %v vs %v", i, once[i].DeltaMW, twice[i].DeltaMW)
		}
		if !once[i].CostGBP.Equal(twice[i].CostGBP) {
			t.Errorf("period %d cost differs: %s vs %s", i, once[i].CostGBP, twice[i].CostGBP)
		}
	}
}

func TestAggregationCommutativity(t *testing.T) {
	engine := newTestEngine(t)

	start := time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	units := []string{"T_A-1", "T_B-1", "T_C-1", "T_D-1"}
	var schedule []ScheduleSegment
	var deviations []DeviationSegment
	for i, unit := range units {
		level := float64(50 + 25*i)
		schedule = append(schedule, flatSchedule(unit, start, end, level))
		deviations = append(deviations, DeviationSegment{
			Unit: unit, AcceptID: int64(i + 1),
			TimeFrom: start, TimeTo: end,
			LevelFrom: level / 2, LevelTo: level / 2,
		})
	}

	baseline := engine.Analyze(Inputs{Schedule: schedule, Deviations: deviations}, start, end)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		shuffledSched := append([]ScheduleSegment(nil), schedule...)
		shuffledDevs := append([]DeviationSegment(nil), deviations...)
		rng.Shuffle(len(shuffledSched), func(i, j int) {
			shuffledSched[i], shuffledSched[j] = shuffledSched[j], shuffledSched[i]
		})
		rng.Shuffle(len(shuffledDevs), func(i, j int) {
			shuffledDevs[i], shuffledDevs[j] = shuffledDevs[j], shuffledDevs[i]
		})

		permuted := engine.Analyze(Inputs{Schedule: shuffledSched, Deviations: shuffledDevs}, start, end)
		if len(permuted) != len(baseline) {
			t.Fatalf("trial %d: record counts differ", trial)
		}
		for i := range baseline {
			if math.Abs(baseline[i].DeltaMW-permuted[i].DeltaMW) > 1e-6 {
				t.Errorf("trial %d period %d: delta %v vs %v", trial, i, baseline[i].DeltaMW, permuted[i].DeltaMW)
			}
			if math.Abs(baseline[i].LevelFPNMW-permuted[i].LevelFPNMW) > 1e-6 {
				t.Errorf("trial %d period %d: fpn %v vs %v", trial, i, baseline[i].LevelFPNMW, permuted[i].LevelFPNMW)
			}
		}
	}
}

func TestZeroRowRobustness(t *testing.T) {
	engine := newTestEngine(t)

	start := time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	sched := []ScheduleSegment{flatSchedule("T_WINDY-1", start, end, 100)}
	devs := []DeviationSegment{{Unit: "T_WINDY-1", AcceptID: 1, TimeFrom: start, TimeTo: end, LevelFrom: 0, LevelTo: 0}}
	prices := []PricePair{{Unit: "T_WINDY-1", PairID: DownwardPair, TimeFrom: start, Bid: decimal.NewFromInt(-10)}}

	cases := []struct {
		name   string
		inputs Inputs
	}{
		{"all empty", Inputs{}},
		{"schedule only", Inputs{Schedule: sched}},
		{"deviations only", Inputs{Deviations: devs}},
		{"prices only", Inputs{Prices: prices}},
		{"no prices", Inputs{Schedule: sched, Deviations: devs}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records := engine.Analyze(tc.inputs, start, end)
			if len(records) != 2 {
				t.Fatalf("expected 2 dense periods, got %d", len(records))
			}
			for _, rec := range records {
				// Fields are always present; absence degrades to zero.
				if math.IsNaN(rec.DeltaMW) || math.IsNaN(rec.LevelFPNMW) || math.IsNaN(rec.LevelAfterMW) {
					t.Errorf("period %s contains NaN", rec.PeriodTime)
				}
			}
		})
	}
}

func TestRangeFiltering(t *testing.T) {
	engine := newTestEngine(t)

	start := time.Date(2022, 1, 15, 1, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	// Schedule runs well past the requested window; resampling produces
	// periods outside [start, end) that must not surface.
	inputs := Inputs{
		Schedule: []ScheduleSegment{flatSchedule("T_WINDY-1", start.Add(-time.Hour), end.Add(2*time.Hour), 100)},
	}

	records := engine.Analyze(inputs, start, end)
	if len(records) != 2 {
		t.Fatalf("expected 2 periods inside window, got %d", len(records))
	}
	for _, rec := range records {
		if rec.PeriodTime.Before(start) || !rec.PeriodTime.Before(end) {
			t.Errorf("period %s outside [%s, %s)", rec.PeriodTime, start, end)
		}
	}
}

func TestSettlementPeriodsUseLocalCivilTime(t *testing.T) {
	engine := newTestEngine(t)

	// British Summer Time: 12:00 UTC is 13:00 local.
	start := time.Date(2022, 7, 15, 12, 0, 0, 0, time.UTC)
	end := start.Add(SettlementPeriod)

	inputs := Inputs{Schedule: []ScheduleSegment{flatSchedule("T_WINDY-1", start, end, 100)}}
	records := engine.Analyze(inputs, start, end)
	if len(records) != 1 {
		t.Fatalf("expected 1 period, got %d", len(records))
	}
	if records[0].PeriodTime.Hour() != 13 {
		t.Errorf("period hour = %d, want 13 (Europe/London)", records[0].PeriodTime.Hour())
	}
	if !records[0].PeriodTime.Equal(start) {
		t.Errorf("period instant should equal %s, got %s", start, records[0].PeriodTime)
	}
}

func TestUnitWithScheduleOnlyInOneDataset(t *testing.T) {
	engine := newTestEngine(t)

	start := time.Date(2022, 1, 15, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	// Three units, each present in exactly one dataset.
	inputs := Inputs{
		Schedule: []ScheduleSegment{flatSchedule("T_SCHED-1", start, end, 60)},
		Deviations: []DeviationSegment{{
			Unit: "T_DEV-1", AcceptID: 1, TimeFrom: start, TimeTo: end, LevelFrom: 10, LevelTo: 10,
		}},
		Prices: []PricePair{{Unit: "T_PRICE-1", PairID: DownwardPair, TimeFrom: start, Bid: decimal.NewFromInt(-5)}},
	}

	records := engine.Analyze(inputs, start, end)
	if len(records) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(records))
	}
	// Only the scheduled unit contributes minutes; the others are valid but
	// produce nothing without a schedule to reconcile against.
	if !approxEqual(records[0].LevelFPNMW, 60) {
		t.Errorf("declared = %v MW, want 60", records[0].LevelFPNMW)
	}
	if !approxEqual(records[0].DeltaMW, 0) {
		t.Errorf("delta = %v, want 0", records[0].DeltaMW)
	}
}
