package curtailment

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SettlementPeriod is the fixed local-time accounting window.
const SettlementPeriod = 30 * time.Minute

const minutesPerPeriod = 30

// Engine reconciles declared schedules against deviation instructions and
// aggregates curtailment into settlement periods.
type Engine struct {
	loc    *time.Location
	logger zerolog.Logger
}

// NewEngine constructs the reconciliation engine. Settlement periods are
// defined in UK local civil time, so the zone database must be available.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		return nil, fmt.Errorf("load settlement time zone: %w", err)
	}
	return &Engine{
		loc:    loc,
		logger: logger.With().Str("component", "reconciliation_engine").Logger(),
	}, nil
}

// Analyze runs per-unit reconciliation over every unit appearing in any of
// the three datasets and aggregates the result into dense settlement-period
// records covering [start, end). Empty datasets produce zero-filled periods,
// never an error.
func (e *Engine) Analyze(inputs Inputs, start, end time.Time) []SettlementRecord {
	scheduleByUnit := make(map[string][]ScheduleSegment)
	for _, seg := range inputs.Schedule {
		scheduleByUnit[seg.Unit] = append(scheduleByUnit[seg.Unit], seg)
	}
	deviationsByUnit := make(map[string][]DeviationSegment)
	for _, seg := range inputs.Deviations {
		deviationsByUnit[seg.Unit] = append(deviationsByUnit[seg.Unit], seg)
	}
	pricesByUnit := make(map[string][]PricePair)
	for _, pair := range inputs.Prices {
		pricesByUnit[pair.Unit] = append(pricesByUnit[pair.Unit], pair)
	}

	units := unitUnion(scheduleByUnit, deviationsByUnit, pricesByUnit)
	e.logger.Info().Int("units", len(units)).
		Time("start", start).Time("end", end).
		Msg("reconciling units")

	all := make([]Point, 0)
	for _, unit := range units {
		points := analyzeUnit(scheduleByUnit[unit], deviationsByUnit[unit], pricesByUnit[unit])
		if len(points) == 0 {
			e.logger.Debug().Str("unit", unit).Msg("no reconcilable schedule minutes")
			continue
		}
		e.logger.Debug().Str("unit", unit).
			Float64("curtailment_mwh", totalCurtailmentMWh(points)).
			Float64("notified_mwh", totalNotifiedMWh(points)).
			Msg("unit reconciled")
		all = append(all, points...)
	}

	return e.aggregate(all, start, end)
}

type periodSums struct {
	fpn    float64
	boal   float64
	after  float64
	delta  float64
	energy float64
	cost   decimal.Decimal
}

// aggregate converts minutes to local civil time, floors them onto 30-minute
// settlement boundaries and sums across units. The local conversion has to
// happen before bucketing: UK settlement periods follow the local clock
// through daylight-saving transitions.
func (e *Engine) aggregate(points []Point, start, end time.Time) []SettlementRecord {
	sums := make(map[int64]*periodSums)
	for _, pt := range points {
		period := pt.Time.In(e.loc).Truncate(SettlementPeriod)
		agg, ok := sums[period.Unix()]
		if !ok {
			agg = &periodSums{}
			sums[period.Unix()] = agg
		}
		agg.fpn += pt.LevelFPN
		agg.boal += pt.LevelBOAL // missing instruction contributes zero
		agg.after += pt.LevelAfter
		agg.delta += pt.DeltaMW
		agg.energy += pt.EnergyMWh
		agg.cost = agg.cost.Add(pt.CostGBP) // unpriced minutes contribute zero
	}

	// Dense period walk over the requested range: resampling artifacts
	// outside [start, end) are dropped, gaps inside degrade to zero rows.
	first := start.Truncate(SettlementPeriod)
	if first.Before(start) {
		first = first.Add(SettlementPeriod)
	}

	records := make([]SettlementRecord, 0)
	for period := first; period.Before(end); period = period.Add(SettlementPeriod) {
		rec := SettlementRecord{PeriodTime: period.In(e.loc), CostGBP: decimal.Zero}
		if agg, ok := sums[period.Unix()]; ok {
			// Each level was summed over 30 one-minute MW samples, so /30
			// recovers the period-mean MW. Energy and cost stay totals.
			rec.LevelFPNMW = agg.fpn / minutesPerPeriod
			rec.LevelBOALMW = agg.boal / minutesPerPeriod
			rec.LevelAfterMW = agg.after / minutesPerPeriod
			rec.DeltaMW = agg.delta / minutesPerPeriod
			rec.EnergyMWh = agg.energy
			rec.CostGBP = agg.cost
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PeriodTime.Before(records[j].PeriodTime)
	})
	return records
}

func unitUnion(schedule map[string][]ScheduleSegment, deviations map[string][]DeviationSegment, prices map[string][]PricePair) []string {
	seen := make(map[string]struct{})
	for unit := range schedule {
		seen[unit] = struct{}{}
	}
	for unit := range deviations {
		seen[unit] = struct{}{}
	}
	for unit := range prices {
		seen[unit] = struct{}{}
	}

	units := make([]string, 0, len(seen))
	for unit := range seen {
		units = append(units, unit)
	}
	sort.Strings(units)
	return units
}
