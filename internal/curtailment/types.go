package curtailment

import (
	"time"

	"github.com/shopspring/decimal"
)

// DownwardPair is the bid/offer pair number that prices a downward deviation;
// only this pair feeds curtailment cost.
const DownwardPair = -1

// ScheduleSegment is one declared-schedule (FPN) ramp between two breakpoints.
// Declared output interpolates linearly between them.
type ScheduleSegment struct {
	Unit      string
	TimeFrom  time.Time
	TimeTo    time.Time
	LevelFrom float64
	LevelTo   float64
}

// DeviationSegment is one operator-instruction (BOAL) ramp. Segments sharing
// an AcceptID were issued under the same acceptance; a later acceptance
// overrides an earlier one wherever they overlap.
type DeviationSegment struct {
	Unit       string
	AcceptID   int64
	AcceptTime time.Time
	TimeFrom   time.Time
	TimeTo     time.Time
	LevelFrom  float64
	LevelTo    float64
}

// PricePair is a bid price effective from a point in time. A price holds
// until superseded by a later one.
type PricePair struct {
	Unit     string
	PairID   int
	TimeFrom time.Time
	Bid      decimal.Decimal
}

// Point is one reconciled minute for one unit. Points are ephemeral; only
// their 30-minute aggregates are persisted.
type Point struct {
	Time       time.Time
	LevelFPN   float64
	LevelBOAL  float64
	HasBOAL    bool
	LevelAfter float64
	DeltaMW    float64
	EnergyMWh  float64
	CostGBP    decimal.Decimal
	Priced     bool
}

// SettlementRecord is the persisted 30-minute aggregate across all units.
// Levels are period-mean MW; energy and cost are period totals.
type SettlementRecord struct {
	PeriodTime   time.Time
	LevelFPNMW   float64
	LevelBOALMW  float64
	LevelAfterMW float64
	DeltaMW      float64
	EnergyMWh    float64
	CostGBP      decimal.Decimal
}

// Inputs carries the three staged datasets for a reconciliation run. Any of
// the slices may be empty; a unit present in one dataset but not another is
// handled with the missing data treated as empty.
type Inputs struct {
	Schedule   []ScheduleSegment
	Deviations []DeviationSegment
	Prices     []PricePair
}
