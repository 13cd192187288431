package curtailment

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const minutesToHours = 1.0 / 60.0

// analyzeUnit reconciles one unit's declared schedule against its resolved
// instruction timeline and attaches prices. Every schedule minute is
// preserved: a unit with a schedule but no instruction is legitimate and
// appears with zero curtailment. Any of the inputs may be empty.
func analyzeUnit(schedule []ScheduleSegment, deviations []DeviationSegment, prices []PricePair) []Point {
	fpn := dropLastMinute(interpolateMinutes(linearizeSchedule(schedule)))
	if len(fpn) == 0 {
		return nil
	}

	resolved := resolveDeviations(deviations)
	bids := downwardBids(prices)

	points := make([]Point, 0, len(fpn))
	bidIdx := -1
	for _, sample := range fpn {
		pt := Point{
			Time:     time.Unix(sample.minute, 0).UTC(),
			LevelFPN: sample.level,
		}

		if level, ok := resolved[sample.minute]; ok {
			pt.LevelBOAL = level
			pt.HasBOAL = true
			pt.LevelAfter = level
		} else {
			// No instruction active: the unit runs to plan.
			pt.LevelAfter = pt.LevelFPN
		}

		pt.DeltaMW = pt.LevelFPN - pt.LevelAfter
		pt.EnergyMWh = pt.DeltaMW * minutesToHours

		for bidIdx+1 < len(bids) && !bids[bidIdx+1].TimeFrom.After(pt.Time) {
			bidIdx++
		}
		if bidIdx >= 0 {
			// Bid prices are negative for curtailment, so cost comes out
			// positive for positive delta.
			pt.CostGBP = bids[bidIdx].Bid.Neg().Mul(decimal.NewFromFloat(pt.EnergyMWh))
			pt.Priced = true
		}

		points = append(points, pt)
	}
	return points
}

// downwardBids selects the pair -1 prices ordered by effective time, ready
// for forward-filling onto the merged timeline.
func downwardBids(prices []PricePair) []PricePair {
	bids := make([]PricePair, 0, len(prices))
	for _, p := range prices {
		if p.PairID == DownwardPair {
			bids = append(bids, p)
		}
	}
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].TimeFrom.Before(bids[j].TimeFrom) })
	return bids
}

func totalCurtailmentMWh(points []Point) float64 {
	var mwMinutes float64
	for _, pt := range points {
		mwMinutes += pt.DeltaMW
	}
	return mwMinutes * minutesToHours
}

func totalNotifiedMWh(points []Point) float64 {
	var mwMinutes float64
	for _, pt := range points {
		mwMinutes += pt.LevelFPN
	}
	return mwMinutes * minutesToHours
}
