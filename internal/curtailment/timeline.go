package curtailment

import (
	"sort"
	"time"
)

// levelPoint is one (time, level) breakpoint on a timeline.
type levelPoint struct {
	at    time.Time
	level float64
}

// minuteLevel is one minute-resolution sample.
type minuteLevel struct {
	minute int64 // unix seconds, minute-aligned
	level  float64
}

func minuteOf(t time.Time) int64 {
	return t.UTC().Truncate(time.Minute).Unix()
}

// linearizeSchedule converts from/to segment pairs into breakpoints.
func linearizeSchedule(segments []ScheduleSegment) []levelPoint {
	points := make([]levelPoint, 0, len(segments)*2)
	for _, seg := range segments {
		points = append(points,
			levelPoint{at: seg.TimeFrom, level: seg.LevelFrom},
			levelPoint{at: seg.TimeTo, level: seg.LevelTo},
		)
	}
	return points
}

func linearizeDeviation(segments []DeviationSegment) []levelPoint {
	points := make([]levelPoint, 0, len(segments)*2)
	for _, seg := range segments {
		points = append(points,
			levelPoint{at: seg.TimeFrom, level: seg.LevelFrom},
			levelPoint{at: seg.TimeTo, level: seg.LevelTo},
		)
	}
	return points
}

// forwardFillMinutes resamples breakpoints to one-minute granularity holding
// the most recent known level. Instructions are step-wise: the level holds
// until superseded or the instruction ends.
func forwardFillMinutes(points []levelPoint) []minuteLevel {
	if len(points) == 0 {
		return nil
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })

	// First breakpoint within each minute wins; later minutes inherit.
	firstInMinute := make(map[int64]float64)
	for _, p := range points {
		m := minuteOf(p.at)
		if _, seen := firstInMinute[m]; !seen {
			firstInMinute[m] = p.level
		}
	}

	first := minuteOf(points[0].at)
	last := minuteOf(points[len(points)-1].at)

	out := make([]minuteLevel, 0, (last-first)/60+1)
	carry := firstInMinute[first]
	for m := first; m <= last; m += 60 {
		if level, ok := firstInMinute[m]; ok {
			carry = level
		}
		out = append(out, minuteLevel{minute: m, level: carry})
	}
	return out
}

// interpolateMinutes resamples breakpoints to one-minute granularity with
// linear interpolation. Breakpoints sharing a minute are averaged first.
// Schedules are continuous ramps, unlike step-wise instructions.
func interpolateMinutes(points []levelPoint) []minuteLevel {
	if len(points) == 0 {
		return nil
	}

	sort.SliceStable(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })

	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	for _, p := range points {
		m := minuteOf(p.at)
		sums[m] += p.level
		counts[m]++
	}

	first := minuteOf(points[0].at)
	last := minuteOf(points[len(points)-1].at)

	known := make([]minuteLevel, 0, len(sums))
	for m := first; m <= last; m += 60 {
		if n, ok := counts[m]; ok {
			known = append(known, minuteLevel{minute: m, level: sums[m] / float64(n)})
		}
	}

	out := make([]minuteLevel, 0, (last-first)/60+1)
	idx := 0
	for m := first; m <= last; m += 60 {
		for idx+1 < len(known) && known[idx+1].minute <= m {
			idx++
		}
		if known[idx].minute == m || idx+1 >= len(known) {
			out = append(out, minuteLevel{minute: m, level: known[idx].level})
			continue
		}
		lo, hi := known[idx], known[idx+1]
		frac := float64(m-lo.minute) / float64(hi.minute-lo.minute)
		out = append(out, minuteLevel{minute: m, level: lo.level + (hi.level-lo.level)*frac})
	}
	return out
}

// dropLastMinute removes the final boundary minute shared with the next
// adjoining window so it is not counted twice.
func dropLastMinute(series []minuteLevel) []minuteLevel {
	if len(series) == 0 {
		return series
	}
	return series[:len(series)-1]
}
