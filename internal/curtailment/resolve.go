package curtailment

import "sort"

// acceptancePrecedence orders two acceptance identifiers by issue order.
// Identifiers are assigned chronologically, so the numerically larger one is
// the later-issued commitment and takes precedence wherever both cover a
// minute. This is a deliberate policy, including the exact-tie minute case.
func acceptancePrecedence(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// resolveDeviations collapses overlapping acceptances into one authoritative
// per-minute timeline. Each acceptance is forward-filled to minute resolution
// independently; the timelines are then applied in ascending precedence order
// so the latest-issued acceptance wins at every minute it covers. Operators
// can overwrite an earlier instruction before the instant arrives.
func resolveDeviations(segments []DeviationSegment) map[int64]float64 {
	if len(segments) == 0 {
		return nil
	}

	byAccept := make(map[int64][]DeviationSegment)
	for _, seg := range segments {
		byAccept[seg.AcceptID] = append(byAccept[seg.AcceptID], seg)
	}

	acceptIDs := make([]int64, 0, len(byAccept))
	for id := range byAccept {
		acceptIDs = append(acceptIDs, id)
	}
	sort.Slice(acceptIDs, func(i, j int) bool {
		return acceptancePrecedence(acceptIDs[i], acceptIDs[j]) < 0
	})

	resolved := make(map[int64]float64)
	for _, id := range acceptIDs {
		for _, sample := range forwardFillMinutes(linearizeDeviation(byAccept[id])) {
			resolved[sample.minute] = sample.level
		}
	}
	return resolved
}
