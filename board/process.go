package board

import (
	"sort"
	"time"
)

// dedupTolerance groups near-identical effective times: the same physical
// departure reported by schedule and realtime rarely lands on the exact
// same second.
const dedupTolerance = time.Minute

// Process dedups and truncates an already assembled record set. Records are
// duplicates when trip and stop coincide and their effective times lie within
// the tolerance of each other; the realtime-confirmed record wins. The output
// is ordered by effective time and capped at limit, with the pre-truncation
// total reported. Running Process on its own output returns it unchanged.
func Process(records []DepartureRecord, limit int) ([]DepartureRecord, int, bool) {
	type dedupKey struct {
		tripID string
		stopID string
		bucket int64
	}
	best := map[dedupKey]DepartureRecord{}
	order := []dedupKey{}
	bucketSecs := int64(dedupTolerance / time.Second)
	for _, r := range records {
		eff := r.EffectiveTime()
		bucket := eff.Unix() / bucketSecs
		// Two renditions within the tolerance can straddle a bucket
		// boundary, so the neighbouring buckets are checked too.
		var k dedupKey
		found := false
		for _, b := range []int64{bucket, bucket - 1, bucket + 1} {
			cand := dedupKey{tripID: r.TripID, stopID: r.StopID, bucket: b}
			if cur, ok := best[cand]; ok && absDur(eff.Sub(cur.EffectiveTime())) <= dedupTolerance {
				k, found = cand, true
				break
			}
		}
		if !found {
			k = dedupKey{tripID: r.TripID, stopID: r.StopID, bucket: bucket}
			best[k] = r
			order = append(order, k)
			continue
		}
		if r.Live && !best[k].Live {
			best[k] = r
		}
	}

	out := make([]DepartureRecord, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].EffectiveTime(), out[j].EffectiveTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		if out[i].StopID != out[j].StopID {
			return out[i].StopID < out[j].StopID
		}
		return out[i].TripID < out[j].TripID
	})

	total := len(out)
	truncated := false
	if limit > 0 && total > limit {
		out = out[:limit]
		truncated = true
	}
	return out, total, truncated
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// MinutesUntil rounds the wait down to whole minutes, clamped at zero for
// departures already due.
func MinutesUntil(at, now time.Time) int {
	d := at.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
