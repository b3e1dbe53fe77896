package board

import (
	"testing"
	"time"
)

func rec(trip, stop string, scheduled time.Time, live bool) DepartureRecord {
	r := DepartureRecord{TripID: trip, StopID: stop, Scheduled: scheduled}
	if live {
		r.Realtime = scheduled
		r.Live = true
	}
	return r
}

// TestProcess_DedupPrefersRealtime checks near-identical records collapse
// onto the realtime-confirmed one
func TestProcess_DedupPrefersRealtime(t *testing.T) {
	base := time.Date(2026, 3, 4, 8, 10, 0, 0, time.UTC)
	records := []DepartureRecord{
		rec("T1", "S1", base, false),
		rec("T1", "S1", base, true), // same departure, realtime-confirmed
		rec("T2", "S1", base.Add(2*time.Minute), false),
	}

	out, total, truncated := Process(records, 10)
	if total != 2 || truncated {
		t.Fatalf("total=%d truncated=%v, want 2/false", total, truncated)
	}
	if !out[0].Live {
		t.Error("dedup kept the schedule-only record over the realtime one")
	}
	if out[1].TripID != "T2" {
		t.Errorf("order = %s,%s", out[0].TripID, out[1].TripID)
	}
}

// TestProcess_DedupAcrossBucketBoundary checks two renditions a couple of
// seconds apart still collapse when they fall either side of a whole minute
func TestProcess_DedupAcrossBucketBoundary(t *testing.T) {
	records := []DepartureRecord{
		rec("T1", "S1", time.Date(2026, 3, 4, 8, 10, 59, 0, time.UTC), false),
		rec("T1", "S1", time.Date(2026, 3, 4, 8, 11, 1, 0, time.UTC), true),
	}

	out, total, _ := Process(records, 10)
	if total != 1 || len(out) != 1 {
		t.Fatalf("total=%d out=%+v, want one collapsed record", total, out)
	}
	if !out[0].Live {
		t.Error("dedup kept the schedule-only record over the realtime one")
	}
}

// TestProcess_Idempotent checks running Process on its own output changes
// nothing
func TestProcess_Idempotent(t *testing.T) {
	base := time.Date(2026, 3, 4, 8, 10, 0, 0, time.UTC)
	records := []DepartureRecord{
		rec("T2", "S1", base.Add(5*time.Minute), false),
		rec("T1", "S1", base, true),
		rec("T1", "S1", base, false),
	}

	once, total1, _ := Process(records, 10)
	twice, total2, truncated := Process(once, 10)
	if total1 != total2 || truncated {
		t.Fatalf("totals %d vs %d, truncated=%v", total1, total2, truncated)
	}
	if len(once) != len(twice) {
		t.Fatalf("lengths %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("record %d changed on reprocess: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

// TestProcess_TruncationAccounting checks the limit cap and reported totals
func TestProcess_TruncationAccounting(t *testing.T) {
	base := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	records := make([]DepartureRecord, 0, 6)
	for i := 0; i < 6; i++ {
		records = append(records, rec("T"+string(rune('1'+i)), "S1", base.Add(time.Duration(i*3)*time.Minute), false))
	}

	out, total, truncated := Process(records, 4)
	if len(out) != 4 || total != 6 || !truncated {
		t.Errorf("len=%d total=%d truncated=%v, want 4/6/true", len(out), total, truncated)
	}
	// the kept records are the earliest ones
	if !out[0].Scheduled.Equal(base) || !out[3].Scheduled.Equal(base.Add(9*time.Minute)) {
		t.Errorf("kept window = %v..%v", out[0].Scheduled, out[3].Scheduled)
	}

	// limit 0 means no cap
	if out, total, truncated := Process(records, 0); len(out) != 6 || total != 6 || truncated {
		t.Errorf("uncapped: len=%d total=%d truncated=%v", len(out), total, truncated)
	}
}

// TestEffectiveTime checks the realtime-over-schedule preference
func TestEffectiveTime(t *testing.T) {
	base := time.Date(2026, 3, 4, 8, 10, 0, 0, time.UTC)
	r := DepartureRecord{Scheduled: base}
	if !r.EffectiveTime().Equal(base) {
		t.Error("schedule-only record should use the scheduled time")
	}
	r.Realtime = base.Add(4 * time.Minute)
	if !r.EffectiveTime().Equal(base.Add(4 * time.Minute)) {
		t.Error("realtime prediction should win")
	}
}

// TestMinutesUntil checks clamping at zero for due departures
func TestMinutesUntil(t *testing.T) {
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	if got := MinutesUntil(now.Add(5*time.Minute+30*time.Second), now); got != 5 {
		t.Errorf("MinutesUntil = %d, want 5", got)
	}
	if got := MinutesUntil(now.Add(-time.Minute), now); got != 0 {
		t.Errorf("past departure MinutesUntil = %d, want 0", got)
	}
}
