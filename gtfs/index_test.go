package gtfs

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
	"time"
)

// makeFeedZip builds a GTFS bundle in memory from table contents.
func makeFeedZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func testFeedFiles() map[string]string {
	return map[string]string{
		"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
			"S1,Utrina,45.7800,15.9700\n" +
			"S2,Utrina sjever,45.7810,15.9705\n" +
			"S3,Trešnjevka,45.8000,15.9500\n" +
			"S4,Savski most,45.7700,15.9400\n",
		"routes.txt": "route_id,route_short_name,route_long_name,route_type\n" +
			"R1,6,Črnomerec - Sopot,0\n" +
			"R2,109,Črnomerec - Dugave,3\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign,direction_id\n" +
			"R1,WK,T1,Sopot,0\n" +
			"R1,WK,T2,Črnomerec,1\n" +
			"R2,WK,T3,Dugave,0\n",
		"stop_times.txt": "trip_id,stop_id,stop_sequence,arrival_time,departure_time\n" +
			"T1,S1,1,08:10:00,08:10:00\n" +
			"T1,S3,2,08:25:00,08:25:00\n" +
			"T2,S3,1,08:05:00,08:05:00\n" +
			"T2,S1,2,08:12:00,08:12:00\n" +
			"T3,S1,1,25:10:00,25:10:00\n" +
			"T3,S4,2,25:20:00,25:20:00\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,1,1,20250101,20271231\n",
		"calendar_dates.txt": "service_id,date,exception_type\n" +
			"WK,20260310,2\n" +
			"HOL,20260310,1\n",
		"feed_info.txt": "feed_publisher_name,feed_version,feed_start_date,feed_end_date\n" +
			"Test,125,20250101,20271231\n",
	}
}

func buildTestIndex(t *testing.T) *ScheduleIndex {
	t.Helper()
	idx, err := BuildIndex(makeFeedZip(t, testFeedFiles()))
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	return idx
}

// TestBuildIndex_Basics checks table counts and accessor wiring
func TestBuildIndex_Basics(t *testing.T) {
	idx := buildTestIndex(t)
	if idx.StopCount() != 4 || idx.RouteCount() != 2 || idx.TripCount() != 3 {
		t.Errorf("counts = %d/%d/%d, want 4/2/3", idx.StopCount(), idx.RouteCount(), idx.TripCount())
	}
	if got := idx.FeedInfoField("feed_version"); got != "125" {
		t.Errorf("feed_version = %q, want 125", got)
	}
	route, _ := idx.Route("R1")
	if route.Label() != "6 - Črnomerec - Sopot" {
		t.Errorf("route label = %q", route.Label())
	}
	if route.Mode() != "tram" {
		t.Errorf("route mode = %q, want tram", route.Mode())
	}
	stop, _ := idx.Stop("S1")
	if stop.Label() != "Utrina [S1]" {
		t.Errorf("stop label = %q", stop.Label())
	}
}

// TestBuildIndex_CorruptRejected checks referential validation failures
func TestBuildIndex_CorruptRejected(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"empty stops", func(f map[string]string) {
			f["stops.txt"] = "stop_id,stop_name,stop_lat,stop_lon\n"
		}},
		{"dangling route", func(f map[string]string) {
			f["trips.txt"] = "route_id,service_id,trip_id\nNOPE,WK,T1\n"
		}},
		{"dangling stop", func(f map[string]string) {
			f["stop_times.txt"] = "trip_id,stop_id,stop_sequence,departure_time\nT1,NOPE,1,08:10:00\n"
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			files := testFeedFiles()
			tc.mutate(files)
			_, err := BuildIndex(makeFeedZip(t, files))
			var corrupt *FeedCorruptError
			if !errors.As(err, &corrupt) {
				t.Fatalf("err = %v, want FeedCorruptError", err)
			}
		})
	}

	if _, err := BuildIndex([]byte("not a zip")); err == nil {
		t.Error("garbage payload should be rejected")
	}
}

// TestClockToSeconds_PastMidnight checks overnight times survive parsing
func TestClockToSeconds_PastMidnight(t *testing.T) {
	idx := buildTestIndex(t)
	seq := idx.StopSequence("T3")
	if len(seq) != 2 {
		t.Fatalf("T3 sequence = %d calls, want 2", len(seq))
	}
	if seq[0].DepartureSecs != 25*3600+10*60 {
		t.Errorf("25:10:00 parsed to %d seconds", seq[0].DepartureSecs)
	}
}

// TestMatchStops_Ranking checks the exact > prefix > substring order and
// diacritic folding
func TestMatchStops_Ranking(t *testing.T) {
	idx := buildTestIndex(t)

	matches := idx.MatchStops("utrina")
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(matches))
	}
	if matches[0].Stop.ID != "S1" || matches[0].Rank != 0 {
		t.Errorf("first match = %s rank %d, want S1 rank 0", matches[0].Stop.ID, matches[0].Rank)
	}
	if matches[1].Stop.ID != "S2" || matches[1].Rank != 1 {
		t.Errorf("second match = %s rank %d, want S2 rank 1", matches[1].Stop.ID, matches[1].Rank)
	}

	// diacritic-insensitive
	if m := idx.MatchStops("tresnjevka"); len(m) != 1 || m[0].Stop.ID != "S3" {
		t.Errorf("tresnjevka matched %+v", m)
	}
	// substring
	if m := idx.MatchStops("most"); len(m) != 1 || m[0].Rank != 2 {
		t.Errorf("substring match = %+v", m)
	}
	// full label form pins one stop
	if m := idx.MatchStops("Utrina [S2]"); len(m) == 0 || m[0].Stop.ID != "S2" {
		t.Errorf("label form matched %+v", m)
	}
	if m := idx.MatchStops("nowhere at all"); len(m) != 0 {
		t.Errorf("bogus query matched %+v", m)
	}
}

// TestStopsNear_Ordering checks radius filtering and ascending distance
func TestStopsNear_Ordering(t *testing.T) {
	idx := buildTestIndex(t)
	near := idx.StopsNear(45.7800, 15.9700, 200)
	if len(near) != 2 {
		t.Fatalf("stops within 200m = %d, want 2", len(near))
	}
	if near[0].Stop.ID != "S1" || near[1].Stop.ID != "S2" {
		t.Errorf("order = %s,%s, want S1,S2", near[0].Stop.ID, near[1].Stop.ID)
	}
	if near[0].Meters > near[1].Meters {
		t.Error("distances not ascending")
	}
	if wide := idx.StopsNear(45.7800, 15.9700, 5000); len(wide) != 4 {
		t.Errorf("stops within 5km = %d, want 4", len(wide))
	}
}

// TestActiveServices_CalendarExceptions checks weekday ranges plus add and
// remove exception rows
func TestActiveServices_CalendarExceptions(t *testing.T) {
	idx := buildTestIndex(t)

	normal := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	if _, ok := idx.ActiveServices(normal)["WK"]; !ok {
		t.Error("WK should run on a normal day")
	}

	exception := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	active := idx.ActiveServices(exception)
	if _, ok := active["WK"]; ok {
		t.Error("WK removed by exception_type=2 should not run")
	}
	if _, ok := active["HOL"]; !ok {
		t.Error("HOL added by exception_type=1 should run")
	}

	outside := time.Date(2028, 3, 4, 0, 0, 0, 0, time.UTC)
	if len(idx.ActiveServices(outside)) != 0 {
		t.Error("no service should run outside the calendar range")
	}
}

// TestTripsAtStop_DirectionFilter checks direction matching by id and by
// headsign
func TestTripsAtStop_DirectionFilter(t *testing.T) {
	idx := buildTestIndex(t)
	if trips := idx.TripsAtStop("S1", ""); len(trips) != 3 {
		t.Errorf("all trips at S1 = %d, want 3", len(trips))
	}
	if trips := idx.TripsAtStop("S1", "1"); len(trips) != 1 || trips[0].ID != "T2" {
		t.Errorf("direction 1 trips = %+v", trips)
	}
	if trips := idx.TripsAtStop("S1", "sopot"); len(trips) != 1 || trips[0].ID != "T1" {
		t.Errorf("headsign direction trips = %+v", trips)
	}
}

// TestDeparturesAtStop_Sorted checks the per-stop departure ordering
func TestDeparturesAtStop_Sorted(t *testing.T) {
	idx := buildTestIndex(t)
	deps := idx.DeparturesAtStop("S1")
	if len(deps) != 3 {
		t.Fatalf("departures at S1 = %d, want 3", len(deps))
	}
	for i := 1; i < len(deps); i++ {
		if deps[i-1].DepartureSecs > deps[i].DepartureSecs {
			t.Fatalf("departures not sorted: %+v", deps)
		}
	}
}
