package gtfs

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Tables is the parsed static bundle before indexing.
type Tables struct {
	Stops           map[string]Stop
	Routes          map[string]Route
	Trips           map[string]Trip
	StopTimesByTrip map[string][]StopTime
	Calendar        map[string]CalendarRow
	CalendarDates   map[string][]CalendarDate
	FeedInfo        map[string]string
}

// ParseTables reads the relational tables out of a GTFS zip payload.
// Missing optional tables (calendar_dates, feed_info) are tolerated;
// referential validation happens separately in Validate.
func ParseTables(payload []byte) (*Tables, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, &FeedCorruptError{Reason: "not a zip archive: " + err.Error()}
	}

	t := &Tables{
		Stops:           map[string]Stop{},
		Routes:          map[string]Route{},
		Trips:           map[string]Trip{},
		StopTimesByTrip: map[string][]StopTime{},
		Calendar:        map[string]CalendarRow{},
		CalendarDates:   map[string][]CalendarDate{},
		FeedInfo:        map[string]string{},
	}

	for _, name := range []string{"stops.txt", "routes.txt", "trips.txt", "stop_times.txt", "calendar.txt", "calendar_dates.txt", "feed_info.txt"} {
		f := findMember(zr, name)
		if f == nil {
			continue
		}
		if err := t.consumeCSV(f, name); err != nil {
			return nil, err
		}
	}

	for trip, sts := range t.StopTimesByTrip {
		sort.Slice(sts, func(i, j int) bool { return sts[i].Sequence < sts[j].Sequence })
		t.StopTimesByTrip[trip] = sts
	}
	return t, nil
}

// Validate checks the table set is non-empty and internally consistent.
func (t *Tables) Validate() error {
	if len(t.Stops) == 0 {
		return &FeedCorruptError{Reason: "no stops"}
	}
	if len(t.Routes) == 0 {
		return &FeedCorruptError{Reason: "no routes"}
	}
	if len(t.Trips) == 0 {
		return &FeedCorruptError{Reason: "no trips"}
	}
	if len(t.StopTimesByTrip) == 0 {
		return &FeedCorruptError{Reason: "no stop times"}
	}
	for tripID, trip := range t.Trips {
		if _, ok := t.Routes[trip.RouteID]; !ok {
			return &FeedCorruptError{Reason: "trip " + tripID + " references unknown route " + trip.RouteID}
		}
	}
	for tripID, sts := range t.StopTimesByTrip {
		if _, ok := t.Trips[tripID]; !ok {
			return &FeedCorruptError{Reason: "stop_times reference unknown trip " + tripID}
		}
		for _, st := range sts {
			if _, ok := t.Stops[st.StopID]; !ok {
				return &FeedCorruptError{Reason: "trip " + tripID + " stop_time references unknown stop " + st.StopID}
			}
		}
	}
	return nil
}

// findMember locates a table member tolerantly: "stops.txt" matches both the
// bare name and nested paths like "gtfs/stops.txt".
func findMember(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		n := strings.ToLower(f.Name)
		if n == name || strings.HasSuffix(n, "/"+name) {
			return f
		}
	}
	return nil
}

func (t *Tables) consumeCSV(f *zip.File, name string) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	// utf-8 BOM shows up in several official feeds
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	csvr := csv.NewReader(bytes.NewReader(raw))
	csvr.FieldsPerRecord = -1
	rec, err := csvr.ReadAll()
	if err != nil {
		return &FeedCorruptError{Reason: name + ": " + err.Error()}
	}
	if len(rec) == 0 {
		return nil
	}
	head := rec[0]
	idx := func(col string) int {
		for i, h := range head {
			if strings.EqualFold(strings.TrimSpace(h), col) {
				return i
			}
		}
		return -1
	}
	field := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	switch name {
	case "stops.txt":
		sID := idx("stop_id")
		sN := idx("stop_name")
		sLat := idx("stop_lat")
		sLon := idx("stop_lon")
		sParent := idx("parent_station")
		for _, row := range rec[1:] {
			id := field(row, sID)
			stopName := field(row, sN)
			if id == "" || stopName == "" {
				continue
			}
			lat, _ := strconv.ParseFloat(field(row, sLat), 64)
			lon, _ := strconv.ParseFloat(field(row, sLon), 64)
			t.Stops[id] = Stop{
				ID:            id,
				Name:          stopName,
				Lat:           lat,
				Lon:           lon,
				ParentStation: field(row, sParent),
			}
		}
	case "routes.txt":
		rID := idx("route_id")
		rSN := idx("route_short_name")
		rLN := idx("route_long_name")
		rType := idx("route_type")
		for _, row := range rec[1:] {
			id := field(row, rID)
			if id == "" {
				continue
			}
			typ := 3
			if v, err := strconv.Atoi(field(row, rType)); err == nil {
				typ = v
			}
			t.Routes[id] = Route{
				ID:        id,
				ShortName: field(row, rSN),
				LongName:  field(row, rLN),
				Type:      typ,
			}
		}
	case "trips.txt":
		tID := idx("trip_id")
		rID := idx("route_id")
		svc := idx("service_id")
		hs := idx("trip_headsign")
		dir := idx("direction_id")
		for _, row := range rec[1:] {
			id := field(row, tID)
			routeID := field(row, rID)
			serviceID := field(row, svc)
			if id == "" || routeID == "" || serviceID == "" {
				continue
			}
			t.Trips[id] = Trip{
				ID:          id,
				RouteID:     routeID,
				ServiceID:   serviceID,
				Headsign:    field(row, hs),
				DirectionID: field(row, dir),
			}
		}
	case "stop_times.txt":
		tID := idx("trip_id")
		sID := idx("stop_id")
		sq := idx("stop_sequence")
		arr := idx("arrival_time")
		dep := idx("departure_time")
		for _, row := range rec[1:] {
			trip := field(row, tID)
			stop := field(row, sID)
			if trip == "" || stop == "" {
				continue
			}
			seq, _ := strconv.Atoi(field(row, sq))
			depSecs := clockToSeconds(field(row, dep))
			arrSecs := clockToSeconds(field(row, arr))
			if arrSecs == 0 && depSecs > 0 {
				arrSecs = depSecs
			}
			if depSecs == 0 && arrSecs > 0 {
				depSecs = arrSecs
			}
			t.StopTimesByTrip[trip] = append(t.StopTimesByTrip[trip], StopTime{
				TripID:        trip,
				StopID:        stop,
				Sequence:      seq,
				ArrivalSecs:   arrSecs,
				DepartureSecs: depSecs,
			})
		}
	case "calendar.txt":
		svc := idx("service_id")
		start := idx("start_date")
		end := idx("end_date")
		days := make([]int, 7)
		for i, d := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
			days[i] = idx(d)
		}
		for _, row := range rec[1:] {
			id := field(row, svc)
			if id == "" {
				continue
			}
			cr := CalendarRow{
				ServiceID: id,
				StartDate: field(row, start),
				EndDate:   field(row, end),
			}
			for i := range cr.Weekdays {
				cr.Weekdays[i] = field(row, days[i]) == "1"
			}
			t.Calendar[id] = cr
		}
	case "calendar_dates.txt":
		svc := idx("service_id")
		date := idx("date")
		exc := idx("exception_type")
		for _, row := range rec[1:] {
			id := field(row, svc)
			day := field(row, date)
			typ := field(row, exc)
			if id == "" || day == "" || typ == "" {
				continue
			}
			t.CalendarDates[day] = append(t.CalendarDates[day], CalendarDate{
				ServiceID:     id,
				ExceptionType: typ,
			})
		}
	case "feed_info.txt":
		if len(rec) > 1 {
			for i, h := range head {
				if i < len(rec[1]) {
					t.FeedInfo[strings.ToLower(strings.TrimSpace(h))] = strings.TrimSpace(rec[1][i])
				}
			}
		}
	}
	return nil
}

// clockToSeconds parses HH:MM:SS into seconds past midnight. Hours past 24
// are kept as-is to represent next-day service.
func clockToSeconds(value string) int {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0
	}
	h, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	s, err3 := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return h*3600 + m*60 + s
}
