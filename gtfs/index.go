package gtfs

import (
	"math"
	"sort"
	"strings"
	"sync"
)

// ScheduleIndex stores one static feed snapshot in memory for fast lookups.
// It is built once per feed version and never mutated afterwards; all
// lookups are safe for concurrent use.
type ScheduleIndex struct {
	stops           map[string]Stop
	routes          map[string]Route
	trips           map[string]Trip
	stopTimesByTrip map[string][]StopTime
	tripsByRoute    map[string][]string
	departuresBy    map[string][]StopDeparture
	labelToStop     map[string]string
	calendar        map[string]CalendarRow
	calendarDates   map[string][]CalendarDate
	feedInfo        map[string]string

	svcMu    sync.Mutex
	svcCache map[string]map[string]struct{}
}

// StopDeparture is one scheduled departure at a stop, ordered by time.
type StopDeparture struct {
	TripID        string
	DepartureSecs int
}

// StopMatch is one ranked result of a stop name query.
type StopMatch struct {
	Stop Stop
	Rank int // 0 exact, 1 prefix, 2 substring
}

// StopDistance pairs a stop with its distance from a query coordinate.
type StopDistance struct {
	Stop   Stop
	Meters float64
}

// BuildIndex parses and validates a static bundle and builds the index.
func BuildIndex(payload []byte) (*ScheduleIndex, error) {
	tables, err := ParseTables(payload)
	if err != nil {
		return nil, err
	}
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	return NewIndex(tables)
}

// NewIndex builds a ScheduleIndex from already parsed tables.
func NewIndex(t *Tables) (*ScheduleIndex, error) {
	x := &ScheduleIndex{
		stops:           t.Stops,
		routes:          t.Routes,
		trips:           t.Trips,
		stopTimesByTrip: t.StopTimesByTrip,
		tripsByRoute:    map[string][]string{},
		departuresBy:    map[string][]StopDeparture{},
		labelToStop:     map[string]string{},
		calendar:        t.Calendar,
		calendarDates:   t.CalendarDates,
		feedInfo:        t.FeedInfo,
		svcCache:        map[string]map[string]struct{}{},
	}

	for id, trip := range t.Trips {
		x.tripsByRoute[trip.RouteID] = append(x.tripsByRoute[trip.RouteID], id)
	}
	for _, ids := range x.tripsByRoute {
		sort.Strings(ids)
	}
	for tripID, sts := range t.StopTimesByTrip {
		if _, ok := t.Trips[tripID]; !ok {
			return nil, &ScheduleIndexError{Reason: "stop_times for unknown trip " + tripID}
		}
		for _, st := range sts {
			x.departuresBy[st.StopID] = append(x.departuresBy[st.StopID], StopDeparture{
				TripID:        tripID,
				DepartureSecs: st.DepartureSecs,
			})
		}
	}
	for stopID, deps := range x.departuresBy {
		sort.Slice(deps, func(i, j int) bool {
			if deps[i].DepartureSecs != deps[j].DepartureSecs {
				return deps[i].DepartureSecs < deps[j].DepartureSecs
			}
			return deps[i].TripID < deps[j].TripID
		})
		x.departuresBy[stopID] = deps
	}
	for _, s := range t.Stops {
		x.labelToStop[s.Label()] = s.ID
	}
	return x, nil
}

// Accessors

func (x *ScheduleIndex) Stop(stopID string) (Stop, bool) {
	s, ok := x.stops[stopID]
	return s, ok
}

func (x *ScheduleIndex) Route(routeID string) (Route, bool) {
	r, ok := x.routes[routeID]
	return r, ok
}

func (x *ScheduleIndex) Trip(tripID string) (Trip, bool) {
	t, ok := x.trips[tripID]
	return t, ok
}

func (x *ScheduleIndex) StopCount() int  { return len(x.stops) }
func (x *ScheduleIndex) RouteCount() int { return len(x.routes) }
func (x *ScheduleIndex) TripCount() int  { return len(x.trips) }

// FeedInfoField returns a column of the feed_info.txt row, or "".
func (x *ScheduleIndex) FeedInfoField(name string) string { return x.feedInfo[name] }

// StopSequence returns the ordered scheduled calls of a trip.
func (x *ScheduleIndex) StopSequence(tripID string) []StopTime {
	return x.stopTimesByTrip[tripID]
}

// DeparturesAtStop returns all scheduled departures at a stop ordered by
// seconds past midnight of the service day.
func (x *ScheduleIndex) DeparturesAtStop(stopID string) []StopDeparture {
	return x.departuresBy[stopID]
}

// TripsByRoute returns the trip ids of one route in stable order.
func (x *ScheduleIndex) TripsByRoute(routeID string) []string {
	return x.tripsByRoute[routeID]
}

// TripIDs returns all trip ids in stable order.
func (x *ScheduleIndex) TripIDs() []string {
	ids := make([]string, 0, len(x.trips))
	for id := range x.trips {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TripsAtStop returns the trips that call at a stop, optionally filtered by
// direction. Direction matches either direction_id ("0"/"1") or the trip
// headsign, case-insensitively.
func (x *ScheduleIndex) TripsAtStop(stopID, direction string) []Trip {
	deps := x.departuresBy[stopID]
	seen := map[string]struct{}{}
	out := make([]Trip, 0, len(deps))
	for _, d := range deps {
		if _, ok := seen[d.TripID]; ok {
			continue
		}
		seen[d.TripID] = struct{}{}
		trip, ok := x.trips[d.TripID]
		if !ok {
			continue
		}
		if direction != "" && direction != "All" {
			if trip.DirectionID != direction && !strings.EqualFold(trip.Headsign, direction) {
				continue
			}
		}
		out = append(out, trip)
	}
	return out
}

// MatchStops resolves free-form query text to stops. Matching is case- and
// diacritic-insensitive and ranked exact > prefix > substring. The query may
// also be a full "Name [stop_id]" label or carry an explicit id suffix.
func (x *ScheduleIndex) MatchStops(query string) []StopMatch {
	raw := strings.TrimSpace(query)
	if raw == "" {
		return nil
	}

	out := []StopMatch{}
	seen := map[string]struct{}{}
	add := func(s Stop, rank int) {
		if _, ok := seen[s.ID]; ok {
			return
		}
		seen[s.ID] = struct{}{}
		out = append(out, StopMatch{Stop: s, Rank: rank})
	}

	// A full label or an explicit "[stop_id]" suffix pins exactly one stop.
	if id, ok := x.labelToStop[raw]; ok {
		return []StopMatch{{Stop: x.stops[id], Rank: 0}}
	}
	if i := strings.LastIndex(raw, "["); i >= 0 && strings.HasSuffix(raw, "]") {
		id := strings.TrimSpace(raw[i+1 : len(raw)-1])
		if s, ok := x.stops[id]; ok {
			return []StopMatch{{Stop: s, Rank: 0}}
		}
		raw = strings.TrimSpace(raw[:i])
	}
	if s, ok := x.stops[raw]; ok {
		add(s, 0)
	}

	q := foldName(raw)
	if q != "" {
		for _, s := range x.stops {
			name := foldName(s.Name)
			switch {
			case name == q:
				add(s, 0)
			case strings.HasPrefix(name, q):
				add(s, 1)
			case strings.Contains(name, q):
				add(s, 2)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		if out[i].Stop.Name != out[j].Stop.Name {
			return out[i].Stop.Name < out[j].Stop.Name
		}
		return out[i].Stop.ID < out[j].Stop.ID
	})
	return out
}

// StopsNear returns stops within radius meters of a coordinate, nearest
// first.
func (x *ScheduleIndex) StopsNear(lat, lon, radiusMeters float64) []StopDistance {
	out := []StopDistance{}
	for _, s := range x.stops {
		if s.Lat == 0 && s.Lon == 0 {
			continue
		}
		d := HaversineMeters(lat, lon, s.Lat, s.Lon)
		if d <= radiusMeters {
			out = append(out, StopDistance{Stop: s, Meters: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Meters != out[j].Meters {
			return out[i].Meters < out[j].Meters
		}
		return out[i].Stop.ID < out[j].Stop.ID
	})
	return out
}

// HaversineMeters returns the great-circle distance between two coordinates.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371000.0
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * r * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// foldName lowercases and strips the diacritics common in the region's stop
// names so "Trešnjevka" matches "tresnjevka".
func foldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case 'č', 'ć':
			return 'c'
		case 'đ':
			return 'd'
		case 'š':
			return 's'
		case 'ž':
			return 'z'
		case 'á', 'à', 'â', 'ä', 'ã', 'å':
			return 'a'
		case 'é', 'è', 'ê', 'ë':
			return 'e'
		case 'í', 'ì', 'î', 'ï':
			return 'i'
		case 'ó', 'ò', 'ô', 'ö', 'õ':
			return 'o'
		case 'ú', 'ù', 'û', 'ü':
			return 'u'
		case 'ý':
			return 'y'
		case 'ñ':
			return 'n'
		}
		return r
	}, s)
}
