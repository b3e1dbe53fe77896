package watch

import (
	"sort"
	"strings"
	"time"

	"github.com/theoremus-urban-solutions/transit-boards/board"
	"github.com/theoremus-urban-solutions/transit-boards/gtfs"
	"github.com/theoremus-urban-solutions/transit-boards/gtfsrt"
)

// LocationResolver supplies live coordinates for nearby watches whose
// config names a location source instead of a fixed point. The host adapter
// implements it; a nil resolver makes such watches report
// location_unavailable.
type LocationResolver interface {
	Resolve(source string) (lat, lon float64, ok bool)
}

// Evaluator turns one watch definition into a board result against the
// current schedule index and realtime overlay.
type Evaluator struct {
	Index    *gtfs.ScheduleIndex
	Merger   *gtfsrt.Merger
	Location LocationResolver
}

// Evaluate dispatches on the watch type. A disabled watch yields an empty
// result with no error context. Failures are reported in the result, never
// as a panic or error that could break sibling watches.
func (e *Evaluator) Evaluate(d Definition, now time.Time) board.Result {
	res := board.Result{EvaluatedAt: now}
	if !d.Enabled {
		return res
	}
	if e.Index == nil {
		res.ErrorContext = board.ErrNoMatch
		return res
	}
	switch d.Type {
	case TypeDeparture:
		return e.evalDeparture(d.Departure, now)
	case TypeOD:
		return e.evalOD(d.OD, now)
	case TypeStationQuery:
		return e.evalStationQuery(d.StationQuery, now)
	case TypeNearby:
		return e.evalNearby(d.Nearby, now)
	}
	res.ErrorContext = board.ErrNoMatch
	return res
}

// bestMatches returns the stops sharing the best match rank for a query.
func bestMatches(idx *gtfs.ScheduleIndex, query string) []gtfs.Stop {
	matches := idx.MatchStops(query)
	if len(matches) == 0 {
		return nil
	}
	best := matches[0].Rank
	out := []gtfs.Stop{}
	for _, m := range matches {
		if m.Rank != best {
			break
		}
		out = append(out, m.Stop)
	}
	return out
}

type departureFilter struct {
	modes     map[string]struct{}
	routes    map[string]struct{} // line codes
	direction string
}

func newFilter(modes, routes []string, direction string) departureFilter {
	f := departureFilter{direction: direction}
	if len(modes) > 0 {
		f.modes = map[string]struct{}{}
		for _, m := range modes {
			f.modes[strings.ToLower(m)] = struct{}{}
		}
	}
	if len(routes) > 0 {
		f.routes = map[string]struct{}{}
		for _, r := range routes {
			f.routes[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
		}
	}
	return f
}

func (f departureFilter) admits(trip gtfs.Trip, route gtfs.Route) bool {
	if f.modes != nil {
		if _, ok := f.modes[route.Mode()]; !ok {
			return false
		}
	}
	if f.routes != nil {
		if _, ok := f.routes[strings.ToLower(route.LineCode())]; !ok {
			return false
		}
	}
	if f.direction != "" && f.direction != "All" {
		if trip.DirectionID != f.direction && !strings.EqualFold(trip.Headsign, f.direction) {
			return false
		}
	}
	return true
}

// serviceDays returns yesterday, today and tomorrow: overnight trips past
// 24:00 belong to the previous service day, and a window near midnight can
// reach into the next one.
func serviceDays(now time.Time) []time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return []time.Time{today.AddDate(0, 0, -1), today, today.AddDate(0, 0, 1)}
}

// stopDepartures assembles the raw records for one stop inside the window.
// The realtime-adjusted time is used for the window filter itself, so a
// delayed trip scheduled before now still shows while a trip predicted past
// the window does not.
func (e *Evaluator) stopDepartures(stop gtfs.Stop, f departureFilter, now time.Time, window time.Duration) []board.DepartureRecord {
	idx := e.Index
	end := now.Add(window)
	out := []board.DepartureRecord{}
	for _, day := range serviceDays(now) {
		active := idx.ActiveServices(day)
		for _, dep := range idx.DeparturesAtStop(stop.ID) {
			trip, ok := idx.Trip(dep.TripID)
			if !ok {
				continue
			}
			if _, ok := active[trip.ServiceID]; !ok {
				continue
			}
			route, _ := idx.Route(trip.RouteID)
			if !f.admits(trip, route) {
				continue
			}
			scheduled := day.Add(time.Duration(dep.DepartureSecs) * time.Second)
			rec := e.buildRecord(stop, trip, route, scheduled)
			eff := rec.EffectiveTime()
			if eff.Before(now) || eff.After(end) {
				continue
			}
			rec.MinutesUntil = board.MinutesUntil(eff, now)
			out = append(out, rec)
		}
	}
	return out
}

// buildRecord renders one departure, overlaying the realtime prediction
// when the merger has one for the trip's call (or the trip itself).
func (e *Evaluator) buildRecord(stop gtfs.Stop, trip gtfs.Trip, route gtfs.Route, scheduled time.Time) board.DepartureRecord {
	rec := board.DepartureRecord{
		StopID:    stop.ID,
		StopName:  stop.Name,
		RouteID:   route.ID,
		Route:     route.Label(),
		LineCode:  route.LineCode(),
		Mode:      route.Mode(),
		TripID:    trip.ID,
		Headsign:  trip.Headsign,
		Direction: trip.DirectionID,
		Scheduled: scheduled,
	}
	if e.Merger == nil {
		return rec
	}
	if d, ok := e.Merger.Resolve(trip.ID, stop.ID); ok {
		rec.Live = true
		if d.PredictedDeparture > 0 && d.StopID != "" {
			rec.Realtime = time.Unix(d.PredictedDeparture, 0).In(scheduled.Location())
		} else {
			rec.Realtime = scheduled.Add(time.Duration(d.DelaySeconds) * time.Second)
		}
		rec.DelayMinutes = int(rec.Realtime.Sub(scheduled) / time.Minute)
	}
	return rec
}

func (e *Evaluator) evalDeparture(cfg *DepartureConfig, now time.Time) board.Result {
	res := board.Result{EvaluatedAt: now}
	stops := bestMatches(e.Index, cfg.FromQuery)
	if len(stops) == 0 {
		res.ErrorContext = board.ErrNoMatch
		return res
	}
	f := newFilter(cfg.Modes, cfg.Routes, cfg.Direction)
	window := time.Duration(cfg.WindowMinutes) * time.Minute
	records := []board.DepartureRecord{}
	for _, stop := range stops {
		records = append(records, e.stopDepartures(stop, f, now, window)...)
	}
	res.Departures, res.TotalBeforeTruncation, res.Truncated = board.Process(records, cfg.Limit)
	return res
}

func (e *Evaluator) evalOD(cfg *ODConfig, now time.Time) board.Result {
	res := board.Result{EvaluatedAt: now}
	fromStops := bestMatches(e.Index, cfg.FromQuery)
	toStops := bestMatches(e.Index, cfg.ToQuery)
	if len(fromStops) == 0 || len(toStops) == 0 {
		res.ErrorContext = board.ErrNoMatch
		return res
	}
	toSet := map[string]struct{}{}
	for _, s := range toStops {
		toSet[s.ID] = struct{}{}
	}
	f := newFilter(cfg.Modes, cfg.Routes, cfg.Direction)
	window := time.Duration(cfg.WindowMinutes) * time.Minute
	end := now.Add(window)

	records := []board.DepartureRecord{}
	for _, day := range serviceDays(now) {
		active := e.Index.ActiveServices(day)
		for _, from := range fromStops {
			for _, dep := range e.Index.DeparturesAtStop(from.ID) {
				trip, ok := e.Index.Trip(dep.TripID)
				if !ok {
					continue
				}
				if _, ok := active[trip.ServiceID]; !ok {
					continue
				}
				route, _ := e.Index.Route(trip.RouteID)
				if !f.admits(trip, route) {
					continue
				}
				arr, ok := arrivalAfter(e.Index.StopSequence(trip.ID), from.ID, toSet)
				if !ok {
					continue
				}
				scheduled := day.Add(time.Duration(dep.DepartureSecs) * time.Second)
				rec := e.buildRecord(from, trip, route, scheduled)
				eff := rec.EffectiveTime()
				if eff.Before(now) || eff.After(end) {
					continue
				}
				rec.MinutesUntil = board.MinutesUntil(eff, now)
				arrStop, _ := e.Index.Stop(arr.StopID)
				rec.ArrivalStopID = arr.StopID
				rec.ArrivalStopName = arrStop.Name
				rec.ArrivalScheduled = day.Add(time.Duration(arr.ArrivalSecs) * time.Second)
				if e.Merger != nil {
					if d, ok := e.Merger.Resolve(trip.ID, arr.StopID); ok {
						if d.PredictedArrival > 0 && d.StopID != "" {
							rec.ArrivalRealtime = time.Unix(d.PredictedArrival, 0).In(scheduled.Location())
						} else {
							rec.ArrivalRealtime = rec.ArrivalScheduled.Add(time.Duration(d.DelaySeconds) * time.Second)
						}
					}
				}
				records = append(records, rec)
			}
		}
	}
	res.Departures, res.TotalBeforeTruncation, res.Truncated = board.Process(records, cfg.Limit)
	return res
}

// arrivalAfter finds the first call at a destination stop strictly after
// the origin in the trip's sequence.
func arrivalAfter(seq []gtfs.StopTime, fromID string, toSet map[string]struct{}) (gtfs.StopTime, bool) {
	fromIdx := -1
	for i, st := range seq {
		if st.StopID == fromID {
			fromIdx = i
			break
		}
	}
	if fromIdx < 0 {
		return gtfs.StopTime{}, false
	}
	for _, st := range seq[fromIdx+1:] {
		if _, ok := toSet[st.StopID]; ok {
			return st, true
		}
	}
	return gtfs.StopTime{}, false
}

func (e *Evaluator) evalStationQuery(cfg *StationQueryConfig, now time.Time) board.Result {
	res := board.Result{EvaluatedAt: now}
	f := newFilter(cfg.Modes, cfg.Routes, cfg.Direction)
	window := time.Duration(cfg.WindowMinutes) * time.Minute

	matched := []gtfs.Stop{}
	seen := map[string]struct{}{}
	for _, q := range cfg.Queries {
		for _, s := range bestMatches(e.Index, strings.TrimSpace(q)) {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		res.ErrorContext = board.ErrNoMatch
		return res
	}
	res.StopsTotal = len(matched)
	if len(matched) > cfg.MaxStops {
		matched = matched[:cfg.MaxStops]
		res.Truncated = true
	}

	all := []board.DepartureRecord{}
	for _, stop := range matched {
		records := e.stopDepartures(stop, f, now, window)
		deps, total, truncated := board.Process(records, cfg.LimitPerStop)
		res.Stops = append(res.Stops, board.StopBoard{
			StopID:          stop.ID,
			StopName:        stop.Name,
			Departures:      deps,
			DeparturesTotal: total,
			Truncated:       truncated,
		})
		res.TotalBeforeTruncation += total
		res.Truncated = res.Truncated || truncated
		all = append(all, deps...)
	}
	res.Lines = summarizeLines(all)
	return res
}

// summarizeLines aggregates records into one row per line and direction,
// ordered by next departure.
func summarizeLines(records []board.DepartureRecord) []board.LineSummary {
	type lineKey struct{ line, direction string }
	agg := map[lineKey]*board.LineSummary{}
	for _, r := range records {
		dir := r.Headsign
		if dir == "" {
			dir = r.Direction
		}
		k := lineKey{line: r.LineCode, direction: dir}
		s, ok := agg[k]
		if !ok {
			agg[k] = &board.LineSummary{
				LineCode:  r.LineCode,
				Mode:      r.Mode,
				Direction: dir,
				Next:      r.EffectiveTime(),
				Count:     1,
			}
			continue
		}
		s.Count++
		if r.EffectiveTime().Before(s.Next) {
			s.Next = r.EffectiveTime()
		}
	}
	out := make([]board.LineSummary, 0, len(agg))
	for _, s := range agg {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Next.Equal(out[j].Next) {
			return out[i].Next.Before(out[j].Next)
		}
		if out[i].LineCode != out[j].LineCode {
			return out[i].LineCode < out[j].LineCode
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

func (e *Evaluator) evalNearby(cfg *NearbyConfig, now time.Time) board.Result {
	res := board.Result{EvaluatedAt: now}
	lat, lon := cfg.Lat, cfg.Lon
	if cfg.LocationSource != "" {
		if e.Location == nil {
			res.ErrorContext = board.ErrLocationUnavailable
			return res
		}
		var ok bool
		lat, lon, ok = e.Location.Resolve(cfg.LocationSource)
		if !ok {
			res.ErrorContext = board.ErrLocationUnavailable
			return res
		}
	}

	near := e.Index.StopsNear(lat, lon, cfg.RadiusMeters)
	if len(near) == 0 {
		res.ErrorContext = board.ErrNoMatch
		return res
	}
	res.StopsTotal = len(near)
	if len(near) > cfg.MaxStops {
		near = near[:cfg.MaxStops]
		res.Truncated = true
	}

	f := newFilter(cfg.Modes, nil, "")
	window := time.Duration(cfg.WindowMinutes) * time.Minute
	for _, sd := range near {
		records := e.stopDepartures(sd.Stop, f, now, window)
		for i := range records {
			records[i].DistanceMeters = sd.Meters
		}
		deps, total, truncated := board.Process(records, cfg.LimitPerStop)
		res.Stops = append(res.Stops, board.StopBoard{
			StopID:          sd.Stop.ID,
			StopName:        sd.Stop.Name,
			DistanceMeters:  sd.Meters,
			Departures:      deps,
			DeparturesTotal: total,
			Truncated:       truncated,
		})
		res.TotalBeforeTruncation += total
		res.Truncated = res.Truncated || truncated
	}
	return res
}
