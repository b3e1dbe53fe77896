package gtfs

import "strings"

// Stop is one row of stops.txt.
type Stop struct {
	ID            string
	Name          string
	Lat           float64
	Lon           float64
	ParentStation string
}

// Label returns the display form "Name [stop_id]" used throughout boards.
func (s Stop) Label() string {
	return s.Name + " [" + s.ID + "]"
}

// Route is one row of routes.txt.
type Route struct {
	ID        string
	ShortName string
	LongName  string
	Type      int
}

// Label combines the short and long name the way rider-facing boards do.
func (r Route) Label() string {
	switch {
	case r.ShortName != "" && r.LongName != "":
		return r.ShortName + " - " + r.LongName
	case r.ShortName != "":
		return r.ShortName
	case r.LongName != "":
		return r.LongName
	}
	return r.ID
}

// Mode maps route_type onto the coarse vehicle families boards filter by.
// Covers standard GTFS codes plus the extended TPEG/HVT families many EU
// feeds publish.
func (r Route) Mode() string {
	t := r.Type
	if t == 0 || (900 <= t && t <= 906) {
		return "tram"
	}
	if t == 3 || t == 11 || (700 <= t && t <= 716) || t == 800 {
		return "bus"
	}
	return "other"
}

// LineCode returns the rider-facing line number. Feeds sometimes pack extra
// text into route_short_name; the leading digit run wins when present.
func (r Route) LineCode() string {
	short := strings.TrimSpace(r.ShortName)
	if short == "" {
		return r.ID
	}
	for i, c := range short {
		if c < '0' || c > '9' {
			if i > 0 {
				return short[:i]
			}
			break
		}
	}
	return short
}

// Trip is one row of trips.txt.
type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	Headsign    string
	DirectionID string
}

// StopTime is one scheduled call of a trip at a stop. Times are seconds past
// midnight of the service day and may exceed 24h for next-day service.
type StopTime struct {
	TripID        string
	StopID        string
	Sequence      int
	ArrivalSecs   int
	DepartureSecs int
}
