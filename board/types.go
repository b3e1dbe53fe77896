package board

import "time"

// Error contexts attached to a Result instead of a hard failure.
const (
	ErrNoMatch             = "no_match"
	ErrLocationUnavailable = "location_unavailable"
)

// DepartureRecord is one rendered departure. For origin-destination boards
// the Arrival* fields describe the second leg at the destination stop.
type DepartureRecord struct {
	StopID    string `json:"stop_id"`
	StopName  string `json:"stop_name"`
	RouteID   string `json:"route_id"`
	Route     string `json:"route"` // "short - long" label
	LineCode  string `json:"line"`
	Mode      string `json:"mode"` // tram | bus | other
	TripID    string `json:"trip_id"`
	Headsign  string `json:"headsign,omitempty"`
	Direction string `json:"direction,omitempty"`

	Scheduled    time.Time `json:"scheduled"`
	Realtime     time.Time `json:"realtime,omitempty"` // zero when no prediction
	DelayMinutes int       `json:"delay_minutes"`
	Live         bool      `json:"live"` // realtime-confirmed
	MinutesUntil int       `json:"minutes_until"`

	ArrivalStopID    string    `json:"arrival_stop_id,omitempty"`
	ArrivalStopName  string    `json:"arrival_stop_name,omitempty"`
	ArrivalScheduled time.Time `json:"arrival_scheduled,omitempty"`
	ArrivalRealtime  time.Time `json:"arrival_realtime,omitempty"`

	DistanceMeters float64 `json:"distance_m,omitempty"`
}

// EffectiveTime is the instant used for window filtering, ordering and
// dedup: the realtime prediction when present, else the schedule.
func (r DepartureRecord) EffectiveTime() time.Time {
	if !r.Realtime.IsZero() {
		return r.Realtime
	}
	return r.Scheduled
}

// StopBoard is one stop's slice of a grouped result.
type StopBoard struct {
	StopID          string            `json:"stop_id"`
	StopName        string            `json:"stop_name"`
	DistanceMeters  float64           `json:"distance_m,omitempty"`
	Departures      []DepartureRecord `json:"departures"`
	DeparturesTotal int               `json:"departures_total"`
	Truncated       bool              `json:"truncated"`
}

// LineSummary is one line+direction aggregate row of a station query.
type LineSummary struct {
	LineCode  string    `json:"line"`
	Mode      string    `json:"mode"`
	Direction string    `json:"direction"`
	Next      time.Time `json:"next"`
	Count     int       `json:"count"`
}

// Result is the outcome of evaluating one watch.
type Result struct {
	Departures            []DepartureRecord `json:"departures,omitempty"`
	Stops                 []StopBoard       `json:"stops,omitempty"`
	Lines                 []LineSummary     `json:"lines,omitempty"`
	TotalBeforeTruncation int               `json:"total_before_truncation"`
	Truncated             bool              `json:"truncated"`
	StopsTotal            int               `json:"stops_total,omitempty"`
	EvaluatedAt           time.Time         `json:"evaluated_at"`
	ErrorContext          string            `json:"error,omitempty"`
}
