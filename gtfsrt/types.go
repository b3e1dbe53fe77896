package gtfsrt

import "time"

// TripDelay is one normalized realtime prediction. StopID is empty for the
// trip-level fallback record derived from the first stop_time_update that
// carries a delay.
type TripDelay struct {
	TripID             string
	StopID             string
	RouteID            string
	DelaySeconds       int
	PredictedArrival   int64 // unix seconds, 0 when absent
	PredictedDeparture int64
	IngestedAt         time.Time
}

// Realtime overlay states reported by Status.
const (
	StatusLive        = "live"
	StatusStale       = "stale"
	StatusUnavailable = "unavailable"
)
