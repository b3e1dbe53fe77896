package watch

import "time"

// Watch types.
const (
	TypeOD           = "od"
	TypeDeparture    = "departure"
	TypeStationQuery = "station_query"
	TypeNearby       = "nearby"
)

// Bounds applied by Normalize. Out-of-range values are clamped, not
// rejected.
const (
	MinWindowMinutes = 5
	MaxWindowMinutes = 180
	MinLimit         = 1
	MaxLimit         = 40
	MinStops         = 2
	MaxStops         = 40
	MinRadiusMeters  = 20
	MaxRadiusMeters  = 500
)

// Definition is one saved watch. Exactly one of the per-type config
// pointers is set, matching Type.
type Definition struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OD           *ODConfig           `json:"od,omitempty"`
	Departure    *DepartureConfig    `json:"departure,omitempty"`
	StationQuery *StationQueryConfig `json:"station_query,omitempty"`
	Nearby       *NearbyConfig       `json:"nearby,omitempty"`
}

// ODConfig describes an origin-destination board.
type ODConfig struct {
	FromQuery     string   `json:"from_query"`
	ToQuery       string   `json:"to_query"`
	WindowMinutes int      `json:"window_minutes"`
	Limit         int      `json:"limit"`
	Modes         []string `json:"modes,omitempty"`
	Routes        []string `json:"routes,omitempty"` // line codes
	Direction     string   `json:"direction,omitempty"`
}

// DepartureConfig describes a single-stop departure board.
type DepartureConfig struct {
	FromQuery     string   `json:"from_query"`
	WindowMinutes int      `json:"window_minutes"`
	Limit         int      `json:"limit"`
	Modes         []string `json:"modes,omitempty"`
	Routes        []string `json:"routes,omitempty"` // line codes
	Direction     string   `json:"direction,omitempty"`
}

// StationQueryConfig describes a multi-stop grouped board.
type StationQueryConfig struct {
	Queries       []string `json:"queries"`
	WindowMinutes int      `json:"window_minutes"`
	LimitPerStop  int      `json:"limit_per_stop"`
	MaxStops      int      `json:"max_stops"`
	Modes         []string `json:"modes,omitempty"`
	Routes        []string `json:"routes,omitempty"` // line codes
	Direction     string   `json:"direction,omitempty"`
}

// NearbyConfig describes a proximity board. When LocationSource is set the
// coordinate comes from the host's LocationResolver instead of Lat/Lon.
type NearbyConfig struct {
	Lat            float64  `json:"lat,omitempty"`
	Lon            float64  `json:"lon,omitempty"`
	LocationSource string   `json:"location_source,omitempty"`
	RadiusMeters   float64  `json:"radius_m"`
	WindowMinutes  int      `json:"window_minutes"`
	LimitPerStop   int      `json:"limit_per_stop"`
	MaxStops       int      `json:"max_stops"`
	Modes          []string `json:"modes,omitempty"`
}

func clampInt(v, lo, hi, def int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi, def float64) float64 {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize clamps numeric config fields into their bounds, filling unset
// fields with defaults. defaultWindow comes from the service config.
func (d *Definition) Normalize(defaultWindow int) {
	switch d.Type {
	case TypeOD:
		if d.OD == nil {
			d.OD = &ODConfig{}
		}
		d.OD.WindowMinutes = clampInt(d.OD.WindowMinutes, MinWindowMinutes, MaxWindowMinutes, defaultWindow)
		d.OD.Limit = clampInt(d.OD.Limit, MinLimit, MaxLimit, 10)
	case TypeDeparture:
		if d.Departure == nil {
			d.Departure = &DepartureConfig{}
		}
		d.Departure.WindowMinutes = clampInt(d.Departure.WindowMinutes, MinWindowMinutes, MaxWindowMinutes, defaultWindow)
		d.Departure.Limit = clampInt(d.Departure.Limit, MinLimit, MaxLimit, 10)
	case TypeStationQuery:
		if d.StationQuery == nil {
			d.StationQuery = &StationQueryConfig{}
		}
		d.StationQuery.WindowMinutes = clampInt(d.StationQuery.WindowMinutes, MinWindowMinutes, MaxWindowMinutes, defaultWindow)
		d.StationQuery.LimitPerStop = clampInt(d.StationQuery.LimitPerStop, MinLimit, MaxLimit, 5)
		d.StationQuery.MaxStops = clampInt(d.StationQuery.MaxStops, MinStops, MaxStops, 5)
	case TypeNearby:
		if d.Nearby == nil {
			d.Nearby = &NearbyConfig{}
		}
		d.Nearby.RadiusMeters = clampFloat(d.Nearby.RadiusMeters, MinRadiusMeters, MaxRadiusMeters, 300)
		d.Nearby.WindowMinutes = clampInt(d.Nearby.WindowMinutes, MinWindowMinutes, MaxWindowMinutes, defaultWindow)
		d.Nearby.LimitPerStop = clampInt(d.Nearby.LimitPerStop, MinLimit, MaxLimit, 3)
		d.Nearby.MaxStops = clampInt(d.Nearby.MaxStops, MinStops, MaxStops, 5)
	}
}

// Clone returns a deep copy.
func (d Definition) Clone() Definition {
	out := d
	if d.OD != nil {
		c := *d.OD
		c.Modes = append([]string(nil), d.OD.Modes...)
		c.Routes = append([]string(nil), d.OD.Routes...)
		out.OD = &c
	}
	if d.Departure != nil {
		c := *d.Departure
		c.Modes = append([]string(nil), d.Departure.Modes...)
		c.Routes = append([]string(nil), d.Departure.Routes...)
		out.Departure = &c
	}
	if d.StationQuery != nil {
		c := *d.StationQuery
		c.Queries = append([]string(nil), d.StationQuery.Queries...)
		c.Modes = append([]string(nil), d.StationQuery.Modes...)
		c.Routes = append([]string(nil), d.StationQuery.Routes...)
		out.StationQuery = &c
	}
	if d.Nearby != nil {
		c := *d.Nearby
		c.Modes = append([]string(nil), d.Nearby.Modes...)
		out.Nearby = &c
	}
	return out
}
