package gtfs

import (
	"sort"
	"time"
)

// CalendarRow is one row of calendar.txt. Weekdays is indexed Monday..Sunday.
type CalendarRow struct {
	ServiceID string
	StartDate string // YYYYMMDD
	EndDate   string // YYYYMMDD
	Weekdays  [7]bool
}

// CalendarDate is one exception row of calendar_dates.txt.
// ExceptionType "1" adds the service on that date, "2" removes it.
type CalendarDate struct {
	ServiceID     string
	ExceptionType string
}

func yyyymmddToDate(value string) (time.Time, bool) {
	if len(value) != 8 {
		return time.Time{}, false
	}
	d, err := time.Parse("20060102", value)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// ActiveServices returns the service ids operating on the given day,
// combining calendar.txt weekday ranges with calendar_dates.txt exceptions.
// Results are memoized per day, with the memo bounded to recent days.
func (x *ScheduleIndex) ActiveServices(day time.Time) map[string]struct{} {
	key := day.Format("20060102")

	x.svcMu.Lock()
	if cached, ok := x.svcCache[key]; ok {
		x.svcMu.Unlock()
		out := make(map[string]struct{}, len(cached))
		for id := range cached {
			out[id] = struct{}{}
		}
		return out
	}
	x.svcMu.Unlock()

	services := map[string]struct{}{}
	weekday := (int(day.Weekday()) + 6) % 7 // Monday = 0
	for id, row := range x.calendar {
		if start, ok := yyyymmddToDate(row.StartDate); ok && day.Before(start) {
			continue
		}
		if end, ok := yyyymmddToDate(row.EndDate); ok && day.After(end) {
			continue
		}
		if row.Weekdays[weekday] {
			services[id] = struct{}{}
		}
	}
	for _, exc := range x.calendarDates[key] {
		switch exc.ExceptionType {
		case "1":
			services[exc.ServiceID] = struct{}{}
		case "2":
			delete(services, exc.ServiceID)
		}
	}

	x.svcMu.Lock()
	x.svcCache[key] = services
	if len(x.svcCache) > 8 {
		keys := make([]string, 0, len(x.svcCache))
		for k := range x.svcCache {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys[:len(keys)-8] {
			delete(x.svcCache, k)
		}
	}
	x.svcMu.Unlock()

	out := make(map[string]struct{}, len(services))
	for id := range services {
		out[id] = struct{}{}
	}
	return out
}
