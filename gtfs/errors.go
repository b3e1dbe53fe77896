package gtfs

import "fmt"

// FeedCorruptError marks a downloaded static bundle that does not parse into
// a non-empty, internally consistent table set. A corrupt download is never
// cached; the previously active feed stays in use.
type FeedCorruptError struct {
	Reason string
}

func (e *FeedCorruptError) Error() string {
	return "corrupt static feed: " + e.Reason
}

// ScheduleIndexError marks an irrecoverable inconsistency found while
// building the schedule index. It fails that refresh attempt only.
type ScheduleIndexError struct {
	Reason string
}

func (e *ScheduleIndexError) Error() string {
	return "schedule index: " + e.Reason
}

// FetchError wraps a network-level failure talking to the static feed source.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
