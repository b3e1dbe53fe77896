package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// Client downloads and normalizes one trip-update feed.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{url: url, client: &http.Client{Timeout: timeout}}
}

// Fetch downloads the feed and flattens it into TripDelay records. The
// returned time is the feed header timestamp (now when the header omits it).
func (c *Client) Fetch(ctx context.Context) ([]TripDelay, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, fmt.Errorf("realtime feed fetch: status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, time.Time{}, err
	}
	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, time.Time{}, err
	}
	return Normalize(&fm, time.Now()), headerTime(&fm), nil
}

func headerTime(fm *gtfsrtpb.FeedMessage) time.Time {
	if fm.Header != nil && fm.Header.Timestamp != nil && *fm.Header.Timestamp > 0 {
		return time.Unix(int64(*fm.Header.Timestamp), 0)
	}
	return time.Now()
}

// Normalize flattens a FeedMessage into per-stop TripDelay records plus one
// trip-level fallback per trip, taken from the first stop_time_update that
// carries a delay.
func Normalize(fm *gtfsrtpb.FeedMessage, now time.Time) []TripDelay {
	out := []TripDelay{}
	for _, ent := range fm.Entity {
		tu := ent.GetTripUpdate()
		if tu == nil || tu.GetTrip() == nil {
			continue
		}
		tripID := tu.GetTrip().GetTripId()
		if tripID == "" {
			continue
		}
		routeID := tu.GetTrip().GetRouteId()
		ingested := now
		if ts := tu.GetTimestamp(); ts > 0 {
			ingested = time.Unix(int64(ts), 0)
		}

		tripLevelSet := false
		for _, stu := range tu.GetStopTimeUpdate() {
			rec := TripDelay{
				TripID:     tripID,
				StopID:     stu.GetStopId(),
				RouteID:    routeID,
				IngestedAt: ingested,
			}
			switch {
			case stu.GetDeparture() != nil:
				rec.DelaySeconds = int(stu.GetDeparture().GetDelay())
				rec.PredictedDeparture = stu.GetDeparture().GetTime()
				if stu.GetArrival() != nil {
					rec.PredictedArrival = stu.GetArrival().GetTime()
				}
			case stu.GetArrival() != nil:
				rec.DelaySeconds = int(stu.GetArrival().GetDelay())
				rec.PredictedArrival = stu.GetArrival().GetTime()
			default:
				continue
			}
			if rec.StopID != "" {
				out = append(out, rec)
			}
			if !tripLevelSet {
				fallback := rec
				fallback.StopID = ""
				fallback.PredictedArrival = 0
				fallback.PredictedDeparture = 0
				out = append(out, fallback)
				tripLevelSet = true
			}
		}
	}
	return out
}
