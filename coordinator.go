package transitboards

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/theoremus-urban-solutions/transit-boards/board"
	"github.com/theoremus-urban-solutions/transit-boards/config"
	"github.com/theoremus-urban-solutions/transit-boards/gtfs"
	"github.com/theoremus-urban-solutions/transit-boards/gtfsrt"
	"github.com/theoremus-urban-solutions/transit-boards/watch"
)

// maxBackoffMultiplier caps the exponential backoff applied to failing
// refresh loops.
const maxBackoffMultiplier = 8

type activeFeed struct {
	index   *gtfs.ScheduleIndex
	version gtfs.FeedVersion
}

// Coordinator wires the store, realtime overlay and watch registry together
// and drives the three periodic loops: static refresh, realtime refresh and
// watch evaluation. Each loop has its own goroutine, so a slow static
// download never stalls realtime or evaluation.
type Coordinator struct {
	cfg      config.AppConfig
	store    *gtfs.Store
	rtClient *gtfsrt.Client
	merger   *gtfsrt.Merger
	registry *watch.Registry
	notifier Notifier
	location watch.LocationResolver

	active atomic.Pointer[activeFeed]

	resMu   sync.RWMutex
	results map[string]board.Result

	noteMu sync.Mutex
	raised map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator builds a coordinator from loaded config and an opened
// registry. notifier and location may be nil.
func NewCoordinator(cfg config.AppConfig, store *gtfs.Store, registry *watch.Registry, notifier Notifier, location watch.LocationResolver) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		store:    store,
		registry: registry,
		notifier: notifier,
		location: location,
		rtClient: gtfsrt.NewClient(cfg.Realtime.FeedURL, time.Duration(cfg.Realtime.TimeoutMS)*time.Millisecond),
		merger: gtfsrt.NewMerger(
			time.Duration(cfg.Realtime.IntervalSeconds)*time.Second,
			time.Duration(cfg.Realtime.StaleAfterSeconds)*time.Second),
		results: map[string]board.Result{},
		raised:  map[string]bool{},
	}
	registry.Subscribe(func(ev watch.Event) {
		if ev.Kind == watch.EventRemoved {
			c.resMu.Lock()
			delete(c.results, ev.Watch.ID)
			c.resMu.Unlock()
		}
	})
	return c
}

// Merger exposes the realtime overlay for status surfaces.
func (c *Coordinator) Merger() *gtfsrt.Merger { return c.merger }

// Index returns the active schedule index, nil before the first successful
// static load.
func (c *Coordinator) Index() *gtfs.ScheduleIndex {
	if f := c.active.Load(); f != nil {
		return f.index
	}
	return nil
}

// ActiveVersion returns the active feed metadata.
func (c *Coordinator) ActiveVersion() (gtfs.FeedVersion, bool) {
	if f := c.active.Load(); f != nil {
		return f.version, true
	}
	return gtfs.FeedVersion{}, false
}

// RefreshStatic checks upstream, rebuilds the index when the active version
// changed, and prunes the cache to the retention bound.
func (c *Coordinator) RefreshStatic(ctx context.Context) error {
	today := time.Now()
	ver, changed, err := c.store.EnsureCurrent(ctx, today)
	if err != nil {
		log.Printf("static refresh: %v", err)
	}
	if ver.Source == gtfs.SourceNone {
		c.raise(NotifyNoValidFeed, "no cached static feed is valid for today")
		return err
	}
	c.dismiss(NotifyNoValidFeed)
	if !changed && c.active.Load() != nil {
		return err
	}
	payload, lerr := c.store.LoadPayload(ver.Version)
	if lerr != nil {
		return lerr
	}
	idx, berr := gtfs.BuildIndex(payload)
	if berr != nil {
		log.Printf("static refresh: rejecting cached version %s: %v", ver.Version, berr)
		return berr
	}
	c.active.Store(&activeFeed{index: idx, version: ver})
	log.Printf("static feed active: version=%s source=%s validity=%s stops=%d trips=%d",
		ver.Version, ver.Source, ver.ValidRange(), idx.StopCount(), idx.TripCount())
	if removed, perr := c.store.Prune(c.cfg.Static.RetainedVersions); perr != nil {
		log.Printf("feed prune: %v", perr)
	} else if len(removed) > 0 {
		log.Printf("feed prune: removed %v", removed)
	}
	return err
}

// ForceVersion activates a cached version and rebuilds the index from it.
func (c *Coordinator) ForceVersion(version string) (gtfs.FeedVersion, error) {
	ver, err := c.store.ForceSelect(version)
	if err != nil {
		return gtfs.FeedVersion{}, err
	}
	payload, err := c.store.LoadPayload(ver.Version)
	if err != nil {
		return gtfs.FeedVersion{}, err
	}
	idx, err := gtfs.BuildIndex(payload)
	if err != nil {
		return gtfs.FeedVersion{}, err
	}
	c.active.Store(&activeFeed{index: idx, version: ver})
	return ver, nil
}

// RefreshRealtime fetches the trip-update feed into the merger. When the
// feed has degraded past the staleness threshold the overlay is cleared so
// boards fall back to scheduled times rather than serving old delays.
func (c *Coordinator) RefreshRealtime(ctx context.Context) error {
	updates, fetchedAt, err := c.rtClient.Fetch(ctx)
	now := time.Now()
	if err != nil {
		log.Printf("realtime refresh: %v", err)
		if c.merger.Status(now) == gtfsrt.StatusUnavailable {
			c.merger.Clear()
			c.raise(NotifyRealtimeDown, "realtime feed unavailable, boards are schedule-only")
		}
		return err
	}
	c.merger.Ingest(updates, fetchedAt)
	c.merger.Sweep(now)
	c.dismiss(NotifyRealtimeDown)
	return nil
}

// EvaluateAll re-evaluates every enabled watch. A failure in one watch
// never reaches its siblings.
func (c *Coordinator) EvaluateAll(now time.Time) {
	ev := &watch.Evaluator{Index: c.Index(), Merger: c.merger, Location: c.location}
	for _, d := range c.registry.List() {
		if !d.Enabled {
			continue
		}
		res := c.evalOne(ev, d, now)
		c.resMu.Lock()
		c.results[d.ID] = res
		c.resMu.Unlock()
	}
}

func (c *Coordinator) evalOne(ev *watch.Evaluator, d watch.Definition, now time.Time) (res board.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("watch %s (%s): evaluation panic: %v", d.ID, d.Slug, r)
			res = board.Result{EvaluatedAt: now, ErrorContext: board.ErrNoMatch}
		}
	}()
	return ev.Evaluate(d, now)
}

// Board evaluates one watch on demand, bypassing the cached result.
func (c *Coordinator) Board(id string, now time.Time) (board.Result, error) {
	d, ok := c.registry.Get(id)
	if !ok {
		return board.Result{}, watch.ErrNotFound
	}
	ev := &watch.Evaluator{Index: c.Index(), Merger: c.merger, Location: c.location}
	return c.evalOne(ev, d, now), nil
}

// CachedResult returns the last evaluation of a watch, if any.
func (c *Coordinator) CachedResult(id string) (board.Result, bool) {
	c.resMu.RLock()
	defer c.resMu.RUnlock()
	res, ok := c.results[id]
	return res, ok
}

// Evaluate runs an ad-hoc definition without persisting it.
func (c *Coordinator) Evaluate(d watch.Definition, now time.Time) board.Result {
	d.Enabled = true
	d.Normalize(c.cfg.Boards.DefaultWindowMinutes)
	ev := &watch.Evaluator{Index: c.Index(), Merger: c.merger, Location: c.location}
	return c.evalOne(ev, d, now)
}

// Start runs the initial loads and launches the three loops.
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	if err := c.RefreshStatic(ctx); err != nil && c.Index() == nil {
		// No cache and no network: nothing to serve.
		return err
	}
	_ = c.RefreshRealtime(ctx)
	c.EvaluateAll(time.Now())

	c.wg.Add(3)
	go c.loop(ctx, "static", time.Duration(c.cfg.Static.RefreshHours)*time.Hour, c.RefreshStatic)
	go c.loop(ctx, "realtime", time.Duration(c.cfg.Realtime.IntervalSeconds)*time.Second, c.RefreshRealtime)
	go c.loop(ctx, "eval", time.Duration(c.cfg.Boards.UpdateIntervalSeconds)*time.Second, func(context.Context) error {
		c.EvaluateAll(time.Now())
		return nil
	})
	return nil
}

// Stop cancels the loops and waits for them to drain.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// loop runs fn on the base interval, doubling the wait after consecutive
// failures up to maxBackoffMultiplier.
func (c *Coordinator) loop(ctx context.Context, name string, base time.Duration, fn func(context.Context) error) {
	defer c.wg.Done()
	mult := 1
	timer := time.NewTimer(base)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := fn(ctx); err != nil {
			if mult < maxBackoffMultiplier {
				mult *= 2
			}
			log.Printf("%s loop: backing off %dx after error", name, mult)
		} else {
			mult = 1
		}
		timer.Reset(base * time.Duration(mult))
	}
}

func (c *Coordinator) raise(kind, message string) {
	c.noteMu.Lock()
	defer c.noteMu.Unlock()
	if c.raised[kind] || c.notifier == nil || !c.cfg.Boards.NotificationsEnabled {
		return
	}
	c.raised[kind] = true
	c.notifier.Notify(kind, message)
}

func (c *Coordinator) dismiss(kind string) {
	c.noteMu.Lock()
	defer c.noteMu.Unlock()
	if !c.raised[kind] {
		return
	}
	c.raised[kind] = false
	if c.notifier != nil {
		c.notifier.Dismiss(kind)
	}
}

// StatusReport is the shape served by GET /api/status.
type StatusReport struct {
	Status          string    `json:"status"` // ok | degraded
	FeedVersion     string    `json:"feed_version,omitempty"`
	FeedValidity    string    `json:"feed_validity,omitempty"`
	FeedSource      string    `json:"feed_source"`
	RealtimeStatus  string    `json:"realtime_status"`
	RealtimeUpdated time.Time `json:"realtime_updated,omitempty"`
	RealtimeRecords int       `json:"realtime_records"`
	WatchCount      int       `json:"watch_count"`
}

// Status summarizes coordinator health. Overall status is degraded when the
// active feed is not the latest valid one or realtime is unavailable.
func (c *Coordinator) Status(now time.Time) StatusReport {
	rep := StatusReport{
		Status:          "ok",
		FeedSource:      gtfs.SourceNone,
		RealtimeStatus:  c.merger.Status(now),
		RealtimeRecords: c.merger.Size(),
		WatchCount:      c.registry.Count(),
	}
	if !c.merger.LastSuccess().IsZero() {
		rep.RealtimeUpdated = c.merger.LastSuccess()
	}
	if ver, ok := c.ActiveVersion(); ok {
		rep.FeedVersion = ver.Version
		rep.FeedValidity = ver.ValidRange()
		rep.FeedSource = ver.Source
		if ver.Source == gtfs.SourceFallbackLocal || !ver.ValidFor(now) {
			rep.Status = "degraded"
		}
	} else {
		rep.Status = "degraded"
	}
	if rep.RealtimeStatus == gtfsrt.StatusUnavailable {
		rep.Status = "degraded"
	}
	return rep
}
