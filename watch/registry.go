package watch

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound   = errors.New("watch not found")
	ErrTooMany    = errors.New("maximum watch count reached")
	ErrBadType    = errors.New("unknown watch type")
	ErrBadConfig  = errors.New("watch config does not match its type")
	ErrEmptyQuery = errors.New("watch query must not be empty")
)

// Registry change events, delivered to subscribers synchronously under the
// registry lock.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventRemoved = "removed"
)

type Event struct {
	Kind  string
	Watch Definition
}

// Registry holds the live watch set, assigns ids and slugs, and writes
// through to the backing store.
type Registry struct {
	mu            sync.Mutex
	store         Store
	byID          map[string]Definition
	maxWatches    int
	defaultWindow int
	subs          []func(Event)
}

// NewRegistry loads all persisted watches from the store.
func NewRegistry(store Store, maxWatches, defaultWindow int) (*Registry, error) {
	all, err := store.LoadAll()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		store:         store,
		byID:          make(map[string]Definition, len(all)),
		maxWatches:    maxWatches,
		defaultWindow: defaultWindow,
	}
	for _, d := range all {
		r.byID[d.ID] = d
	}
	return r, nil
}

// Subscribe registers a change listener. Listeners must not call back into
// the registry.
func (r *Registry) Subscribe(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

func (r *Registry) emitLocked(kind string, d Definition) {
	for _, fn := range r.subs {
		fn(Event{Kind: kind, Watch: d.Clone()})
	}
}

// List returns all watches ordered by numeric id.
func (r *Registry) List() []Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Definition, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return idNumber(out[i].ID) < idNumber(out[j].ID) })
	return out
}

// Get returns a watch by id.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return Definition{}, false
	}
	return d.Clone(), true
}

// BySlug returns a watch by its slug.
func (r *Registry) BySlug(slug string) (Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.byID {
		if d.Slug == slug {
			return d.Clone(), true
		}
	}
	return Definition{}, false
}

// Count returns the number of stored watches.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Add stores a new watch. The id and slug fields of the input are ignored
// and assigned here: the first free watch_N id, and the name's slug with a
// numeric suffix on collision.
func (r *Registry) Add(d Definition) (Definition, error) {
	if err := validate(&d); err != nil {
		return Definition{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byID) >= r.maxWatches {
		return Definition{}, ErrTooMany
	}
	d.ID = r.nextIDLocked()
	d.Slug = r.freeSlugLocked(Slugify(d.Name), d.ID)
	d.Normalize(r.defaultWindow)
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if err := r.store.Save(d); err != nil {
		return Definition{}, err
	}
	r.byID[d.ID] = d
	r.emitLocked(EventCreated, d)
	return d.Clone(), nil
}

// Patch carries a partial update; nil fields are left unchanged.
type Patch struct {
	Name         *string
	Enabled      *bool
	OD           *ODConfig
	Departure    *DepartureConfig
	StationQuery *StationQueryConfig
	Nearby       *NearbyConfig
}

// Update applies a partial update. The id never changes; the slug is
// re-derived only when the normalized name actually changed, so a
// cosmetic rename ("Utrina" to "utrina!") keeps the slug stable.
func (r *Registry) Update(id string, p Patch) (Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return Definition{}, ErrNotFound
	}
	d = d.Clone()
	if p.Name != nil && *p.Name != d.Name {
		oldBase := Slugify(d.Name)
		d.Name = *p.Name
		if newBase := Slugify(d.Name); newBase != oldBase {
			d.Slug = r.freeSlugLocked(newBase, d.ID)
		}
	}
	if p.Enabled != nil {
		d.Enabled = *p.Enabled
	}
	switch {
	case p.OD != nil:
		if d.Type != TypeOD {
			return Definition{}, ErrBadConfig
		}
		d.OD = p.OD
	case p.Departure != nil:
		if d.Type != TypeDeparture {
			return Definition{}, ErrBadConfig
		}
		d.Departure = p.Departure
	case p.StationQuery != nil:
		if d.Type != TypeStationQuery {
			return Definition{}, ErrBadConfig
		}
		d.StationQuery = p.StationQuery
	case p.Nearby != nil:
		if d.Type != TypeNearby {
			return Definition{}, ErrBadConfig
		}
		d.Nearby = p.Nearby
	}
	if err := validate(&d); err != nil {
		return Definition{}, err
	}
	d.Normalize(r.defaultWindow)
	d.UpdatedAt = time.Now().UTC()
	if err := r.store.Save(d); err != nil {
		return Definition{}, err
	}
	r.byID[id] = d
	r.emitLocked(EventUpdated, d)
	return d.Clone(), nil
}

// Remove deletes a watch; its slug becomes reusable.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if err := r.store.Delete(id); err != nil {
		return err
	}
	delete(r.byID, id)
	r.emitLocked(EventRemoved, d)
	return nil
}

// Duplicate copies a watch's config under a fresh id and slug, with " Copy"
// appended to the name and the enabled state mirrored.
func (r *Registry) Duplicate(id string) (Definition, error) {
	r.mu.Lock()
	src, ok := r.byID[id]
	r.mu.Unlock()
	if !ok {
		return Definition{}, ErrNotFound
	}
	dup := src.Clone()
	dup.Name = src.Name + " Copy"
	return r.Add(dup)
}

func (r *Registry) nextIDLocked() string {
	for n := 1; ; n++ {
		id := "watch_" + strconv.Itoa(n)
		if _, taken := r.byID[id]; !taken {
			return id
		}
	}
}

// freeSlugLocked returns base when free, else the first free base_2,
// base_3, ... Watches other than selfID count as collisions.
func (r *Registry) freeSlugLocked(base, selfID string) string {
	taken := func(slug string) bool {
		for id, d := range r.byID {
			if id != selfID && d.Slug == slug {
				return true
			}
		}
		return false
	}
	if !taken(base) {
		return base
	}
	for n := 2; ; n++ {
		cand := base + "_" + strconv.Itoa(n)
		if !taken(cand) {
			return cand
		}
	}
}

func idNumber(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "watch_"))
	if err != nil {
		return 0
	}
	return n
}

func validate(d *Definition) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name", ErrEmptyQuery)
	}
	switch d.Type {
	case TypeOD:
		if d.OD == nil || strings.TrimSpace(d.OD.FromQuery) == "" || strings.TrimSpace(d.OD.ToQuery) == "" {
			return ErrEmptyQuery
		}
	case TypeDeparture:
		if d.Departure == nil || strings.TrimSpace(d.Departure.FromQuery) == "" {
			return ErrEmptyQuery
		}
	case TypeStationQuery:
		if d.StationQuery == nil || len(d.StationQuery.Queries) == 0 {
			return ErrEmptyQuery
		}
	case TypeNearby:
		if d.Nearby == nil {
			return ErrBadConfig
		}
		if d.Nearby.LocationSource == "" && d.Nearby.Lat == 0 && d.Nearby.Lon == 0 {
			return fmt.Errorf("%w: coordinate or location source required", ErrBadConfig)
		}
	default:
		return ErrBadType
	}
	return nil
}
