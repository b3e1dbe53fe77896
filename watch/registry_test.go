package watch

import (
	"errors"
	"testing"
)

// memStore is an in-memory Store for registry tests.
type memStore struct {
	byID map[string]Definition
}

func newMemStore() *memStore { return &memStore{byID: map[string]Definition{}} }

func (s *memStore) LoadAll() ([]Definition, error) {
	out := []Definition{}
	for _, d := range s.byID {
		out = append(out, d)
	}
	return out, nil
}
func (s *memStore) Save(d Definition) error { s.byID[d.ID] = d; return nil }
func (s *memStore) Delete(id string) error  { delete(s.byID, id); return nil }
func (s *memStore) Close() error            { return nil }

func departureWatch(name, query string) Definition {
	return Definition{
		Name:      name,
		Type:      TypeDeparture,
		Enabled:   true,
		Departure: &DepartureConfig{FromQuery: query},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(newMemStore(), 30, 30)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

// TestRegistry_SlugCollision checks deterministic suffixing of equal names
func TestRegistry_SlugCollision(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Add(departureWatch("Utrina", "utrina"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := r.Add(departureWatch("Utrina", "utrina"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	third, _ := r.Add(departureWatch("Utrina!", "utrina"))

	if first.Slug != "utrina" {
		t.Errorf("first slug = %q", first.Slug)
	}
	if second.Slug != "utrina_2" {
		t.Errorf("second slug = %q", second.Slug)
	}
	// "Utrina!" normalizes to the same slug and takes the next suffix
	if third.Slug != "utrina_3" {
		t.Errorf("third slug = %q", third.Slug)
	}
	if first.ID != "watch_1" || second.ID != "watch_2" || third.ID != "watch_3" {
		t.Errorf("ids = %s,%s,%s", first.ID, second.ID, third.ID)
	}
}

// TestRegistry_RenameFreesSlug checks rename re-derives the slug without
// touching other watches
func TestRegistry_RenameFreesSlug(t *testing.T) {
	r := newTestRegistry(t)
	first, _ := r.Add(departureWatch("Utrina", "utrina"))
	second, _ := r.Add(departureWatch("Utrina", "utrina"))

	name := "Sopot"
	renamed, err := r.Update(first.ID, Patch{Name: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if renamed.Slug != "sopot" || renamed.ID != first.ID {
		t.Errorf("renamed = id %s slug %q", renamed.ID, renamed.Slug)
	}
	// the sibling keeps its suffixed slug, no renumbering
	if got, _ := r.Get(second.ID); got.Slug != "utrina_2" {
		t.Errorf("sibling slug after rename = %q", got.Slug)
	}
	// the freed slug is reusable
	if fresh, _ := r.Add(departureWatch("Utrina", "utrina")); fresh.Slug != "utrina" {
		t.Errorf("freed slug not reused: %q", fresh.Slug)
	}
}

// TestRegistry_CosmeticRenameKeepsSlug checks a rename with an unchanged
// normalized name keeps the existing slug
func TestRegistry_CosmeticRenameKeepsSlug(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(departureWatch("Utrina", "utrina"))
	second, _ := r.Add(departureWatch("Utrina", "utrina"))

	name := "UTRINA!"
	renamed, err := r.Update(second.ID, Patch{Name: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if renamed.Slug != "utrina_2" {
		t.Errorf("cosmetic rename changed slug to %q", renamed.Slug)
	}
	if renamed.Name != "UTRINA!" {
		t.Errorf("name = %q", renamed.Name)
	}
}

// TestRegistry_IDReuse checks freed ids are reassigned first-free
func TestRegistry_IDReuse(t *testing.T) {
	r := newTestRegistry(t)
	r.Add(departureWatch("A", "a"))
	second, _ := r.Add(departureWatch("B", "b"))
	r.Add(departureWatch("C", "c"))

	if err := r.Remove(second.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	fresh, _ := r.Add(departureWatch("D", "d"))
	if fresh.ID != "watch_2" {
		t.Errorf("fresh id = %q, want watch_2", fresh.ID)
	}
}

// TestRegistry_Duplicate checks copy semantics
func TestRegistry_Duplicate(t *testing.T) {
	r := newTestRegistry(t)
	orig, _ := r.Add(Definition{
		Name:    "Morning",
		Type:    TypeDeparture,
		Enabled: false,
		Departure: &DepartureConfig{
			FromQuery: "utrina",
			Routes:    []string{"6"},
		},
	})

	dup, err := r.Duplicate(orig.ID)
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	if dup.ID == orig.ID || dup.Slug == orig.Slug {
		t.Errorf("duplicate shares identity: %+v", dup)
	}
	if dup.Name != "Morning Copy" {
		t.Errorf("duplicate name = %q", dup.Name)
	}
	if dup.Enabled != orig.Enabled {
		t.Error("duplicate should mirror enabled state")
	}
	if dup.Departure.FromQuery != "utrina" || len(dup.Departure.Routes) != 1 {
		t.Errorf("duplicate config = %+v", dup.Departure)
	}
	// deep copy: mutating the duplicate must not touch the original
	dup.Departure.Routes[0] = "11"
	if got, _ := r.Get(orig.ID); got.Departure.Routes[0] != "6" {
		t.Error("duplicate config aliases the original")
	}
}

// TestRegistry_MaxWatches checks the count bound
func TestRegistry_MaxWatches(t *testing.T) {
	r, _ := NewRegistry(newMemStore(), 2, 30)
	r.Add(departureWatch("A", "a"))
	r.Add(departureWatch("B", "b"))
	if _, err := r.Add(departureWatch("C", "c")); !errors.Is(err, ErrTooMany) {
		t.Errorf("err = %v, want ErrTooMany", err)
	}
}

// TestRegistry_Validation checks type/config pairing and required fields
func TestRegistry_Validation(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Add(Definition{Name: "x", Type: "bogus"}); !errors.Is(err, ErrBadType) {
		t.Errorf("bogus type err = %v", err)
	}
	if _, err := r.Add(Definition{Name: "x", Type: TypeOD, OD: &ODConfig{FromQuery: "a"}}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("missing to_query err = %v", err)
	}
	if _, err := r.Add(Definition{Name: "x", Type: TypeNearby, Nearby: &NearbyConfig{}}); err == nil {
		t.Error("nearby without coordinate or source should fail")
	}
}

// TestRegistry_NormalizeClamps checks numeric bounds are applied on save
func TestRegistry_NormalizeClamps(t *testing.T) {
	r := newTestRegistry(t)
	d, err := r.Add(Definition{
		Name: "x",
		Type: TypeNearby,
		Nearby: &NearbyConfig{
			Lat: 45.78, Lon: 15.97,
			RadiusMeters:  9999,
			WindowMinutes: 1,
			LimitPerStop:  500,
			MaxStops:      1,
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if d.Nearby.RadiusMeters != MaxRadiusMeters {
		t.Errorf("radius = %v", d.Nearby.RadiusMeters)
	}
	if d.Nearby.WindowMinutes != MinWindowMinutes {
		t.Errorf("window = %d", d.Nearby.WindowMinutes)
	}
	if d.Nearby.LimitPerStop != MaxLimit {
		t.Errorf("limit = %d", d.Nearby.LimitPerStop)
	}
	if d.Nearby.MaxStops != MinStops {
		t.Errorf("max_stops = %d", d.Nearby.MaxStops)
	}
}

// TestRegistry_Events checks change notifications
func TestRegistry_Events(t *testing.T) {
	r := newTestRegistry(t)
	var events []Event
	r.Subscribe(func(ev Event) { events = append(events, ev) })

	d, _ := r.Add(departureWatch("Utrina", "utrina"))
	enabled := false
	r.Update(d.ID, Patch{Enabled: &enabled})
	r.Remove(d.ID)

	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	kinds := []string{events[0].Kind, events[1].Kind, events[2].Kind}
	want := []string{EventCreated, EventUpdated, EventRemoved}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
		if events[i].Watch.Slug != "utrina" {
			t.Errorf("event %d slug = %q", i, events[i].Watch.Slug)
		}
	}
}

// TestSlugify checks the normalization rules
func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Utrina":          "utrina",
		"Trg bana J.":     "trg_bana_j",
		"  spaced  out  ": "spaced_out",
		"!!!":             "watch",
		"Kvaternjak 2":    "kvaternjak_2",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
