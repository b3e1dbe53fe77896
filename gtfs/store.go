package gtfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Feed source strategies reported alongside the active version.
const (
	SourceLatest        = "latest"
	SourceFallbackLocal = "fallback_local"
	SourceForced        = "forced"
	SourceNone          = "none"
)

// FeedVersion is the metadata sidecar persisted next to each cached bundle.
type FeedVersion struct {
	Version      string    `json:"version"`
	StartDate    string    `json:"start_date,omitempty"` // YYYYMMDD from feed_info
	EndDate      string    `json:"end_date,omitempty"`
	Source       string    `json:"source"`
	DownloadedAt time.Time `json:"downloaded_at"`
	Path         string    `json:"path"`
}

// ValidFor reports whether the feed's declared validity window covers the
// given day. A missing bound leaves that side open.
func (v FeedVersion) ValidFor(day time.Time) bool {
	d := day.Format("20060102")
	if v.StartDate != "" && d < v.StartDate {
		return false
	}
	if v.EndDate != "" && d > v.EndDate {
		return false
	}
	return true
}

// ValidRange renders the validity window for status surfaces.
func (v FeedVersion) ValidRange() string {
	if v.StartDate == "" && v.EndDate == "" {
		return "unbounded"
	}
	return v.StartDate + ".." + v.EndDate
}

type storeState struct {
	ActiveVersion string `json:"active_version"`
	ForcedVersion string `json:"forced_version,omitempty"`
	ETag          string `json:"etag,omitempty"`
}

// Store keeps downloaded static bundles under <cache_dir>/feeds/, one
// <version>.zip plus <version>.json pair per feed, with a state.json active
// pointer. All methods are safe for concurrent use.
type Store struct {
	dir    string
	url    string
	client *http.Client

	mu    sync.Mutex
	state storeState
}

// NewStore opens (creating if needed) the cache directory and loads the
// persisted active pointer.
func NewStore(cacheDir, feedURL string, timeout time.Duration) (*Store, error) {
	dir := filepath.Join(cacheDir, "feeds")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		dir:    dir,
		url:    feedURL,
		client: &http.Client{Timeout: timeout},
	}
	if raw, err := os.ReadFile(s.statePath()); err == nil {
		_ = json.Unmarshal(raw, &s.state)
	}
	return s, nil
}

func (s *Store) statePath() string        { return filepath.Join(s.dir, "state.json") }
func (s *Store) zipPath(v string) string  { return filepath.Join(s.dir, v+".zip") }
func (s *Store) metaPath(v string) string { return filepath.Join(s.dir, v+".json") }

// EnsureCurrent checks upstream for a new bundle and activates the best
// cached version for today. The second return value reports whether the
// active version changed. When the upstream publishes an unchanged ETag the
// call does no downloads and no cache writes.
func (s *Store) EnsureCurrent(ctx context.Context, today time.Time) (FeedVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.ActiveVersion

	payload, etag, notModified, err := s.fetch(ctx)
	if err != nil {
		// Keep the previous active version on fetch failure.
		if active, ok := s.selectActiveLocked(today); ok {
			return active, active.Version != prev, &FetchError{URL: s.url, Err: err}
		}
		return FeedVersion{Source: SourceNone}, false, &FetchError{URL: s.url, Err: err}
	}

	if !notModified {
		tables, perr := ParseTables(payload)
		if perr == nil {
			perr = tables.Validate()
		}
		if perr != nil {
			// Corrupt download: previous active version stays.
			if active, ok := s.selectActiveLocked(today); ok {
				return active, active.Version != prev, perr
			}
			return FeedVersion{Source: SourceNone}, false, perr
		}

		version := versionOf(tables, payload)
		if _, err := os.Stat(s.metaPath(version)); err != nil {
			meta := FeedVersion{
				Version:      version,
				StartDate:    tables.FeedInfo["feed_start_date"],
				EndDate:      tables.FeedInfo["feed_end_date"],
				DownloadedAt: time.Now().UTC(),
				Path:         s.zipPath(version),
			}
			if err := s.writeFeedLocked(meta, payload); err != nil {
				return FeedVersion{Source: SourceNone}, false, err
			}
		}
		if etag != s.state.ETag {
			s.state.ETag = etag
			_ = s.persistStateLocked()
		}
	}

	active, ok := s.selectActiveLocked(today)
	if !ok {
		return FeedVersion{Source: SourceNone}, false, errors.New("no cached feed valid for today")
	}
	if active.Version != prev {
		s.state.ActiveVersion = active.Version
		if err := s.persistStateLocked(); err != nil {
			return active, true, err
		}
		return active, true, nil
	}
	return active, false, nil
}

// fetch issues a conditional GET; notModified is true on a 304.
func (s *Store) fetch(ctx context.Context) (payload []byte, etag string, notModified bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, "", false, err
	}
	if s.state.ETag != "" {
		req.Header.Set("If-None-Match", s.state.ETag)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotModified {
		return nil, s.state.ETag, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", false, fmt.Errorf("static feed fetch: status %d", resp.StatusCode)
	}
	payload, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", false, err
	}
	return payload, resp.Header.Get("ETag"), false, nil
}

// ForceSelect pins a locally cached version as active until the next force
// or an empty version clears the pin.
func (s *Store) ForceSelect(version string) (FeedVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version == "" {
		s.state.ForcedVersion = ""
		return FeedVersion{}, s.persistStateLocked()
	}
	meta, err := s.readMetaLocked(version)
	if err != nil {
		return FeedVersion{}, fmt.Errorf("version %q not cached", version)
	}
	s.state.ForcedVersion = version
	s.state.ActiveVersion = version
	if err := s.persistStateLocked(); err != nil {
		return FeedVersion{}, err
	}
	meta.Source = SourceForced
	return meta, nil
}

// Active returns the currently selected version metadata without touching
// the network.
func (s *Store) Active(today time.Time) (FeedVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectActiveLocked(today)
}

// LoadPayload reads a cached bundle off disk.
func (s *Store) LoadPayload(version string) ([]byte, error) {
	s.mu.Lock()
	p := s.zipPath(version)
	s.mu.Unlock()
	return os.ReadFile(p)
}

// ListCached returns metadata of all cached feeds, newest first.
func (s *Store) ListCached() []FeedVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

// Prune removes cached pairs beyond the retention count. The active and
// forced versions survive and do not count toward keep, so keep is the number
// of non-active snapshots retained. It returns the versions removed.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.listLocked()
	removed := []string{}
	kept := 0
	for _, m := range all {
		if m.Version == s.state.ActiveVersion || m.Version == s.state.ForcedVersion {
			continue
		}
		if kept < keep {
			kept++
			continue
		}
		if err := os.Remove(s.zipPath(m.Version)); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		if err := os.Remove(s.metaPath(m.Version)); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, m.Version)
	}
	return removed, nil
}

func (s *Store) writeFeedLocked(meta FeedVersion, payload []byte) error {
	if err := os.WriteFile(s.zipPath(meta.Version), payload, 0o644); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(meta.Version), raw, 0o644)
}

func (s *Store) readMetaLocked(version string) (FeedVersion, error) {
	raw, err := os.ReadFile(s.metaPath(version))
	if err != nil {
		return FeedVersion{}, err
	}
	var meta FeedVersion
	if err := json.Unmarshal(raw, &meta); err != nil {
		return FeedVersion{}, err
	}
	return meta, nil
}

func (s *Store) listLocked() []FeedVersion {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	out := []FeedVersion{}
	for _, e := range entries {
		name := e.Name()
		if name == "state.json" || !strings.HasSuffix(name, ".json") {
			continue
		}
		meta, err := s.readMetaLocked(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := versionRank(out[i].Version), versionRank(out[j].Version)
		if ri != rj {
			return ri > rj
		}
		if out[i].StartDate != out[j].StartDate {
			return out[i].StartDate > out[j].StartDate
		}
		return out[i].Version > out[j].Version
	})
	return out
}

// selectActiveLocked picks the version to serve for the given day: a forced
// pin wins, then the newest feed valid today, then the newest valid cached
// one, then the recorded active version in degraded mode.
func (s *Store) selectActiveLocked(today time.Time) (FeedVersion, bool) {
	all := s.listLocked()
	if len(all) == 0 {
		return FeedVersion{Source: SourceNone}, false
	}
	if s.state.ForcedVersion != "" {
		for _, m := range all {
			if m.Version == s.state.ForcedVersion {
				m.Source = SourceForced
				return m, true
			}
		}
	}
	if all[0].ValidFor(today) {
		all[0].Source = SourceLatest
		return all[0], true
	}
	for _, m := range all[1:] {
		if m.ValidFor(today) {
			m.Source = SourceFallbackLocal
			return m, true
		}
	}
	for _, m := range all {
		if m.Version == s.state.ActiveVersion {
			m.Source = SourceFallbackLocal
			return m, true
		}
	}
	all[0].Source = SourceFallbackLocal
	return all[0], true
}

func (s *Store) persistStateLocked() error {
	raw, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	return os.WriteFile(s.statePath(), raw, 0o644)
}

// versionOf derives the cache key: feed_info feed_version when present,
// else a content hash prefix.
func versionOf(t *Tables, payload []byte) string {
	if v := strings.TrimSpace(t.FeedInfo["feed_version"]); v != "" {
		return sanitizeVersion(v)
	}
	sum := sha256.Sum256(payload)
	return "hash_" + hex.EncodeToString(sum[:])[:12]
}

func sanitizeVersion(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '.', r == '-':
			return r
		}
		return '_'
	}, v)
}

// versionRank orders versions by their leading numeric run so "125" sorts
// after "97" despite string order.
func versionRank(v string) int {
	i := 0
	for i < len(v) && v[i] >= '0' && v[i] <= '9' {
		i++
	}
	if i == 0 {
		return -1
	}
	n, err := strconv.Atoi(v[:i])
	if err != nil {
		return -1
	}
	return n
}
