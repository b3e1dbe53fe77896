package watch

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists watch definitions.
type Store interface {
	LoadAll() ([]Definition, error)
	Save(Definition) error
	Delete(id string) error
	Close() error
}

// SQLStore keeps watches in a single SQLite table, config payload as JSON.
type SQLStore struct {
	conn *sql.DB
}

// OpenStore opens or creates the SQLite database at path.
func OpenStore(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open watch store: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	s := &SQLStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate watch store: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS watches (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		config TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.conn.Exec(schema)
	return err
}

type configPayload struct {
	OD           *ODConfig           `json:"od,omitempty"`
	Departure    *DepartureConfig    `json:"departure,omitempty"`
	StationQuery *StationQueryConfig `json:"station_query,omitempty"`
	Nearby       *NearbyConfig       `json:"nearby,omitempty"`
}

// LoadAll returns every stored watch ordered by id.
func (s *SQLStore) LoadAll() ([]Definition, error) {
	rows, err := s.conn.Query(
		"SELECT id, slug, name, type, enabled, config, created_at, updated_at FROM watches ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Definition
	for rows.Next() {
		var d Definition
		var enabled int
		var config string
		var created, updated time.Time
		if err := rows.Scan(&d.ID, &d.Slug, &d.Name, &d.Type, &enabled, &config, &created, &updated); err != nil {
			return nil, err
		}
		d.Enabled = enabled != 0
		d.CreatedAt = created
		d.UpdatedAt = updated
		var p configPayload
		if err := json.Unmarshal([]byte(config), &p); err != nil {
			return nil, fmt.Errorf("watch %s: decode config: %w", d.ID, err)
		}
		d.OD, d.Departure, d.StationQuery, d.Nearby = p.OD, p.Departure, p.StationQuery, p.Nearby
		out = append(out, d)
	}
	return out, rows.Err()
}

// Save upserts one watch.
func (s *SQLStore) Save(d Definition) error {
	config, err := json.Marshal(configPayload{
		OD: d.OD, Departure: d.Departure, StationQuery: d.StationQuery, Nearby: d.Nearby,
	})
	if err != nil {
		return err
	}
	enabled := 0
	if d.Enabled {
		enabled = 1
	}
	_, err = s.conn.Exec(`
		INSERT INTO watches (id, slug, name, type, enabled, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			type = excluded.type,
			enabled = excluded.enabled,
			config = excluded.config,
			updated_at = excluded.updated_at`,
		d.ID, d.Slug, d.Name, d.Type, enabled, string(config), d.CreatedAt, d.UpdatedAt)
	return err
}

// Delete removes one watch by id.
func (s *SQLStore) Delete(id string) error {
	_, err := s.conn.Exec("DELETE FROM watches WHERE id = ?", id)
	return err
}

func (s *SQLStore) Close() error {
	return s.conn.Close()
}
