package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

type DB struct {
	conn *sql.DB
}

func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	queries := []string{
		`CREATE SEQUENCE IF NOT EXISTS seq_crate_id START 1;`,
		`CREATE SEQUENCE IF NOT EXISTS seq_implementor_id START 1;`,

		`CREATE TABLE IF NOT EXISTS crates (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			fetched_at TIMESTAMP,
			processed_at TIMESTAMP,
			last_used_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crates_name ON crates (name)`,

		`CREATE TABLE IF NOT EXISTS implementors (
			id INTEGER PRIMARY KEY,
			crate_id INTEGER NOT NULL REFERENCES crates(id),
			ordinal INTEGER NOT NULL,
			trait_path TEXT NOT NULL,
			trait_crate TEXT NOT NULL,
			for_type TEXT NOT NULL,
			snippet_hash TEXT NOT NULL,
			is_synthetic BOOLEAN NOT NULL DEFAULT false,
			is_blanket BOOLEAN NOT NULL DEFAULT false,
			UNIQUE(crate_id, ordinal)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_implementors_crate ON implementors (crate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_implementors_trait ON implementors (trait_path)`,
	}

	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}

// --- Crate operations ---

type Crate struct {
	ID          int
	Name        string
	Version     string
	FetchedAt   *time.Time
	ProcessedAt *time.Time
	LastUsedAt  time.Time
}

func (db *DB) UpsertCrate(name, version string) (*Crate, error) {
	var c Crate
	err := db.conn.QueryRow(
		`SELECT id, name, version, fetched_at, processed_at, last_used_at FROM crates WHERE name = ? AND version = ?`,
		name, version,
	).Scan(&c.ID, &c.Name, &c.Version, &c.FetchedAt, &c.ProcessedAt, &c.LastUsedAt)

	if err == nil {
		return &c, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("checking crate: %w", err)
	}

	_, err = db.conn.Exec(
		`INSERT INTO crates (id, name, version) VALUES (nextval('seq_crate_id'), ?, ?)`,
		name, version,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting crate: %w", err)
	}

	var id int
	if err := db.conn.QueryRow("SELECT currval('seq_crate_id')").Scan(&id); err != nil {
		return nil, fmt.Errorf("getting crate id: %w", err)
	}

	now := time.Now()
	return &Crate{ID: id, Name: name, Version: version, LastUsedAt: now}, nil
}

func (db *DB) MarkCrateFetched(crateID int) error {
	_, err := db.conn.Exec(`UPDATE crates SET fetched_at = CURRENT_TIMESTAMP WHERE id = ?`, crateID)
	return err
}

func (db *DB) MarkCrateProcessed(crateID int) error {
	_, err := db.conn.Exec(`UPDATE crates SET processed_at = CURRENT_TIMESTAMP WHERE id = ?`, crateID)
	return err
}

func (db *DB) TouchCrate(crateID int) error {
	_, err := db.conn.Exec(`UPDATE crates SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, crateID)
	return err
}

func (db *DB) GetCrate(name, version string) (*Crate, error) {
	var c Crate
	err := db.conn.QueryRow(
		`SELECT id, name, version, fetched_at, processed_at, last_used_at FROM crates WHERE name = ? AND version = ?`,
		name, version,
	).Scan(&c.ID, &c.Name, &c.Version, &c.FetchedAt, &c.ProcessedAt, &c.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetLatestCrate returns the most recently processed crate with the given name.
func (db *DB) GetLatestCrate(name string) (*Crate, error) {
	var c Crate
	err := db.conn.QueryRow(
		`SELECT id, name, version, fetched_at, processed_at, last_used_at
		 FROM crates WHERE name = ? AND processed_at IS NOT NULL
		 ORDER BY processed_at DESC LIMIT 1`, name,
	).Scan(&c.ID, &c.Name, &c.Version, &c.FetchedAt, &c.ProcessedAt, &c.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) ListCrates() ([]Crate, error) {
	rows, err := db.conn.Query(`SELECT id, name, version, fetched_at, processed_at, last_used_at FROM crates ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crates []Crate
	for rows.Next() {
		var c Crate
		if err := rows.Scan(&c.ID, &c.Name, &c.Version, &c.FetchedAt, &c.ProcessedAt, &c.LastUsedAt); err != nil {
			return nil, err
		}
		crates = append(crates, c)
	}
	return crates, nil
}

// ListProcessedLatest returns one crate per name: the most recently processed
// version. This is the set a table snapshot is assembled from.
func (db *DB) ListProcessedLatest() ([]Crate, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, version, fetched_at, processed_at, last_used_at
		FROM (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY name ORDER BY processed_at DESC) as rn
			FROM crates
			WHERE processed_at IS NOT NULL
		)
		WHERE rn = 1
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var crates []Crate
	for rows.Next() {
		var c Crate
		if err := rows.Scan(&c.ID, &c.Name, &c.Version, &c.FetchedAt, &c.ProcessedAt, &c.LastUsedAt); err != nil {
			return nil, err
		}
		crates = append(crates, c)
	}
	return crates, nil
}

// GetIndexedVersions returns name→version for processed crates matching the
// given names. If multiple versions exist for the same name, the one with the
// latest processed_at wins.
func (db *DB) GetIndexedVersions(names []string) (map[string]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	result := make(map[string]string)
	for _, name := range names {
		c, err := db.GetLatestCrate(name)
		if err != nil {
			return nil, fmt.Errorf("getting indexed versions: %w", err)
		}
		if c != nil {
			result[c.Name] = c.Version
		}
	}
	return result, nil
}

// --- Implementor operations ---

type Implementor struct {
	ID          int
	CrateID     int
	Ordinal     int
	TraitPath   string
	TraitCrate  string
	ForType     string
	SnippetHash string
	Synthetic   bool
	Blanket     bool
}

func (db *DB) InsertImplementor(imp *Implementor) error {
	_, err := db.conn.Exec(
		`INSERT INTO implementors (id, crate_id, ordinal, trait_path, trait_crate, for_type, snippet_hash, is_synthetic, is_blanket)
		 VALUES (nextval('seq_implementor_id'), ?, ?, ?, ?, ?, ?, ?, ?)`,
		imp.CrateID, imp.Ordinal, imp.TraitPath, imp.TraitCrate, imp.ForType, imp.SnippetHash, imp.Synthetic, imp.Blanket,
	)
	if err != nil {
		return fmt.Errorf("inserting implementor: %w", err)
	}

	return db.conn.QueryRow(
		`SELECT id FROM implementors WHERE crate_id = ? AND ordinal = ?`,
		imp.CrateID, imp.Ordinal,
	).Scan(&imp.ID)
}

// ListImplementors returns a crate's implementors in display order.
func (db *DB) ListImplementors(crateID int) ([]Implementor, error) {
	rows, err := db.conn.Query(
		`SELECT id, crate_id, ordinal, trait_path, trait_crate, for_type, snippet_hash, is_synthetic, is_blanket
		 FROM implementors WHERE crate_id = ? ORDER BY ordinal`, crateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanImplementors(rows)
}

// ImplementorsOfTrait returns all stored impls of the given trait across
// crates, with the owning crate resolved for each row. The query matches the
// full path exactly, a generic instantiation of it, or a bare trait name as
// a path suffix, so both "core::clone::Clone" and "Clone" find the same rows.
func (db *DB) ImplementorsOfTrait(traitPath string) ([]Implementor, map[int]*Crate, error) {
	rows, err := db.conn.Query(
		`SELECT i.id, i.crate_id, i.ordinal, i.trait_path, i.trait_crate, i.for_type, i.snippet_hash, i.is_synthetic, i.is_blanket
		 FROM implementors i
		 WHERE i.trait_path = ?
		    OR i.trait_path LIKE ? || '<%'
		    OR i.trait_path LIKE '%::' || ?
		    OR i.trait_path LIKE '%::' || ? || '<%'
		 ORDER BY i.crate_id, i.ordinal`, traitPath, traitPath, traitPath, traitPath)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	impls, err := scanImplementors(rows)
	if err != nil {
		return nil, nil, err
	}

	crates := make(map[int]*Crate)
	for _, imp := range impls {
		if _, ok := crates[imp.CrateID]; ok {
			continue
		}
		var c Crate
		err := db.conn.QueryRow(
			`SELECT id, name, version, fetched_at, processed_at, last_used_at FROM crates WHERE id = ?`,
			imp.CrateID,
		).Scan(&c.ID, &c.Name, &c.Version, &c.FetchedAt, &c.ProcessedAt, &c.LastUsedAt)
		if err != nil {
			return nil, nil, err
		}
		crates[c.ID] = &c
	}
	return impls, crates, nil
}

func scanImplementors(rows *sql.Rows) ([]Implementor, error) {
	var impls []Implementor
	for rows.Next() {
		var imp Implementor
		if err := rows.Scan(&imp.ID, &imp.CrateID, &imp.Ordinal, &imp.TraitPath, &imp.TraitCrate, &imp.ForType, &imp.SnippetHash, &imp.Synthetic, &imp.Blanket); err != nil {
			return nil, err
		}
		impls = append(impls, imp)
	}
	return impls, rows.Err()
}

func (db *DB) DeleteImplementorsByCrate(crateID int) error {
	_, err := db.conn.Exec(`DELETE FROM implementors WHERE crate_id = ?`, crateID)
	return err
}

func (db *DB) CountImplementors(crateID int) (int, error) {
	var count int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM implementors WHERE crate_id = ?`, crateID).Scan(&count)
	return count, err
}
