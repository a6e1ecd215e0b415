// Package registryindex is the Instance Registry's read-model cache: a
// denormalized, rebuildable sqlite index over the canonical
// instances/<blueprint>/<instance>.ini tree. The Registry upserts a row on
// every Save and deletes it on Remove; the Registry's own List, Find and
// Describe read the .ini tree and do not query this index. It is
// never the source of truth — losing the database file is never data loss,
// only a Rebuild away from being current again. Schema is migrated with
// golang-migrate's iofs source driver over this package's embedded
// migrations, mirroring the teacher's //go:embed db/schema.sql +
// sqlDB.Exec pattern but versioned, since this index's shape is expected to
// evolve across releases in a way the teacher's single schema.sql never had
// to.
package registryindex

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Row is one instance's denormalized index entry.
type Row struct {
	Name                       string
	Blueprint                  string
	Runtime                    string
	LifecycleManager           string
	WorkingDir                 string
	InstalledVersion           string
	EnableSystemd              bool
	EnableFirewallManagement   bool
	EnableCommandShortcuts     bool
	EnablePortForwarding       bool
	Status                     string
}

// Index is a handle to the sqlite read-model cache.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and brings
// its schema up to the latest migration.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening registry index at %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying registry index migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Upsert inserts or updates row's entry, keyed by name.
func (idx *Index) Upsert(row Row) error {
	_, err := idx.db.Exec(`
		INSERT INTO instances (
			name, blueprint, runtime, lifecycle_manager, working_dir,
			installed_version, enable_systemd, enable_firewall_management,
			enable_command_shortcuts, enable_port_forwarding, status, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			blueprint = excluded.blueprint,
			runtime = excluded.runtime,
			lifecycle_manager = excluded.lifecycle_manager,
			working_dir = excluded.working_dir,
			installed_version = excluded.installed_version,
			enable_systemd = excluded.enable_systemd,
			enable_firewall_management = excluded.enable_firewall_management,
			enable_command_shortcuts = excluded.enable_command_shortcuts,
			enable_port_forwarding = excluded.enable_port_forwarding,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		row.Name, row.Blueprint, row.Runtime, row.LifecycleManager, row.WorkingDir,
		row.InstalledVersion, row.EnableSystemd, row.EnableFirewallManagement,
		row.EnableCommandShortcuts, row.EnablePortForwarding, row.Status,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting index row for %s: %w", row.Name, err)
	}
	return nil
}

// Delete removes name's entry, if present.
func (idx *Index) Delete(name string) error {
	if _, err := idx.db.Exec(`DELETE FROM instances WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting index row for %s: %w", name, err)
	}
	return nil
}

// Get returns the index row for name.
func (idx *Index) Get(name string) (Row, bool, error) {
	row := idx.db.QueryRow(`
		SELECT name, blueprint, runtime, lifecycle_manager, working_dir,
		       installed_version, enable_systemd, enable_firewall_management,
		       enable_command_shortcuts, enable_port_forwarding, status
		FROM instances WHERE name = ?`, name)

	var r Row
	err := row.Scan(&r.Name, &r.Blueprint, &r.Runtime, &r.LifecycleManager, &r.WorkingDir,
		&r.InstalledVersion, &r.EnableSystemd, &r.EnableFirewallManagement,
		&r.EnableCommandShortcuts, &r.EnablePortForwarding, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("reading index row for %s: %w", name, err)
	}
	return r, true, nil
}

// List returns every indexed instance, optionally filtered to a single
// blueprint, lexicographically ordered by name.
func (idx *Index) List(blueprint string) ([]Row, error) {
	query := `
		SELECT name, blueprint, runtime, lifecycle_manager, working_dir,
		       installed_version, enable_systemd, enable_firewall_management,
		       enable_command_shortcuts, enable_port_forwarding, status
		FROM instances`
	args := []any{}
	if blueprint != "" {
		query += ` WHERE blueprint = ?`
		args = append(args, blueprint)
	}
	query += ` ORDER BY name`

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing index rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Name, &r.Blueprint, &r.Runtime, &r.LifecycleManager, &r.WorkingDir,
			&r.InstalledVersion, &r.EnableSystemd, &r.EnableFirewallManagement,
			&r.EnableCommandShortcuts, &r.EnablePortForwarding, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning index row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rebuild replaces the entire index contents with rows, atomically within a
// single transaction. Callers derive rows by walking the canonical
// instances/<blueprint>/<instance>.ini tree; the index is purely derived
// state and this is always safe to call.
func (idx *Index) Rebuild(rows []Row) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("starting rebuild transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM instances`); err != nil {
		return fmt.Errorf("clearing index for rebuild: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range rows {
		if _, err := tx.Exec(`
			INSERT INTO instances (
				name, blueprint, runtime, lifecycle_manager, working_dir,
				installed_version, enable_systemd, enable_firewall_management,
				enable_command_shortcuts, enable_port_forwarding, status, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Name, r.Blueprint, r.Runtime, r.LifecycleManager, r.WorkingDir,
			r.InstalledVersion, r.EnableSystemd, r.EnableFirewallManagement,
			r.EnableCommandShortcuts, r.EnablePortForwarding, r.Status, now,
		); err != nil {
			return fmt.Errorf("inserting rebuilt row for %s: %w", r.Name, err)
		}
	}

	return tx.Commit()
}
