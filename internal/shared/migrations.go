package shared

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var schemaFiles embed.FS

// migrationFile matches names like 0001_session_expiry_index_up.sql.
var migrationFile = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)_(up|down)\.sql$`)

// Migration is one versioned change to the session schema.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrator applies and reverts the embedded session schema, recording applied
// versions in schema_migrations.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator loads the embedded migrations for db.
func NewMigrator(db *sql.DB) (*Migrator, error) {
	migrations, err := loadMigrations(schemaFiles)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, migrations: migrations}, nil
}

// Migrations returns the known migrations, oldest first.
func (m *Migrator) Migrations() []Migration {
	return slices.Clone(m.migrations)
}

// Applied returns the applied versions, oldest first.
func (m *Migrator) Applied(ctx context.Context) ([]int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, migration := range m.migrations {
		if slices.Contains(applied, migration.Version) {
			continue
		}
		if err := m.exec(ctx, migration.Up, "INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
			return n, fmt.Errorf("failed to apply migration %04d_%s: %w", migration.Version, migration.Name, err)
		}
		n++
	}
	return n, nil
}

// Down reverts the newest steps applied migrations, or all of them when steps <= 0,
// and returns how many were reverted.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}
	if steps <= 0 || steps > len(applied) {
		steps = len(applied)
	}

	n := 0
	for _, version := range slices.Backward(applied[len(applied)-steps:]) {
		migration, ok := m.find(version)
		if !ok {
			return n, fmt.Errorf("applied migration %d is unknown", version)
		}
		if err := m.exec(ctx, migration.Down, "DELETE FROM schema_migrations WHERE version = ?", version); err != nil {
			return n, fmt.Errorf("failed to revert migration %04d_%s: %w", version, migration.Name, err)
		}
		n++
	}
	return n, nil
}

// Reset reverts every migration and applies them again, dropping all stored sessions.
func (m *Migrator) Reset(ctx context.Context) error {
	if _, err := m.Down(ctx, 0); err != nil {
		return err
	}
	_, err := m.Up(ctx)
	return err
}

// RunMigrations applies every pending migration to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}
	_, err = m.Up(ctx)
	return err
}

func (m *Migrator) find(version int) (Migration, bool) {
	i := slices.IndexFunc(m.migrations, func(mg Migration) bool { return mg.Version == version })
	if i < 0 {
		return Migration{}, false
	}
	return m.migrations[i], true
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// exec runs script and the bookkeeping statement in one transaction.
func (m *Migrator) exec(ctx context.Context, script, record string, version int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\nStatement: %s", err, stmt)
		}
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		return err
	}
	return tx.Commit()
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}

	byVersion := map[int]*Migration{}
	for _, name := range names {
		base := strings.TrimPrefix(name, "sql/")
		match := migrationFile.FindStringSubmatch(base)
		if match == nil {
			return nil, fmt.Errorf("unexpected migration file name %q", base)
		}
		version, _ := strconv.Atoi(match[1])

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", base, err)
		}

		mg := byVersion[version]
		if mg == nil {
			mg = &Migration{Version: version, Name: match[2]}
			byVersion[version] = mg
		}
		if match[3] == "up" {
			mg.Up = string(content)
		} else {
			mg.Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mg := range byVersion {
		if mg.Up == "" || mg.Down == "" {
			return nil, fmt.Errorf("migration %04d_%s needs both up and down files", mg.Version, mg.Name)
		}
		migrations = append(migrations, *mg)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return a.Version - b.Version })
	return migrations, nil
}

// splitStatements strips -- comments and splits script on semicolons.
func splitStatements(script string) []string {
	var b strings.Builder
	for line := range strings.Lines(script) {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i] + "\n"
		}
		b.WriteString(line)
	}

	var stmts []string
	for stmt := range strings.SplitSeq(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
