package database

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrationFiles embed.FS

// Migration represents a database migration with up and down SQL.
type Migration struct {
	Version int
	Up      string
	Down    string
}

// loadMigrations reads the migration files for a dialect and returns them sorted by version.
func loadMigrations(dialect Dialect) ([]Migration, error) {
	dir := path.Join("sql", dialectDir(dialect))
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory: %w", err)
	}

	migrationMap := make(map[int]*Migration)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		// "0001_create_contacts_up.sql" -> version 1
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := migrationFiles.ReadFile(path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		if migrationMap[version] == nil {
			migrationMap[version] = &Migration{Version: version}
		}

		switch {
		case strings.HasSuffix(name, "_up.sql"):
			migrationMap[version].Up = string(content)
		case strings.HasSuffix(name, "_down.sql"):
			migrationMap[version].Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(migrationMap))
	for _, migration := range migrationMap {
		if migration.Up == "" || migration.Down == "" {
			return nil, fmt.Errorf("incomplete migration for version %d", migration.Version)
		}
		migrations = append(migrations, *migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func dialectDir(dialect Dialect) string {
	if dialect == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Migrate executes all pending migrations.
// Applied versions are tracked in the schema_migrations table.
func (db *DB) Migrate() error {
	_, err := db.MigrateUp()
	return err
}

// MigrateUp applies pending migrations and reports the versions it applied
func (db *DB) MigrateUp() ([]int, error) {
	migrations, err := loadMigrations(db.dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	if err := db.createMigrationsTable(); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var applied []int
	for _, migration := range migrations {
		var exists bool
		err := db.Conn.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", migration.Version).Scan(&exists)
		if err != nil {
			return applied, fmt.Errorf("failed to check migration status: %w", err)
		}
		if exists {
			continue
		}

		if err := db.execMigration(migration.Up, "INSERT INTO schema_migrations (version) VALUES ($1)", migration.Version); err != nil {
			return applied, fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		db.logger.Debug("applied migration", "version", migration.Version)
		applied = append(applied, migration.Version)
	}

	return applied, nil
}

// Rollback rolls back the most recent migration and returns its version.
func (db *DB) Rollback() (int, error) {
	migrations, err := loadMigrations(db.dialect)
	if err != nil {
		return 0, fmt.Errorf("failed to load migrations: %w", err)
	}

	if err := db.createMigrationsTable(); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	err = db.Conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	if current == 0 {
		return 0, fmt.Errorf("no migrations to rollback")
	}

	for _, migration := range migrations {
		if migration.Version != current {
			continue
		}
		if err := db.execMigration(migration.Down, "DELETE FROM schema_migrations WHERE version = $1", migration.Version); err != nil {
			return 0, fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
		}
		return current, nil
	}

	return 0, fmt.Errorf("migration version %d not found", current)
}

func (db *DB) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := db.Conn.Exec(query)
	return err
}

// execMigration runs every statement of script and the bookkeeping statement in one transaction.
func (db *DB) execMigration(script, record string, version int) error {
	tx, err := db.Conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(removeComments(script), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute statement: %w\nStatement: %s", err, stmt)
		}
	}

	if _, err := tx.Exec(record, version); err != nil {
		return err
	}

	return tx.Commit()
}

// removeComments removes SQL line comments from a script.
func removeComments(sql string) string {
	lines := strings.Split(sql, "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}
