package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// shippingMigrationLock: ключ pg_advisory_lock, сериализующий миграции между репликами.
const shippingMigrationLock = int64(7468801)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

var migrationName = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

type migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (m migration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

// MigrationState: состояние схемы относительно встроенных миграций.
type MigrationState struct {
	CurrentVersion int64
	Applied        int
	Pending        int
}

// MigrateUp применяет steps неприменённых миграций; при steps<=0 применяются все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, all []migration) error {
		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}

		done := 0
		for _, m := range all {
			if steps > 0 && done >= steps {
				break
			}
			if _, ok := applied[m.Version]; ok {
				continue
			}
			if err := runMigration(ctx, conn, m, true); err != nil {
				return err
			}
			done++
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций; при steps<=0 откатывается одна.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, all []migration) error {
		byVersion := make(map[int64]migration, len(all))
		for _, m := range all {
			byVersion[m.Version] = m
		}

		applied, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		versions := make([]int64, 0, len(applied))
		for v := range applied {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
		if len(versions) > steps {
			versions = versions[:steps]
		}

		for _, v := range versions {
			m, ok := byVersion[v]
			if !ok {
				return fmt.Errorf("cannot roll back unknown migration version %d", v)
			}
			if err := runMigration(ctx, conn, m, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus сравнивает schema_migrations со встроенным набором.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, ErrStoreNotInitialized
	}
	all, err := parseMigrations(embeddedMigrations)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := withOpTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var state MigrationState
	if err := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&state.CurrentVersion, &state.Applied); err != nil {
		return MigrationState{}, fmt.Errorf("query migration state: %w", err)
	}
	if pending := len(all) - state.Applied; pending > 0 {
		state.Pending = pending
	}

	return state, nil
}

func (s *Store) withMigrationLock(ctx context.Context, fn func(*sql.Conn, []migration) error) error {
	if s == nil || s.db == nil {
		return ErrStoreNotInitialized
	}
	all, err := parseMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for migrations: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := withOpTimeout(ctx)
	_, err = conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, shippingMigrationLock)
	cancel()
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, shippingMigrationLock)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	return fn(conn, all)
}

// runMigration выполняет тело миграции и запись в schema_migrations в одной транзакции.
func runMigration(ctx context.Context, conn *sql.Conn, m migration, up bool) (err error) {
	body, bookkeeping, args := m.Down, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	direction := "down"
	if up {
		body, bookkeeping, args = m.Up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, []any{m.Version, m.Name}
		direction = "up"
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", direction, m, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("run %s migration %s: %w", direction, m, err)
	}
	if _, err = tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record %s migration %s: %w", direction, m, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]struct{}, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]struct{})
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// parseMigrations собирает пары up/down из sql/migrations и сортирует их по версии.
func parseMigrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationName.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", base, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, m.Name, parts[2])
		}

		target := &m.Down
		if parts[3] == "up" {
			target = &m.Up
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*target = body
	}

	result := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m)
		}
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })

	return result, nil
}
