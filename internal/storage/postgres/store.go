package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultConnTimeout = 5 * time.Second
	// opTimeout ограничивает одну операцию репозитория, если у вызывающего нет дедлайна короче.
	opTimeout = 5 * time.Second
)

// ErrStoreNotInitialized возвращается при обращении к nil или закрытому Store.
var ErrStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig задаёт параметры пула соединений database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig возвращает параметры пула для сервиса с умеренной нагрузкой.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Store владеет пулом соединений с PostgreSQL и применяет миграции схемы.
type Store struct {
	db *sql.DB
}

// Open открывает пул с параметрами по умолчанию.
func Open(ctx context.Context, dsn string) (*Store, error) {
	return OpenWithPool(ctx, dsn, DefaultPoolConfig())
}

// OpenWithPool открывает пул через драйвер pgx и проверяет соединение.
func OpenWithPool(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return store, nil
}

// DB возвращает пул для репозиториев и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность базы; используется readiness-пробой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все ещё не применённые миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул. Повторный вызов безопасен.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// withOpTimeout сужает контекст операции до opTimeout.
func withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}
