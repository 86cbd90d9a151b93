package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

const (
	// claimIdempotencySQL занимает свободный или просроченный ключ одной
	// инструкцией; гонку реплик решает первичный ключ.
	claimIdempotencySQL = `
		INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, 'processing', $3, $4, $4)
		ON CONFLICT (key) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    response_body = NULL,
		    http_status = NULL,
		    status = 'processing',
		    ttl_at = EXCLUDED.ttl_at,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.ttl_at <= $4
		RETURNING key`

	selectIdempotencySQL = `
		SELECT key, request_hash, status, http_status, response_body, ttl_at, created_at, updated_at
		FROM idempotency_keys
		WHERE key = $1 AND ttl_at > $2`

	completeIdempotencySQL = `
		UPDATE idempotency_keys
		SET status = $2, http_status = $3, response_body = $4, updated_at = $5
		WHERE key = $1 AND ttl_at > $5`

	releaseIdempotencySQL = `
		DELETE FROM idempotency_keys
		WHERE key = $1 AND status = 'processing'`

	// LIMIT NULL в PostgreSQL означает «без ограничения».
	deleteExpiredIdempotencySQL = `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)`
)

type idempotencyRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *idempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := requireKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	var claimed string
	err = r.db.QueryRowContext(ctx, claimIdempotencySQL, key, requestHash, ttlAt, now).Scan(&claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return r.conflict(key, requestHash)
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key %q: %w", key, err)
	}

	return domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// conflict описывает занятый ключ. Если запись успела истечь между
// запросами, вызывающий всё равно получает конфликт и может повторить.
func (r *idempotencyRepository) conflict(key, requestHash string) (domain.IdempotencyRecord, error) {
	held, err := r.Get(key)
	if err != nil {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	if held.RequestHash != requestHash {
		return held, domain.ErrIdempotencyHashMismatch
	}
	return held, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := requireKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	record, err := scanIdempotencyRecord(r.db.QueryRowContext(ctx, selectIdempotencySQL, key, r.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load idempotency key %q: %w", key, err)
	}
	return record, nil
}

func scanIdempotencyRecord(row *sql.Row) (domain.IdempotencyRecord, error) {
	var (
		record     domain.IdempotencyRecord
		status     string
		httpStatus sql.NullInt32
	)
	if err := row.Scan(&record.Key, &record.RequestHash, &status, &httpStatus, &record.ResponseBody,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return domain.IdempotencyRecord{}, err
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("unknown status %q", status)
	}
	record.HTTPStatus = int(httpStatus.Int32)
	return record, nil
}

func (r *idempotencyRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *idempotencyRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (r *idempotencyRepository) Release(key string) error {
	key, err := requireKey(key)
	if err != nil {
		return err
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, releaseIdempotencySQL, key)
	if err != nil {
		return fmt.Errorf("release idempotency key %q: %w", key, err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release idempotency key %q: %w", key, err)
	}
	if deleted == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

// DeleteExpired удаляет до limit записей с ttl_at <= before, самые старые первыми.
// limit <= 0 снимает ограничение.
func (r *idempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}
	var batch sql.NullInt64
	if limit > 0 {
		batch = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, deleteExpiredIdempotencySQL, before, batch)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted idempotency keys: %w", err)
	}
	return int(deleted), nil
}

func (r *idempotencyRepository) complete(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := requireKey(key)
	if err != nil {
		return err
	}
	if httpStatus < 100 || httpStatus > 599 {
		return fmt.Errorf("store idempotent response for %q: invalid http status %d", key, httpStatus)
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, completeIdempotencySQL, key, string(status), httpStatus, responseBody, r.now())
	if err != nil {
		return fmt.Errorf("store idempotent response for %q: %w", key, err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store idempotent response for %q: %w", key, err)
	}
	if updated == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func requireKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
