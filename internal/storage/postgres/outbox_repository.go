package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

const (
	defaultOutboxBatch = 100
	// defaultOutboxLease: сколько строка закреплена за воркером после выдачи.
	// Если воркер упал до MarkSent/MarkFailed, строку заберёт следующий опрос.
	defaultOutboxLease = 30 * time.Second
)

const (
	enqueueOutboxSQL = `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)`

	// claimOutboxSQL выдаёт pending-строки с истёкшей арендой. SKIP LOCKED
	// не даёт двум инстансам получить одну и ту же строку.
	claimOutboxSQL = `
		UPDATE outbox_messages
		SET locked_until = $2
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'pending' AND (locked_until IS NULL OR locked_until <= $3)
			ORDER BY seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING seq, id, aggregate_type, aggregate_id, event_type, payload`

	outboxStatsSQL = `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status = 'pending'`

	markOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, locked_until = NULL, updated_at = $3
		WHERE id = $1 AND status = 'pending'`
)

type outboxRepository struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
// События выдаются в порядке seq, то есть в порядке постановки.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{
		db:    store.DB(),
		lease: defaultOutboxLease,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	msg, err := msg.PrepareForEnqueue()
	if err != nil {
		return domain.OutboxMessage{}, err
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	if _, err := r.db.ExecContext(ctx, enqueueOutboxSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
	); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for order item %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending закрепляет за вызывающим до limit событий на время аренды.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	now := r.now()
	rows, err := r.db.QueryContext(ctx, claimOutboxSQL, limit, now.Add(r.lease), now)
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		seq int64
		msg domain.OutboxMessage
	}
	var batch []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.seq, &c.msg.ID, &c.msg.AggregateType, &c.msg.AggregateID, &c.msg.EventType, &c.msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox messages: %w", err)
	}

	// RETURNING не сохраняет порядок подзапроса.
	slices.SortFunc(batch, func(a, b claimed) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]domain.OutboxMessage, 0, len(batch))
	for _, c := range batch {
		out = append(out, c.msg)
	}
	return out, nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, outboxStatsSQL).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("query outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.mark(id, domain.OutboxStatusSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.mark(id, domain.OutboxStatusFailed)
}

// mark закрывает только pending-строку: повторная отметка считается ошибкой публикации.
func (r *outboxRepository) mark(id string, status domain.OutboxStatus) error {
	ctx, cancel := withOpTimeout(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, markOutboxSQL, id, string(status), r.now())
	if err != nil {
		return fmt.Errorf("mark outbox message %s as %s: %w", id, status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox message %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: outbox message %s is not pending", domain.ErrOutboxPublish, id)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
