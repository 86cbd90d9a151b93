package memory

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

type outboxRow struct {
	msg      domain.OutboxMessage
	status   domain.OutboxStatus
	seq      uint64
	attempts int
	queuedAt time.Time
}

// OutboxRepository держит outbox в памяти процесса. Порядок выдачи задаёт
// монотонный seq, как в PostgreSQL-реализации; аренды нет, так как воркер один.
type OutboxRepository struct {
	mu   sync.Mutex
	seq  uint64
	rows map[string]*outboxRow
	now  func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		rows: make(map[string]*outboxRow),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	msg, err := msg.PrepareForEnqueue()
	if err != nil {
		return domain.OutboxMessage{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.rows[msg.ID]; taken {
		return domain.OutboxMessage{}, fmt.Errorf("%w: duplicate id %s", domain.ErrInvalidOutboxMessage, msg.ID)
	}
	r.seq++
	r.rows[msg.ID] = &outboxRow{msg: msg, status: domain.OutboxStatusPending, seq: r.seq, queuedAt: r.now()}
	return cloneMessage(msg), nil
}

func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.pending()
	out := make([]domain.OutboxMessage, 0, min(limit, len(pending)))
	for _, row := range pending[:min(limit, len(pending))] {
		out = append(out, cloneMessage(row.msg))
	}
	return out, nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.pending()
	if len(pending) == 0 {
		return domain.OutboxStats{}, nil
	}
	return domain.OutboxStats{PendingCount: len(pending), OldestPendingAt: pending[0].queuedAt}, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.transition(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.transition(id, domain.OutboxStatusFailed)
}

// AllPending возвращает весь backlog; нужен тестам.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	msgs, _ := r.PullPending(int(^uint(0) >> 1))
	return msgs
}

// Status сообщает текущее состояние события.
func (r *OutboxRepository) Status(id string) (domain.OutboxStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return "", false
	}
	return row.status, true
}

func (r *OutboxRepository) transition(id string, to domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok || row.status != domain.OutboxStatusPending {
		return fmt.Errorf("%w: outbox message %s is not pending", domain.ErrOutboxPublish, id)
	}
	row.status = to
	row.attempts++
	return nil
}

func (r *OutboxRepository) pending() []*outboxRow {
	var out []*outboxRow
	for _, row := range r.rows {
		if row.status == domain.OutboxStatusPending {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b *outboxRow) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

func cloneMessage(msg domain.OutboxMessage) domain.OutboxMessage {
	msg.Payload = slices.Clone(msg.Payload)
	return msg
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
