package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

const pgUniqueViolation = "23505"

const orderItemColumns = `order_id, product_id, ordered_quantity, active, created_at, updated_at`

type orderItemRepository struct {
	db *sql.DB
}

// NewOrderItemRepository создаёт PostgreSQL-реализацию OrderItemRepository.
// Уникальность ключа обеспечивает первичный ключ (order_id, product_id).
func NewOrderItemRepository(store *Store) domain.OrderItemRepository {
	return &orderItemRepository{db: store.DB()}
}

func (r *orderItemRepository) Insert(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_items (`+orderItemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6)
	`,
		item.OrderID, item.ProductID, item.OrderedQuantity, item.Active, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.OrderItem{}, domain.ErrDuplicateItem
		}
		return domain.OrderItem{}, fmt.Errorf("insert order item %s: %w", item.Key(), err)
	}

	return item, nil
}

func (r *orderItemRepository) FindByKey(ctx context.Context, key domain.ItemKey) (domain.OrderItem, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderItemColumns+`
		FROM order_items
		WHERE order_id = $1 AND product_id = $2
	`, key.OrderID, key.ProductID)

	item, err := scanOrderItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderItem{}, domain.ErrOrderItemNotFound
		}
		return domain.OrderItem{}, fmt.Errorf("select order item %s: %w", key, err)
	}
	return item, nil
}

func (r *orderItemRepository) FindAllActive(ctx context.Context) ([]domain.OrderItem, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderItemColumns+`
		FROM order_items
		WHERE active
		ORDER BY order_id, product_id
	`)
	if err != nil {
		return nil, fmt.Errorf("select active order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		item, err := scanOrderItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

// Update меняет только active и updated_at; количество неизменно после создания.
func (r *orderItemRepository) Update(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE order_items
		SET active = $3,
		    updated_at = $4
		WHERE order_id = $1 AND product_id = $2
		RETURNING `+orderItemColumns,
		item.OrderID, item.ProductID, item.Active, item.UpdatedAt,
	)

	updated, err := scanOrderItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderItem{}, domain.ErrOrderItemNotFound
		}
		return domain.OrderItem{}, fmt.Errorf("update order item %s: %w", item.Key(), err)
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderItem(row rowScanner) (domain.OrderItem, error) {
	var item domain.OrderItem
	err := row.Scan(
		&item.OrderID,
		&item.ProductID,
		&item.OrderedQuantity,
		&item.Active,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return domain.OrderItem{}, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

var _ domain.OrderItemRepository = (*orderItemRepository)(nil)
