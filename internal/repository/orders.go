package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmoiron/sqlx"
)

// OrdersRepository is the producing side's aggregate table. SetStatus is the
// representative business mutation; MarkBlocked and Cancel are the
// compensation paths for undeliverable order events.
type OrdersRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, o model.Order) error
	GetByID(ctx context.Context, id string) (*model.Order, error)
	SetStatus(ctx context.Context, tx *sqlx.Tx, id string, status model.OrderStatus) error

	// MarkBlocked quarantines the order with a reason. Fails when the order
	// (or the blocked_reason column, on a drifted schema) is missing.
	MarkBlocked(ctx context.Context, tx *sqlx.Tx, id, reason string) error

	// Cancel is the drastic fallback when MarkBlocked cannot be applied.
	Cancel(ctx context.Context, tx *sqlx.Tx, id string) error
}

type OrdersRepositoryImpl struct {
	db *sqlx.DB
}

func NewOrdersRepository(db *sqlx.DB) *OrdersRepositoryImpl {
	return &OrdersRepositoryImpl{db: db}
}

var _ OrdersRepository = (*OrdersRepositoryImpl)(nil)

func (r *OrdersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, o model.Order) error {
	const q = `
		INSERT INTO orders (id, customer_id, assignee_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())
	`
	if tx == nil {
		return ErrTxRequired
	}
	_, err := tx.ExecContext(ctx, q, o.ID, o.CustomerID, o.AssigneeID, o.Status.String())
	return err
}

func (r *OrdersRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Order, error) {
	const q = `
		SELECT id, customer_id, assignee_id, status, blocked_reason, created_at, updated_at
		  FROM orders
		 WHERE id = ? LIMIT 1
	`
	var o model.Order
	err := r.db.GetContext(ctx, &o, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrdersRepositoryImpl) SetStatus(ctx context.Context, tx *sqlx.Tx, id string, status model.OrderStatus) error {
	if tx == nil {
		return ErrTxRequired
	}
	const q = `UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, status.String(), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *OrdersRepositoryImpl) MarkBlocked(ctx context.Context, tx *sqlx.Tx, id, reason string) error {
	if tx == nil {
		return ErrTxRequired
	}
	const q = `
		UPDATE orders
		   SET status = ?, blocked_reason = ?, updated_at = NOW()
		 WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, q, model.OrderStatusBlocked.String(), reason, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *OrdersRepositoryImpl) Cancel(ctx context.Context, tx *sqlx.Tx, id string) error {
	if tx == nil {
		return ErrTxRequired
	}
	const q = `UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ?`
	_, err := tx.ExecContext(ctx, q, model.OrderStatusCanceled.String(), id)
	return err
}

var errNoSuchRow = errors.New("no matching row")

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNoSuchRow
	}
	return nil
}
