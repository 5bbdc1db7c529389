package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tenisdos/shop-checkout/internal/inventory"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyTerminal is returned by the conditional status updates when
	// another path (capture vs webhook) already moved the order to a terminal
	// state. The loser must apply no further side effects.
	ErrAlreadyTerminal = errors.New("order already in terminal state")
)

type Repository interface {
	// CreateWithLines reserves inventory for every line and inserts the
	// order (PENDING) plus its lines in one transaction. Any line failing
	// the conditional decrement rolls the whole reservation back.
	CreateWithLines(ctx context.Context, o *Order, lines []Line) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error)
	GetLines(ctx context.Context, orderID string) ([]Line, error)
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]Order, error)
	// MarkPendingPayment records the provider order id, moves
	// PENDING -> PENDING_PAYMENT and opens the payment record.
	MarkPendingPayment(ctx context.Context, orderID, providerOrderID, provider string) error
	// CompleteCapture moves PENDING_PAYMENT -> COMPLETED, completes the
	// payment record and credits the customer's cumulative spend, all in one
	// transaction keyed on the conditional status update.
	CompleteCapture(ctx context.Context, orderID, captureID string) error
	// Cancel moves a non-terminal order to CANCELLED and releases the
	// reserved inventory in the same transaction.
	Cancel(ctx context.Context, orderID string) error
	GetPayment(ctx context.Context, orderID string) (*Payment, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) CreateWithLines(ctx context.Context, o *Order, lines []Line) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ln := range lines {
		if err := inventory.Reserve(ctx, tx, ln.ProductCode, ln.Size, ln.Quantity); err != nil {
			return fmt.Errorf("reserve %s/%s: %w", ln.ProductCode, ln.Size, err)
		}
	}

	if _, err := tx.Exec(ctx, `
    INSERT INTO orders (id, customer_id, status, total, created_at, updated_at)
    VALUES ($1,$2,$3,$4,NOW(),NOW())
  `, o.ID, o.CustomerID, o.Status, o.Total); err != nil {
		return err
	}

	for _, ln := range lines {
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_lines (id, order_id, product_code, size, quantity, unit_price)
      VALUES ($1,$2,$3,$4,$5,$6)
    `, ln.ID, o.ID, ln.ProductCode, ln.Size, ln.Quantity, ln.UnitPrice); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	return r.getBy(ctx, `WHERE id=$1`, id)
}

func (r *PGRepo) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error) {
	return r.getBy(ctx, `WHERE provider_order_id=$1`, providerOrderID)
}

func (r *PGRepo) getBy(ctx context.Context, where string, arg any) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var o Order
	err := r.db.QueryRow(ctx, `
    SELECT id, customer_id, COALESCE(provider_order_id,''), status, total::text, created_at, updated_at
    FROM orders `+where, arg,
	).Scan(&o.ID, &o.CustomerID, &o.ProviderOrderID, &o.Status, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PGRepo) GetLines(ctx context.Context, orderID string) ([]Line, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, product_code, size, quantity, unit_price::text
    FROM order_lines WHERE order_id=$1
  `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var ln Line
		if err := rows.Scan(&ln.ID, &ln.OrderID, &ln.ProductCode, &ln.Size, &ln.Quantity, &ln.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, ln)
	}
	return out, rows.Err()
}

func (r *PGRepo) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.Query(ctx, `
    SELECT id, customer_id, COALESCE(provider_order_id,''), status, total::text, created_at, updated_at
    FROM orders WHERE customer_id=$1
    ORDER BY created_at DESC LIMIT $2 OFFSET $3
  `, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.ProviderOrderID, &o.Status, &o.Total, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PGRepo) MarkPendingPayment(ctx context.Context, orderID, providerOrderID, provider string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
    UPDATE orders
    SET status = $3, provider_order_id = $2, updated_at = NOW()
    WHERE id = $1 AND status = $4
  `, orderID, providerOrderID, StatusPendingPayment, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.terminalOrMissing(ctx, tx, orderID)
	}

	if _, err := tx.Exec(ctx, `
    INSERT INTO payments (id, order_id, customer_id, amount, provider, status, created_at)
    SELECT gen_random_uuid(), o.id, o.customer_id, o.total, $2, $3, NOW()
    FROM orders o WHERE o.id = $1
  `, orderID, provider, StatusPending); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) CompleteCapture(ctx context.Context, orderID, captureID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Whichever reconciler (client capture or webhook) wins this conditional
	// update applies the completion side effects exactly once.
	tag, err := tx.Exec(ctx, `
    UPDATE orders SET status = $2, updated_at = NOW()
    WHERE id = $1 AND status = $3
  `, orderID, StatusCompleted, StatusPendingPayment)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.terminalOrMissing(ctx, tx, orderID)
	}

	if _, err := tx.Exec(ctx, `
    UPDATE payments SET status = $2, capture_id = $3
    WHERE order_id = $1 AND status = $4
  `, orderID, StatusCompleted, captureID, StatusPending); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
    UPDATE customers c
    SET total_spend = c.total_spend + o.total, updated_at = NOW()
    FROM orders o
    WHERE o.id = $1 AND c.id = o.customer_id
  `, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) Cancel(ctx context.Context, orderID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
    UPDATE orders SET status = $2, updated_at = NOW()
    WHERE id = $1 AND status IN ($3, $4)
  `, orderID, StatusCancelled, StatusPending, StatusPendingPayment)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.terminalOrMissing(ctx, tx, orderID)
	}

	rows, err := tx.Query(ctx, `
    SELECT product_code, size, quantity FROM order_lines WHERE order_id=$1
  `, orderID)
	if err != nil {
		return err
	}
	type rel struct {
		code, size string
		qty        int
	}
	var rels []rel
	for rows.Next() {
		var x rel
		if err := rows.Scan(&x.code, &x.size, &x.qty); err != nil {
			rows.Close()
			return err
		}
		rels = append(rels, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, x := range rels {
		if err := inventory.Release(ctx, tx, x.code, x.size, x.qty); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
    UPDATE payments SET status = $2 WHERE order_id = $1 AND status = $3
  `, orderID, StatusCancelled, StatusPending); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) GetPayment(ctx context.Context, orderID string) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p Payment
	err := r.db.QueryRow(ctx, `
    SELECT id, order_id, customer_id, amount::text, provider, status, COALESCE(capture_id,''), created_at
    FROM payments WHERE order_id=$1
    ORDER BY created_at DESC LIMIT 1
  `, orderID).Scan(&p.ID, &p.OrderID, &p.CustomerID, &p.Amount, &p.Provider, &p.Status, &p.CaptureID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PGRepo) terminalOrMissing(ctx context.Context, tx pgx.Tx, orderID string) error {
	var st Status
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyTerminal
}
