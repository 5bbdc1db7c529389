// Package inventory holds per-product, per-size stock slots and the
// conditional decrement/increment protocol used by checkout.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrSlotNotFound      = errors.New("inventory slot not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Slot struct {
	ProductCode string `json:"product_code"`
	Size        string `json:"size"`
	Stock       int    `json:"stock"`
	// NUMERIC -> string
	PriceAdjust string `json:"price_adjust"`
	Active      bool   `json:"active"`
}

// DB is satisfied by *pgxpool.Pool and pgx.Tx, so reservation can run inside
// the order-creation transaction and release inside the cancel transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Reserve conditionally decrements a slot. The WHERE clause carries the
// stock >= qty guard; a plain read-then-write would race under concurrent
// checkouts of the same slot. RowsAffected distinguishes success from
// refusal, and a follow-up existence check splits "no such active slot"
// from "not enough stock".
func Reserve(ctx context.Context, db DB, code, size string, qty int) error {
	tag, err := db.Exec(ctx, `
    UPDATE product_sizes
    SET stock = stock - $3
    WHERE product_code = $1 AND size = $2 AND active AND stock >= $3
  `, code, size, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var one int
	err = db.QueryRow(ctx, `
    SELECT 1 FROM product_sizes WHERE product_code = $1 AND size = $2 AND active
  `, code, size).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSlotNotFound
	}
	if err != nil {
		return err
	}
	return ErrInsufficientStock
}

// Release re-increments a slot after a cancelled order. Must be called
// exactly once per successful Reserve of a cancelled order.
func Release(ctx context.Context, db DB, code, size string, qty int) error {
	tag, err := db.Exec(ctx, `
    UPDATE product_sizes
    SET stock = stock + $3
    WHERE product_code = $1 AND size = $2
  `, code, size, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

type Repository interface {
	Get(ctx context.Context, code, size string) (*Slot, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Get(ctx context.Context, code, size string) (*Slot, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var s Slot
	err := r.db.QueryRow(ctx, `
    SELECT product_code, size, stock, price_adjust::text, active
    FROM product_sizes WHERE product_code = $1 AND size = $2 AND active
  `, code, size).Scan(&s.ProductCode, &s.Size, &s.Stock, &s.PriceAdjust, &s.Active)
	if err != nil {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}
