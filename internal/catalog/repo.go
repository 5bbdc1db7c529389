// Package catalog is the read-only product surface consulted at cart-display
// time. Checkout never re-reads it after the cart snapshot is taken.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("product not found")

// Kind partitions the catalog the way the shop sells it.
const (
	KindOriginal = "original"
	KindReplica  = "replica"
)

type Product struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	Price      string `json:"price"` // NUMERIC -> string
	Kind       string `json:"kind"`
	StockLevel int    `json:"stock_level"`
}

// SizeInfo is the per-size availability shown on the product page.
type SizeInfo struct {
	Size        string `json:"size"`
	Stock       int    `json:"stock"`
	PriceAdjust string `json:"price_adjust"`
	Active      bool   `json:"active"`
}

type Repository interface {
	ListByKind(ctx context.Context, kind string) ([]Product, error)
	ListByPrice(ctx context.Context, ascending bool) ([]Product, error)
	GetWithSizes(ctx context.Context, code string) (*Product, []SizeInfo, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) ListByKind(ctx context.Context, kind string) ([]Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT DISTINCT p.id, p.code, p.name, p.price::text, p.kind, p.stock_level
    FROM products p
    JOIN product_sizes ps ON ps.product_code = p.code AND ps.active AND ps.stock > 0
    WHERE p.kind = $1
    ORDER BY p.name
  `, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

func (r *PGRepo) ListByPrice(ctx context.Context, ascending bool) ([]Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dir := "DESC"
	if ascending {
		dir = "ASC"
	}
	rows, err := r.db.Query(ctx, `
    SELECT id, code, name, price::text, kind, stock_level
    FROM products ORDER BY price `+dir)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProducts(rows)
}

func (r *PGRepo) GetWithSizes(ctx context.Context, code string) (*Product, []SizeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p Product
	err := r.db.QueryRow(ctx, `
    SELECT id, code, name, price::text, kind, stock_level
    FROM products WHERE code=$1
  `, code).Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Kind, &p.StockLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := r.db.Query(ctx, `
    SELECT size, stock, price_adjust::text, active
    FROM product_sizes WHERE product_code=$1 AND active AND stock > 0
    ORDER BY size
  `, code)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var sizes []SizeInfo
	for rows.Next() {
		var s SizeInfo
		if err := rows.Scan(&s.Size, &s.Stock, &s.PriceAdjust, &s.Active); err != nil {
			return nil, nil, err
		}
		sizes = append(sizes, s)
	}
	return &p, sizes, rows.Err()
}

func scanProducts(rows pgx.Rows) ([]Product, error) {
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.Kind, &p.StockLevel); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
