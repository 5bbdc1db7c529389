// Package customer stores shop accounts and the cumulative spend counter
// credited when an order completes.
package customer

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound     = errors.New("customer not found")
	ErrAlreadyExist = errors.New("customer already exists")
)

type Customer struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	TotalSpend   string    `json:"total_spend"` // NUMERIC -> string
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Repository interface {
	Create(ctx context.Context, c *Customer) error
	GetByID(ctx context.Context, id string) (*Customer, error)
	GetByEmail(ctx context.Context, email string) (*Customer, error)
	TouchLogin(ctx context.Context, id string) error
	// SetResetToken stores a password-reset token with its expiry on the
	// account matching email.
	SetResetToken(ctx context.Context, email, token string, expires time.Time) error
	// ResetPassword swaps in the new hash and clears the token, but only
	// while the token is valid and unexpired.
	ResetPassword(ctx context.Context, token, newHash string) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Create(ctx context.Context, c *Customer) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var exists int
	err := r.db.QueryRow(ctx, `SELECT 1 FROM customers WHERE email=$1`, c.Email).Scan(&exists)
	if err == nil {
		return ErrAlreadyExist
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	_, err = r.db.Exec(ctx, `
    INSERT INTO customers (id, name, email, password_hash, total_spend, active, created_at, updated_at)
    VALUES ($1,$2,$3,$4,0.00,TRUE,NOW(),NOW())
  `, c.ID, c.Name, c.Email, c.PasswordHash)
	return err
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Customer, error) {
	return r.getBy(ctx, `WHERE id=$1`, id)
}

func (r *PGRepo) GetByEmail(ctx context.Context, email string) (*Customer, error) {
	return r.getBy(ctx, `WHERE email=$1`, email)
}

func (r *PGRepo) getBy(ctx context.Context, where string, arg any) (*Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var c Customer
	err := r.db.QueryRow(ctx, `
    SELECT id, name, email, password_hash, total_spend::text, active, created_at, updated_at
    FROM customers `+where, arg,
	).Scan(&c.ID, &c.Name, &c.Email, &c.PasswordHash, &c.TotalSpend, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PGRepo) SetResetToken(ctx context.Context, email, token string, expires time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE customers SET reset_token=$2, reset_token_expires=$3, updated_at=NOW()
    WHERE email=$1
  `, email, token, expires)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) ResetPassword(ctx context.Context, token, newHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
    UPDATE customers
    SET password_hash=$2, reset_token=NULL, reset_token_expires=NULL, updated_at=NOW()
    WHERE reset_token=$1 AND reset_token_expires > NOW()
  `, token, newHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) TouchLogin(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `UPDATE customers SET last_login = NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
