// Package session issues opaque bearer tokens for authenticated customers.
// The checkout core treats the resolved customer id as an opaque key.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tenisdos/shop-checkout/internal/httpx"
)

var ErrNotFound = errors.New("session not found or expired")

// CustomerKey is the gin context key carrying the authenticated customer id.
const CustomerKey = "customer_id"

type Store interface {
	Create(ctx context.Context, customerID string, ttl time.Duration) (string, error)
	Resolve(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
}

type PGStore struct{ db *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Create(ctx context.Context, customerID string, ttl time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := uuid.NewString()
	_, err := s.db.Exec(ctx, `
    INSERT INTO sessions (token, customer_id, expires_at, created_at)
    VALUES ($1,$2,$3,NOW())
  `, token, customerID, time.Now().Add(ttl))
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *PGStore) Resolve(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var customerID string
	err := s.db.QueryRow(ctx, `
    SELECT customer_id FROM sessions WHERE token=$1 AND expires_at > NOW()
  `, token).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *PGStore) Delete(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE token=$1`, token)
	return err
}

// Token extracts the bearer token from the Authorization header.
func Token(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// RequireAuth resolves the bearer token and stores the customer id in the
// gin context, rejecting unauthenticated requests with 401.
func RequireAuth(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := Token(c.Request)
		if tok == "" {
			httpx.Error(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		customerID, err := store.Resolve(c.Request.Context(), tok)
		if err != nil {
			httpx.Error(c, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		c.Set(CustomerKey, customerID)
		c.Next()
	}
}
