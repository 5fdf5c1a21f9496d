package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/torarnehave1/openauth-template/pkg/domain"
	"github.com/torarnehave1/openauth-template/pkg/platform/sentinel"
)

// PostgresUserStore persists users in PostgreSQL. The uniqueness constraint on
// email plus the ON CONFLICT upsert makes identity creation exactly-once under
// concurrent first-time registrations.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a PostgreSQL-backed user store.
func NewPostgres(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// EnsureSchema creates the user table if it does not exist.
func (s *PostgresUserStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id         UUID PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure users schema: %w", err)
	}
	return nil
}

// UpsertByEmail resolves the identifier for an email in one atomic statement.
// The DO UPDATE clause is a no-op touch; it exists so RETURNING yields the
// surviving row's id on conflict. (xmax = 0) distinguishes a fresh insert.
func (s *PostgresUserStore) UpsertByEmail(ctx context.Context, email string) (domain.UserID, bool, error) {
	var (
		rawID   string
		created bool
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = excluded.email
		RETURNING id::text, (xmax = 0)`,
		domain.NewUserID().String(), email,
	).Scan(&rawID, &created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Should be impossible given the upsert-with-return contract.
			return domain.UserID{}, false, sentinel.ErrNotFound
		}
		return domain.UserID{}, false, fmt.Errorf("upsert user by email: %w", err)
	}
	id, err := domain.ParseUserID(rawID)
	if err != nil {
		return domain.UserID{}, false, fmt.Errorf("parse stored user id: %w", err)
	}
	return id, created, nil
}

// FindByEmail returns the user row for an email.
func (s *PostgresUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	var (
		rawID     string
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, created_at FROM users WHERE email = $1`, email,
	).Scan(&rawID, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	id, err := domain.ParseUserID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse stored user id: %w", err)
	}
	return &User{ID: id, Email: email, CreatedAt: createdAt}, nil
}
