package identity

import (
	"context"

	"github.com/torarnehave1/openauth-template/pkg/domain"
)

// UserStore is the single write path to the user table.
type UserStore interface {
	// UpsertByEmail inserts a user row for the email or leaves an existing
	// row untouched, and returns the resolved identifier in both cases. The
	// operation is a single atomic statement, never a read-then-write, so
	// concurrent first-time registrations for one email elect one winner.
	//
	// The returned bool is true when a new row was created.
	UpsertByEmail(ctx context.Context, email string) (domain.UserID, bool, error)

	// FindByEmail returns the user for an email, or sentinel.ErrNotFound.
	FindByEmail(ctx context.Context, email string) (*User, error)
}
