// Package domain holds the identifier and subject types shared across the
// service. IDs are typed wrappers around UUIDs so that values for different
// entities cannot be confused at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "github.com/torarnehave1/openauth-template/pkg/domain-errors"
)

// UserID identifies a persisted user. It never changes once assigned.
type UserID uuid.UUID

// NewUserID generates a fresh random user identifier.
func NewUserID() UserID {
	return UserID(uuid.New())
}

// ParseUserID validates and parses a user ID string.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(u), nil
}

func (id UserID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the ID is the nil UUID.
func (id UserID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}
