// Package identity maps a verified email address to a stable user identity.
// Creation is exactly-once per distinct email, enforced by a single atomic
// upsert at the storage layer.
package identity

import (
	"time"

	"github.com/torarnehave1/openauth-template/pkg/domain"
)

// User is the persisted identity record. One row per distinct email; the ID
// never changes once assigned. This core never updates a row after creation
// beyond the upsert's no-op touch, and never deletes one.
type User struct {
	ID        domain.UserID
	Email     string
	CreatedAt time.Time
}
