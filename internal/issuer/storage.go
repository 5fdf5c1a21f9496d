package issuer

import (
	"context"
	"time"

	"github.com/ory/fosite"
	"github.com/ory/fosite/handler/oauth2"
	"github.com/ory/fosite/handler/pkce"
)

// DefaultPendingAuthorizationTTL bounds how long an authorization request may
// sit between the front door and credential proof.
const DefaultPendingAuthorizationTTL = 10 * time.Minute

// PendingAuthorization tracks a validated authorization request while the
// resource owner proves control of their email. It is keyed by an internally
// generated state, never by anything the client chose.
type PendingAuthorization struct {
	ClientID      string    `json:"client_id"`
	RedirectURI   string    `json:"redirect_uri"`
	State         string    `json:"state"`
	PKCEChallenge string    `json:"pkce_challenge"`
	PKCEMethod    string    `json:"pkce_method"`
	Scopes        []string  `json:"scopes"`
	CreatedAt     time.Time `json:"created_at"`
}

// CodeChallenge is a single-use email proof: the one-time code sent to the
// resource owner, bound to the pending authorization it belongs to.
type CodeChallenge struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the challenge can no longer be redeemed.
func (c *CodeChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Storage is everything the protocol engine and the credential flow persist:
// the fosite session stores plus pending authorizations and code challenges.
// Implementations must treat pending authorizations and challenges as
// single-use records with a TTL.
type Storage interface {
	fosite.ClientManager
	oauth2.AuthorizeCodeStorage
	oauth2.AccessTokenStorage
	oauth2.RefreshTokenStorage
	oauth2.TokenRevocationStorage
	pkce.PKCERequestStorage

	// StorePendingAuthorization stores a validated authorization request
	// under an internally generated state.
	StorePendingAuthorization(ctx context.Context, state string, pending *PendingAuthorization) error

	// LoadPendingAuthorization retrieves a pending authorization by state.
	LoadPendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error)

	// DeletePendingAuthorization removes a pending authorization.
	DeletePendingAuthorization(ctx context.Context, state string) error

	// StoreCodeChallenge stores (or replaces) the active email proof for a
	// pending authorization.
	StoreCodeChallenge(ctx context.Context, state string, challenge *CodeChallenge) error

	// LoadCodeChallenge retrieves the active email proof for a state.
	LoadCodeChallenge(ctx context.Context, state string) (*CodeChallenge, error)

	// IncrementCodeChallengeAttempts atomically counts a failed guess against
	// the active challenge and returns the new total. Concurrent wrong guesses
	// must each observe a distinct count so the attempt cap is exact.
	IncrementCodeChallengeAttempts(ctx context.Context, state string) (int, error)

	// DeleteCodeChallenge removes the email proof for a state.
	DeleteCodeChallenge(ctx context.Context, state string) error

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
}
