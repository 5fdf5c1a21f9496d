package issuer

import (
	"context"
	"testing"
	"time"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/torarnehave1/openauth-template/internal/platform/config"
	"github.com/torarnehave1/openauth-template/internal/registry"
	"github.com/torarnehave1/openauth-template/pkg/platform/sentinel"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]config.ClientEntry{
		{ClientID: "test-client", RedirectURIs: []string{"http://localhost:3000/callback"}},
	})
	require.NoError(t, err)
	return reg
}

func newStoredRequest(t *testing.T, store *MemoryStorage) fosite.Requester {
	t.Helper()
	client, err := store.GetClient(context.Background(), "test-client")
	require.NoError(t, err)

	request := fosite.NewRequest()
	request.Client = client
	request.Session = &fosite.DefaultSession{Subject: "user:test"}
	return request
}

func TestMemoryStorage_AuthorizeCodeLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(newTestRegistry(t))
	request := newStoredRequest(t, store)

	_, err := store.GetAuthorizeCodeSession(ctx, "missing", nil)
	require.Error(t, err)

	require.NoError(t, store.CreateAuthorizeCodeSession(ctx, "code-1", request))

	got, err := store.GetAuthorizeCodeSession(ctx, "code-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "user:test", got.GetSession().GetSubject())

	require.NoError(t, store.InvalidateAuthorizeCodeSession(ctx, "code-1"))

	// A redeemed code must surface both the request and the replay error.
	got, err = store.GetAuthorizeCodeSession(ctx, "code-1", nil)
	require.ErrorIs(t, err, fosite.ErrInvalidatedAuthorizeCode)
	require.NotNil(t, got)
}

func TestMemoryStorage_TokenSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(newTestRegistry(t))
	request := newStoredRequest(t, store)

	require.NoError(t, store.CreateAccessTokenSession(ctx, "at-sig", request))
	require.NoError(t, store.CreateRefreshTokenSession(ctx, "rt-sig", "at-sig", request))

	_, err := store.GetAccessTokenSession(ctx, "at-sig", nil)
	require.NoError(t, err)
	_, err = store.GetRefreshTokenSession(ctx, "rt-sig", nil)
	require.NoError(t, err)

	// Rotation drops the refresh token and every access token of the grant.
	require.NoError(t, store.RotateRefreshToken(ctx, request.GetID(), "rt-sig"))
	_, err = store.GetRefreshTokenSession(ctx, "rt-sig", nil)
	require.Error(t, err)
	_, err = store.GetAccessTokenSession(ctx, "at-sig", nil)
	require.Error(t, err)
}

func TestMemoryStorage_Revocation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(newTestRegistry(t))
	request := newStoredRequest(t, store)

	require.NoError(t, store.CreateAccessTokenSession(ctx, "at-sig", request))
	require.NoError(t, store.RevokeAccessToken(ctx, request.GetID()))
	_, err := store.GetAccessTokenSession(ctx, "at-sig", nil)
	require.Error(t, err)

	require.NoError(t, store.CreateRefreshTokenSession(ctx, "rt-sig", "", request))
	require.NoError(t, store.RevokeRefreshTokenMaybeGracePeriod(ctx, request.GetID(), "rt-sig"))
	_, err = store.GetRefreshTokenSession(ctx, "rt-sig", nil)
	require.Error(t, err)
}

func TestMemoryStorage_PendingAuthorization(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(newTestRegistry(t))

	_, err := store.LoadPendingAuthorization(ctx, "missing")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	pending := &PendingAuthorization{
		ClientID:    "test-client",
		RedirectURI: "http://localhost:3000/callback",
		State:       "client-state",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.StorePendingAuthorization(ctx, "internal-state", pending))

	loaded, err := store.LoadPendingAuthorization(ctx, "internal-state")
	require.NoError(t, err)
	assert.Equal(t, "test-client", loaded.ClientID)

	// The returned record is a copy.
	loaded.ClientID = "mutated"
	again, err := store.LoadPendingAuthorization(ctx, "internal-state")
	require.NoError(t, err)
	assert.Equal(t, "test-client", again.ClientID)

	require.NoError(t, store.DeletePendingAuthorization(ctx, "internal-state"))
	_, err = store.LoadPendingAuthorization(ctx, "internal-state")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStorage_CodeChallengeExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(newTestRegistry(t))

	live := &CodeChallenge{Email: "alice@example.com", Code: "123456", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, store.StoreCodeChallenge(ctx, "live", live))
	loaded, err := store.LoadCodeChallenge(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "123456", loaded.Code)

	stale := &CodeChallenge{Email: "alice@example.com", Code: "654321", ExpiresAt: time.Now().Add(-time.Second)}
	require.NoError(t, store.StoreCodeChallenge(ctx, "stale", stale))
	_, err = store.LoadCodeChallenge(ctx, "stale")
	require.ErrorIs(t, err, sentinel.ErrExpired)
}

func TestMemoryStorage_ChallengeAttemptsAreExact(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(newTestRegistry(t))

	_, err := store.IncrementCodeChallengeAttempts(ctx, "missing")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	challenge := &CodeChallenge{Email: "alice@example.com", Code: "123456", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, store.StoreCodeChallenge(ctx, "state-1", challenge))

	// Concurrent wrong guesses must each land on a distinct count so the
	// attempt cap cannot be raced past.
	const guesses = 25
	var g errgroup.Group
	for i := 0; i < guesses; i++ {
		g.Go(func() error {
			_, err := store.IncrementCodeChallengeAttempts(ctx, "state-1")
			return err
		})
	}
	require.NoError(t, g.Wait())

	n, err := store.IncrementCodeChallengeAttempts(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, guesses+1, n)

	// Replacing the challenge resets the counter.
	require.NoError(t, store.StoreCodeChallenge(ctx, "state-1", challenge))
	n, err = store.IncrementCodeChallengeAttempts(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStorage_ClientAssertionJTI(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage(newTestRegistry(t))

	require.NoError(t, store.ClientAssertionJWTValid(ctx, "jti-1"))
	require.NoError(t, store.SetClientAssertionJWT(ctx, "jti-1", time.Now().Add(time.Minute)))
	require.ErrorIs(t, store.ClientAssertionJWTValid(ctx, "jti-1"), fosite.ErrJTIKnown)
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, codeDigits)
		for _, ch := range code {
			require.True(t, ch >= '0' && ch <= '9')
		}
		seen[code] = true
	}
	// 50 uniform draws from a million values should not all collide.
	assert.Greater(t, len(seen), 1)
}
