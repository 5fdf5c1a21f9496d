package issuer

import (
	"context"
	"sync"
	"time"

	"github.com/ory/fosite"

	"github.com/torarnehave1/openauth-template/internal/registry"
	"github.com/torarnehave1/openauth-template/pkg/platform/sentinel"
)

// Default TTLs when the session carries no expiry of its own.
const (
	defaultAuthorizeCodeTTL   = 10 * time.Minute
	defaultAccessTokenTTL     = time.Hour
	defaultRefreshTokenTTL    = 30 * 24 * time.Hour
	defaultInvalidatedCodeTTL = 24 * time.Hour
)

type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryStorage is the single-process Storage implementation used for
// development and tests. One mutex guards every table; the hot path is a map
// lookup, so finer locking buys nothing.
type MemoryStorage struct {
	clients *clientDirectory

	mu               sync.RWMutex
	authCodes        map[string]*timedEntry[fosite.Requester]
	invalidatedCodes map[string]*timedEntry[bool]
	accessTokens     map[string]*timedEntry[fosite.Requester]
	refreshTokens    map[string]*timedEntry[fosite.Requester]
	pkceRequests     map[string]*timedEntry[fosite.Requester]
	pending          map[string]*timedEntry[*PendingAuthorization]
	challenges       map[string]*timedEntry[*CodeChallenge]
	jtis             map[string]time.Time
}

// NewMemoryStorage creates empty in-memory storage over the given registry.
func NewMemoryStorage(reg *registry.Registry) *MemoryStorage {
	return &MemoryStorage{
		clients:          &clientDirectory{registry: reg},
		authCodes:        make(map[string]*timedEntry[fosite.Requester]),
		invalidatedCodes: make(map[string]*timedEntry[bool]),
		accessTokens:     make(map[string]*timedEntry[fosite.Requester]),
		refreshTokens:    make(map[string]*timedEntry[fosite.Requester]),
		pkceRequests:     make(map[string]*timedEntry[fosite.Requester]),
		pending:          make(map[string]*timedEntry[*PendingAuthorization]),
		challenges:       make(map[string]*timedEntry[*CodeChallenge]),
		jtis:             make(map[string]time.Time),
	}
}

// Ping always succeeds; there is no backend to reach.
func (*MemoryStorage) Ping(context.Context) error { return nil }

// ---- fosite.ClientManager ----

func (s *MemoryStorage) GetClient(ctx context.Context, id string) (fosite.Client, error) {
	return s.clients.GetClient(ctx, id)
}

// ClientAssertionJWTValid returns an error when the JTI has been seen before
// and has not yet expired.
func (s *MemoryStorage) ClientAssertionJWTValid(_ context.Context, jti string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if exp, ok := s.jtis[jti]; ok && time.Now().Before(exp) {
		return fosite.ErrJTIKnown
	}
	return nil
}

// SetClientAssertionJWT marks a JTI as used until the given expiry.
func (s *MemoryStorage) SetClientAssertionJWT(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jtis[jti] = exp
	return nil
}

// ---- oauth2.AuthorizeCodeStorage ----

func (s *MemoryStorage) CreateAuthorizeCodeSession(_ context.Context, code string, request fosite.Requester) error {
	if code == "" {
		return fosite.ErrInvalidRequest.WithHint("authorization code cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code] = &timedEntry[fosite.Requester]{
		value:     request,
		expiresAt: sessionExpiry(request, fosite.AuthorizeCode, defaultAuthorizeCodeTTL),
	}
	return nil
}

// GetAuthorizeCodeSession returns the stored request. For a code that was
// already redeemed it returns the request together with
// fosite.ErrInvalidatedAuthorizeCode, which the engine requires to detect
// replay.
func (s *MemoryStorage) GetAuthorizeCodeSession(_ context.Context, code string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.authCodes[code]
	if !ok || entry.expired(time.Now()) {
		return nil, fosite.ErrNotFound.WithHint("authorization code not found")
	}
	if s.invalidatedCodes[code] != nil {
		return entry.value, fosite.ErrInvalidatedAuthorizeCode
	}
	return entry.value, nil
}

func (s *MemoryStorage) InvalidateAuthorizeCodeSession(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authCodes[code]; !ok {
		return fosite.ErrNotFound.WithHint("authorization code not found")
	}
	s.invalidatedCodes[code] = &timedEntry[bool]{
		value:     true,
		expiresAt: time.Now().Add(defaultInvalidatedCodeTTL),
	}
	return nil
}

// ---- oauth2.AccessTokenStorage ----

func (s *MemoryStorage) CreateAccessTokenSession(_ context.Context, signature string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("access token signature cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[signature] = &timedEntry[fosite.Requester]{
		value:     request,
		expiresAt: sessionExpiry(request, fosite.AccessToken, defaultAccessTokenTTL),
	}
	return nil
}

func (s *MemoryStorage) GetAccessTokenSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.accessTokens[signature]
	if !ok || entry.expired(time.Now()) {
		return nil, fosite.ErrNotFound.WithHint("access token not found")
	}
	return entry.value, nil
}

func (s *MemoryStorage) DeleteAccessTokenSession(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accessTokens[signature]; !ok {
		return fosite.ErrNotFound.WithHint("access token not found")
	}
	delete(s.accessTokens, signature)
	return nil
}

// ---- oauth2.RefreshTokenStorage ----

func (s *MemoryStorage) CreateRefreshTokenSession(_ context.Context, signature string, _ string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("refresh token signature cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[signature] = &timedEntry[fosite.Requester]{
		value:     request,
		expiresAt: sessionExpiry(request, fosite.RefreshToken, defaultRefreshTokenTTL),
	}
	return nil
}

func (s *MemoryStorage) GetRefreshTokenSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.refreshTokens[signature]
	if !ok || entry.expired(time.Now()) {
		return nil, fosite.ErrNotFound.WithHint("refresh token not found")
	}
	return entry.value, nil
}

func (s *MemoryStorage) DeleteRefreshTokenSession(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[signature]; !ok {
		return fosite.ErrNotFound.WithHint("refresh token not found")
	}
	delete(s.refreshTokens, signature)
	return nil
}

// RotateRefreshToken drops the presented refresh token and every access token
// minted from the same grant.
func (s *MemoryStorage) RotateRefreshToken(_ context.Context, requestID string, refreshTokenSignature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, refreshTokenSignature)
	for sig, entry := range s.accessTokens {
		if entry.value.GetID() == requestID {
			delete(s.accessTokens, sig)
		}
	}
	return nil
}

// ---- oauth2.TokenRevocationStorage ----

func (s *MemoryStorage) RevokeAccessToken(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sig, entry := range s.accessTokens {
		if entry.value.GetID() == requestID {
			delete(s.accessTokens, sig)
		}
	}
	return nil
}

func (s *MemoryStorage) RevokeRefreshToken(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sig, entry := range s.refreshTokens {
		if entry.value.GetID() == requestID {
			delete(s.refreshTokens, sig)
		}
	}
	return nil
}

func (s *MemoryStorage) RevokeRefreshTokenMaybeGracePeriod(ctx context.Context, requestID string, _ string) error {
	// No grace period: revoke immediately.
	return s.RevokeRefreshToken(ctx, requestID)
}

// ---- pkce.PKCERequestStorage ----

func (s *MemoryStorage) CreatePKCERequestSession(_ context.Context, signature string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("PKCE signature cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pkceRequests[signature] = &timedEntry[fosite.Requester]{
		value:     request,
		expiresAt: sessionExpiry(request, fosite.AuthorizeCode, defaultAuthorizeCodeTTL),
	}
	return nil
}

func (s *MemoryStorage) GetPKCERequestSession(_ context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.pkceRequests[signature]
	if !ok || entry.expired(time.Now()) {
		return nil, fosite.ErrNotFound.WithHint("PKCE request not found")
	}
	return entry.value, nil
}

func (s *MemoryStorage) DeletePKCERequestSession(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pkceRequests[signature]; !ok {
		return fosite.ErrNotFound.WithHint("PKCE request not found")
	}
	delete(s.pkceRequests, signature)
	return nil
}

// ---- pending authorizations ----

func (s *MemoryStorage) StorePendingAuthorization(_ context.Context, state string, pending *PendingAuthorization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[state] = &timedEntry[*PendingAuthorization]{
		value:     pending,
		expiresAt: time.Now().Add(DefaultPendingAuthorizationTTL),
	}
	return nil
}

func (s *MemoryStorage) LoadPendingAuthorization(_ context.Context, state string) (*PendingAuthorization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.pending[state]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if entry.expired(time.Now()) {
		return nil, sentinel.ErrExpired
	}
	copied := *entry.value
	return &copied, nil
}

func (s *MemoryStorage) DeletePendingAuthorization(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, state)
	return nil
}

// ---- code challenges ----

func (s *MemoryStorage) StoreCodeChallenge(_ context.Context, state string, challenge *CodeChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *challenge
	s.challenges[state] = &timedEntry[*CodeChallenge]{
		value:     &copied,
		expiresAt: challenge.ExpiresAt,
	}
	return nil
}

func (s *MemoryStorage) LoadCodeChallenge(_ context.Context, state string) (*CodeChallenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.challenges[state]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if entry.expired(time.Now()) {
		return nil, sentinel.ErrExpired
	}
	copied := *entry.value
	return &copied, nil
}

func (s *MemoryStorage) IncrementCodeChallengeAttempts(_ context.Context, state string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.challenges[state]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	if entry.expired(time.Now()) {
		return 0, sentinel.ErrExpired
	}
	entry.value.Attempts++
	return entry.value.Attempts, nil
}

func (s *MemoryStorage) DeleteCodeChallenge(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, state)
	return nil
}

// sessionExpiry reads the token expiry from the request's session, falling
// back to a default TTL when the session carries none.
func sessionExpiry(request fosite.Requester, tokenType fosite.TokenType, defaultTTL time.Duration) time.Time {
	if request != nil {
		if session := request.GetSession(); session != nil {
			if exp := session.GetExpiresAt(tokenType); !exp.IsZero() {
				return exp
			}
		}
	}
	return time.Now().Add(defaultTTL)
}
