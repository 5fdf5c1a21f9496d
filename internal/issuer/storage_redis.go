package issuer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ory/fosite"
	"github.com/redis/go-redis/v9"

	platformredis "github.com/torarnehave1/openauth-template/internal/platform/redis"
	"github.com/torarnehave1/openauth-template/internal/registry"
	"github.com/torarnehave1/openauth-template/pkg/platform/sentinel"
)

// Redis key namespaces. One flat prefix per record type keeps SCAN-ability
// without a key registry.
const (
	keyAuthCode    = "authgate:code:"
	keyInvalidated = "authgate:invalid:"
	keyAccess      = "authgate:access:"
	keyRefresh     = "authgate:refresh:"
	keyPKCE        = "authgate:pkce:"
	keyPending     = "authgate:pending:"
	keyChallenge   = "authgate:challenge:"
	keyAttempts    = "authgate:attempts:"
	keyJTI         = "authgate:jti:"
)

// RedisStorage is the distributed Storage implementation. Sessions are stored
// as JSON with per-record TTLs taken from the session expiry, so Redis itself
// garbage-collects expired state.
type RedisStorage struct {
	clients *clientDirectory
	rdb     *platformredis.Client
}

// NewRedisStorage creates Redis-backed storage over the given registry.
func NewRedisStorage(rdb *platformredis.Client, reg *registry.Registry) *RedisStorage {
	return &RedisStorage{
		clients: &clientDirectory{registry: reg},
		rdb:     rdb,
	}
}

// Ping reports Redis reachability.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.rdb.Health(ctx)
}

// storedRequest is the JSON shape a fosite.Requester is persisted as. The
// client is stored by id and re-resolved against the registry on load, so a
// registry change invalidates stale sessions instead of resurrecting them.
type storedRequest struct {
	RequestID       string              `json:"request_id"`
	ClientID        string              `json:"client_id"`
	RequestedAt     time.Time           `json:"requested_at"`
	RequestedScopes []string            `json:"requested_scopes"`
	GrantedScopes   []string            `json:"granted_scopes"`
	Form            map[string][]string `json:"form"`
	Subject         string              `json:"subject"`
	Username        string              `json:"username"`
	ExpiresAt       map[string]int64    `json:"expires_at"`
}

func marshalRequest(request fosite.Requester) ([]byte, error) {
	stored := storedRequest{
		RequestID:       request.GetID(),
		ClientID:        request.GetClient().GetID(),
		RequestedAt:     request.GetRequestedAt(),
		RequestedScopes: request.GetRequestedScopes(),
		GrantedScopes:   request.GetGrantedScopes(),
		Form:            request.GetRequestForm(),
		ExpiresAt:       make(map[string]int64),
	}
	if session := request.GetSession(); session != nil {
		stored.Subject = session.GetSubject()
		stored.Username = session.GetUsername()
		for _, tokenType := range []fosite.TokenType{fosite.AuthorizeCode, fosite.AccessToken, fosite.RefreshToken} {
			if exp := session.GetExpiresAt(tokenType); !exp.IsZero() {
				stored.ExpiresAt[string(tokenType)] = exp.Unix()
			}
		}
	}
	return json.Marshal(stored)
}

func (s *RedisStorage) unmarshalRequest(ctx context.Context, data []byte) (fosite.Requester, error) {
	var stored storedRequest
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	client, err := s.GetClient(ctx, stored.ClientID)
	if err != nil {
		return nil, fmt.Errorf("resolve session client: %w", err)
	}

	session := &fosite.DefaultSession{
		Subject:   stored.Subject,
		Username:  stored.Username,
		ExpiresAt: make(map[fosite.TokenType]time.Time, len(stored.ExpiresAt)),
	}
	for tokenType, unix := range stored.ExpiresAt {
		session.ExpiresAt[fosite.TokenType(tokenType)] = time.Unix(unix, 0)
	}

	request := fosite.NewRequest()
	request.ID = stored.RequestID
	request.RequestedAt = stored.RequestedAt
	request.Client = client
	request.RequestedScope = fosite.Arguments(stored.RequestedScopes)
	request.GrantedScope = fosite.Arguments(stored.GrantedScopes)
	request.Form = url.Values(stored.Form)
	request.Session = session
	return request, nil
}

// requestTTL derives the Redis TTL from the session expiry for a token type.
func requestTTL(request fosite.Requester, tokenType fosite.TokenType, defaultTTL time.Duration) time.Duration {
	exp := sessionExpiry(request, tokenType, defaultTTL)
	if ttl := time.Until(exp); ttl > 0 {
		return ttl
	}
	return defaultTTL
}

// ---- fosite.ClientManager ----

func (s *RedisStorage) GetClient(ctx context.Context, id string) (fosite.Client, error) {
	return s.clients.GetClient(ctx, id)
}

func (s *RedisStorage) ClientAssertionJWTValid(ctx context.Context, jti string) error {
	exists, err := s.rdb.Exists(ctx, keyJTI+jti).Result()
	if err != nil {
		return fmt.Errorf("check jti: %w", err)
	}
	if exists > 0 {
		return fosite.ErrJTIKnown
	}
	return nil
}

func (s *RedisStorage) SetClientAssertionJWT(ctx context.Context, jti string, exp time.Time) error {
	ttl := time.Until(exp)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, keyJTI+jti, "1", ttl).Err()
}

// ---- oauth2.AuthorizeCodeStorage ----

func (s *RedisStorage) CreateAuthorizeCodeSession(ctx context.Context, code string, request fosite.Requester) error {
	if code == "" {
		return fosite.ErrInvalidRequest.WithHint("authorization code cannot be empty")
	}
	data, err := marshalRequest(request)
	if err != nil {
		return fmt.Errorf("marshal authorize code session: %w", err)
	}
	return s.rdb.Set(ctx, keyAuthCode+code, data, requestTTL(request, fosite.AuthorizeCode, defaultAuthorizeCodeTTL)).Err()
}

func (s *RedisStorage) GetAuthorizeCodeSession(ctx context.Context, code string, _ fosite.Session) (fosite.Requester, error) {
	invalidated, err := s.rdb.Exists(ctx, keyInvalidated+code).Result()
	if err != nil {
		return nil, fmt.Errorf("check invalidation: %w", err)
	}

	data, err := s.rdb.Get(ctx, keyAuthCode+code).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fosite.ErrNotFound.WithHint("authorization code not found")
		}
		return nil, fmt.Errorf("get authorize code session: %w", err)
	}

	request, err := s.unmarshalRequest(ctx, data)
	if err != nil {
		return nil, err
	}
	if invalidated > 0 {
		// The engine needs the request alongside the error to detect replay.
		return request, fosite.ErrInvalidatedAuthorizeCode
	}
	return request, nil
}

func (s *RedisStorage) InvalidateAuthorizeCodeSession(ctx context.Context, code string) error {
	exists, err := s.rdb.Exists(ctx, keyAuthCode+code).Result()
	if err != nil {
		return fmt.Errorf("check authorize code: %w", err)
	}
	if exists == 0 {
		return fosite.ErrNotFound.WithHint("authorization code not found")
	}
	return s.rdb.Set(ctx, keyInvalidated+code, "1", defaultInvalidatedCodeTTL).Err()
}

// ---- oauth2.AccessTokenStorage ----

func (s *RedisStorage) CreateAccessTokenSession(ctx context.Context, signature string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("access token signature cannot be empty")
	}
	data, err := marshalRequest(request)
	if err != nil {
		return fmt.Errorf("marshal access token session: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	ttl := requestTTL(request, fosite.AccessToken, defaultAccessTokenTTL)
	pipe.Set(ctx, keyAccess+signature, data, ttl)
	// Reverse index by request id for revocation and rotation.
	pipe.SAdd(ctx, keyAccess+"req:"+request.GetID(), signature)
	pipe.Expire(ctx, keyAccess+"req:"+request.GetID(), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStorage) GetAccessTokenSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	data, err := s.rdb.Get(ctx, keyAccess+signature).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fosite.ErrNotFound.WithHint("access token not found")
		}
		return nil, fmt.Errorf("get access token session: %w", err)
	}
	return s.unmarshalRequest(ctx, data)
}

func (s *RedisStorage) DeleteAccessTokenSession(ctx context.Context, signature string) error {
	deleted, err := s.rdb.Del(ctx, keyAccess+signature).Result()
	if err != nil {
		return fmt.Errorf("delete access token session: %w", err)
	}
	if deleted == 0 {
		return fosite.ErrNotFound.WithHint("access token not found")
	}
	return nil
}

// ---- oauth2.RefreshTokenStorage ----

func (s *RedisStorage) CreateRefreshTokenSession(ctx context.Context, signature string, _ string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("refresh token signature cannot be empty")
	}
	data, err := marshalRequest(request)
	if err != nil {
		return fmt.Errorf("marshal refresh token session: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	ttl := requestTTL(request, fosite.RefreshToken, defaultRefreshTokenTTL)
	pipe.Set(ctx, keyRefresh+signature, data, ttl)
	pipe.SAdd(ctx, keyRefresh+"req:"+request.GetID(), signature)
	pipe.Expire(ctx, keyRefresh+"req:"+request.GetID(), ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStorage) GetRefreshTokenSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	data, err := s.rdb.Get(ctx, keyRefresh+signature).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fosite.ErrNotFound.WithHint("refresh token not found")
		}
		return nil, fmt.Errorf("get refresh token session: %w", err)
	}
	return s.unmarshalRequest(ctx, data)
}

func (s *RedisStorage) DeleteRefreshTokenSession(ctx context.Context, signature string) error {
	deleted, err := s.rdb.Del(ctx, keyRefresh+signature).Result()
	if err != nil {
		return fmt.Errorf("delete refresh token session: %w", err)
	}
	if deleted == 0 {
		return fosite.ErrNotFound.WithHint("refresh token not found")
	}
	return nil
}

func (s *RedisStorage) RotateRefreshToken(ctx context.Context, requestID string, refreshTokenSignature string) error {
	if err := s.rdb.Del(ctx, keyRefresh+refreshTokenSignature).Err(); err != nil {
		return fmt.Errorf("delete rotated refresh token: %w", err)
	}
	return s.RevokeAccessToken(ctx, requestID)
}

// ---- oauth2.TokenRevocationStorage ----

func (s *RedisStorage) RevokeAccessToken(ctx context.Context, requestID string) error {
	return s.revokeByRequestID(ctx, keyAccess, requestID)
}

func (s *RedisStorage) RevokeRefreshToken(ctx context.Context, requestID string) error {
	return s.revokeByRequestID(ctx, keyRefresh, requestID)
}

func (s *RedisStorage) RevokeRefreshTokenMaybeGracePeriod(ctx context.Context, requestID string, _ string) error {
	return s.RevokeRefreshToken(ctx, requestID)
}

func (s *RedisStorage) revokeByRequestID(ctx context.Context, prefix, requestID string) error {
	indexKey := prefix + "req:" + requestID
	signatures, err := s.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("load revocation index: %w", err)
	}
	keys := make([]string, 0, len(signatures)+1)
	for _, sig := range signatures {
		keys = append(keys, prefix+sig)
	}
	keys = append(keys, indexKey)
	return s.rdb.Del(ctx, keys...).Err()
}

// ---- pkce.PKCERequestStorage ----

func (s *RedisStorage) CreatePKCERequestSession(ctx context.Context, signature string, request fosite.Requester) error {
	if signature == "" {
		return fosite.ErrInvalidRequest.WithHint("PKCE signature cannot be empty")
	}
	data, err := marshalRequest(request)
	if err != nil {
		return fmt.Errorf("marshal PKCE session: %w", err)
	}
	return s.rdb.Set(ctx, keyPKCE+signature, data, requestTTL(request, fosite.AuthorizeCode, defaultAuthorizeCodeTTL)).Err()
}

func (s *RedisStorage) GetPKCERequestSession(ctx context.Context, signature string, _ fosite.Session) (fosite.Requester, error) {
	data, err := s.rdb.Get(ctx, keyPKCE+signature).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fosite.ErrNotFound.WithHint("PKCE request not found")
		}
		return nil, fmt.Errorf("get PKCE session: %w", err)
	}
	return s.unmarshalRequest(ctx, data)
}

func (s *RedisStorage) DeletePKCERequestSession(ctx context.Context, signature string) error {
	deleted, err := s.rdb.Del(ctx, keyPKCE+signature).Result()
	if err != nil {
		return fmt.Errorf("delete PKCE session: %w", err)
	}
	if deleted == 0 {
		return fosite.ErrNotFound.WithHint("PKCE request not found")
	}
	return nil
}

// ---- pending authorizations ----

func (s *RedisStorage) StorePendingAuthorization(ctx context.Context, state string, pending *PendingAuthorization) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending authorization: %w", err)
	}
	return s.rdb.Set(ctx, keyPending+state, data, DefaultPendingAuthorizationTTL).Err()
}

func (s *RedisStorage) LoadPendingAuthorization(ctx context.Context, state string) (*PendingAuthorization, error) {
	data, err := s.rdb.Get(ctx, keyPending+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load pending authorization: %w", err)
	}
	var pending PendingAuthorization
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("unmarshal pending authorization: %w", err)
	}
	return &pending, nil
}

func (s *RedisStorage) DeletePendingAuthorization(ctx context.Context, state string) error {
	return s.rdb.Del(ctx, keyPending+state).Err()
}

// ---- code challenges ----

func (s *RedisStorage) StoreCodeChallenge(ctx context.Context, state string, challenge *CodeChallenge) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("marshal code challenge: %w", err)
	}
	ttl := time.Until(challenge.ExpiresAt)
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyChallenge+state, data, ttl)
	// A replaced challenge starts with a clean attempt count.
	pipe.Del(ctx, keyAttempts+state)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStorage) LoadCodeChallenge(ctx context.Context, state string) (*CodeChallenge, error) {
	data, err := s.rdb.Get(ctx, keyChallenge+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load code challenge: %w", err)
	}
	var challenge CodeChallenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, fmt.Errorf("unmarshal code challenge: %w", err)
	}
	if challenge.Expired(time.Now()) {
		return nil, sentinel.ErrExpired
	}
	return &challenge, nil
}

// IncrementCodeChallengeAttempts counts a failed guess with INCR, so the cap
// stays exact under concurrent verification attempts.
func (s *RedisStorage) IncrementCodeChallengeAttempts(ctx context.Context, state string) (int, error) {
	exists, err := s.rdb.Exists(ctx, keyChallenge+state).Result()
	if err != nil {
		return 0, fmt.Errorf("check code challenge: %w", err)
	}
	if exists == 0 {
		return 0, sentinel.ErrNotFound
	}
	n, err := s.rdb.Incr(ctx, keyAttempts+state).Result()
	if err != nil {
		return 0, fmt.Errorf("increment challenge attempts: %w", err)
	}
	// The counter lives exactly as long as the challenge it guards.
	if ttl, err := s.rdb.PTTL(ctx, keyChallenge+state).Result(); err == nil && ttl > 0 {
		_ = s.rdb.PExpire(ctx, keyAttempts+state, ttl).Err()
	}
	return int(n), nil
}

func (s *RedisStorage) DeleteCodeChallenge(ctx context.Context, state string) error {
	return s.rdb.Del(ctx, keyChallenge+state, keyAttempts+state).Err()
}
