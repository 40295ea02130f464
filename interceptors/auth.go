package interceptors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/glimte/mmate-http/contracts"
)

// AuthorizationHeader is the header the auth interceptor writes
const AuthorizationHeader = "Authorization"

// TokenSource supplies bearer tokens for outgoing requests
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token
type StaticToken string

// Token implements TokenSource
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("static token is empty")
	}
	return string(t), nil
}

// JWTConfig configures a JWTTokenSource
type JWTConfig struct {
	// Secret signs tokens with HS256
	Secret []byte
	// Issuer is written to the iss claim when set
	Issuer string
	// Subject is written to the sub claim when set
	Subject string
	// Audience is written to the aud claim when set
	Audience []string
	// TTL is the token lifetime. Default: 5 minutes.
	TTL time.Duration
	// RefreshBefore renews the cached token this long before expiry. Default: 30 seconds.
	RefreshBefore time.Duration
	// Claims are added to every token
	Claims map[string]any
}

// JWTTokenSource mints HS256 tokens and caches them until shortly before expiry
type JWTTokenSource struct {
	config JWTConfig
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewJWTTokenSource creates a token source signing with config.Secret
func NewJWTTokenSource(config JWTConfig) (*JWTTokenSource, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("jwt token source: secret is required")
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.RefreshBefore <= 0 || config.RefreshBefore >= config.TTL {
		config.RefreshBefore = config.TTL / 10
	}

	return &JWTTokenSource{config: config, now: time.Now}, nil
}

// Token implements TokenSource
func (s *JWTTokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(s.config.RefreshBefore).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(s.config.TTL)
	claims := jwtlib.MapClaims{
		"iat": jwtlib.NewNumericDate(now),
		"exp": jwtlib.NewNumericDate(expires),
	}
	for k, v := range s.config.Claims {
		claims[k] = v
	}
	if s.config.Issuer != "" {
		claims["iss"] = s.config.Issuer
	}
	if s.config.Subject != "" {
		claims["sub"] = s.config.Subject
	}
	if len(s.config.Audience) > 0 {
		claims["aud"] = jwtlib.ClaimStrings(s.config.Audience)
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.config.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.token = signed
	s.expires = expires
	return signed, nil
}

// AuthInterceptor adds a bearer token to requests that carry no Authorization header
type AuthInterceptor struct {
	source TokenSource
}

// NewAuthInterceptor creates a new auth interceptor
func NewAuthInterceptor(source TokenSource) *AuthInterceptor {
	return &AuthInterceptor{source: source}
}

// Intercept implements Interceptor
func (i *AuthInterceptor) Intercept(req *contracts.Request, next Handler) EventStream {
	if req.Headers.Has(AuthorizationHeader) {
		return next.Handle(req)
	}

	return func(ctx context.Context, yield func(contracts.Event) error) error {
		token, err := i.source.Token(ctx)
		if err != nil {
			return fmt.Errorf("request authentication failed: %w", err)
		}

		authed := req.Clone(contracts.SetHeader(AuthorizationHeader, "Bearer "+token))
		return next.Handle(authed).Subscribe(ctx, yield)
	}
}

// Name implements Interceptor
func (i *AuthInterceptor) Name() string {
	return "AuthInterceptor"
}
