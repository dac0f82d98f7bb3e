package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fyrsmithlabs/answerd/internal/tenant"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidToken indicates a token that failed verification. The
	// middleware maps this to 401; verification always fails closed.
	ErrInvalidToken = errors.New("invalid token")
)

// Config holds configuration for the token verifier.
type Config struct {
	// JWKSURL is the identity provider's published signing-key endpoint.
	JWKSURL string

	// Audience is the expected aud claim.
	Audience string

	// Issuer is the expected iss claim.
	Issuer string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.JWKSURL == "" {
		return fmt.Errorf("%w: JWKS URL required", ErrInvalidConfig)
	}
	if c.Audience == "" {
		return fmt.Errorf("%w: audience required", ErrInvalidConfig)
	}
	if c.Issuer == "" {
		return fmt.Errorf("%w: issuer required", ErrInvalidConfig)
	}
	return nil
}

// Verifier validates bearer tokens and extracts the principal identity.
type Verifier struct {
	config Config
	keys   *RemoteKeySet
}

// NewVerifier creates a verifier for the configured identity provider.
func NewVerifier(config Config) (*Verifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &Verifier{
		config: config,
		keys:   NewRemoteKeySet(config.JWKSURL),
	}, nil
}

// Verify validates the raw token and returns the principal it asserts.
// Any verification failure, including a token without a usable username
// claim, returns ErrInvalidToken.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (tenant.Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, v.keyFunc(ctx),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.config.Audience),
		jwt.WithIssuer(v.config.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return tenant.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	username := stringClaim(claims, "preferred_username")
	if username == "" {
		username = stringClaim(claims, "upn")
	}
	if username == "" {
		return tenant.Principal{}, fmt.Errorf("%w: token does not contain a username", ErrInvalidToken)
	}

	return tenant.Principal{
		TenantID: stringClaim(claims, "tid"),
		ObjectID: stringClaim(claims, "oid"),
		Username: username,
	}, nil
}

// keyFunc resolves the token's signing key from the remote key set.
func (v *Verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("token header missing kid")
		}
		return v.keys.Key(ctx, kid)
	}
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}
