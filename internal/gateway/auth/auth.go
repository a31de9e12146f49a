package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is a verified caller
type Identity struct {
	UserID   string
	Role     string
	Operator bool
}

// Config configures token verification
type Config struct {
	Secret        []byte
	Issuer        string
	Audience      string
	RoleClaim     string
	OperatorRoles []string
}

// Verifier validates HMAC-signed bearer tokens issued by the identity provider
type Verifier struct {
	cfg    Config
	parser *jwt.Parser
}

// NewVerifier creates a verifier. Secret must be non-empty.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Verifier{cfg: cfg, parser: jwt.NewParser(opts...)}, nil
}

// VerifyHeader extracts and verifies the bearer token in an Authorization header
func (v *Verifier) VerifyHeader(header string) (Identity, error) {
	if header == "" {
		return Identity{}, ErrMissingToken
	}

	// Parse Bearer token
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Identity{}, fmt.Errorf("%w: invalid authorization header format", ErrInvalidToken)
	}

	return v.Verify(parts[1])
}

// Verify validates a raw token and returns the caller identity
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	claims := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.cfg.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	role, _ := claims[v.cfg.RoleClaim].(string)

	return Identity{
		UserID:   subject,
		Role:     role,
		Operator: role != "" && slices.Contains(v.cfg.OperatorRoles, role),
	}, nil
}

type contextKey struct{}

// WithIdentity returns a context carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
