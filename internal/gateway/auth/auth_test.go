package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-signing-secret")

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{
		Secret:        testSecret,
		RoleClaim:     "role",
		OperatorRoles: []string{"admin"},
	})
	require.NoError(t, err)
	return v
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestVerify_ValidToken(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":  "user-1",
		"role": "authenticated",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.VerifyHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "authenticated", id.Role)
	assert.False(t, id.Operator)
}

func TestVerify_OperatorRole(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":  "ops-1",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.True(t, id.Operator)
}

func TestVerify_Rejections(t *testing.T) {
	v := newTestVerifier(t)
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		target error
	}{
		{name: "missing header", header: "", target: ErrMissingToken},
		{name: "wrong scheme", header: "Basic abc", target: ErrInvalidToken},
		{
			name: "expired",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
				"sub": "user-1", "exp": time.Now().Add(-time.Minute).Unix(),
			}),
			target: ErrExpiredToken,
		},
		{
			name: "wrong key",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
				"sub": "user-1", "exp": future,
			}),
			target: ErrInvalidToken,
		},
		{
			name: "no subject",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
				"exp": future,
			}),
			target: ErrInvalidToken,
		},
		{
			name: "no expiry",
			header: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
				"sub": "user-1",
			}),
			target: ErrInvalidToken,
		},
		{
			name: "alg none",
			header: "Bearer " + signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{
				"sub": "user-1", "exp": future,
			}),
			target: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyHeader(tt.header)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestVerify_IssuerAndAudience(t *testing.T) {
	v, err := NewVerifier(Config{Secret: testSecret, Issuer: "https://auth.example.com", Audience: "dashboard"})
	require.NoError(t, err)

	good := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "user-1", "iss": "https://auth.example.com", "aud": "dashboard",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(good)
	assert.NoError(t, err)

	bad := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub": "user-1", "iss": "https://evil.example.com", "aud": "dashboard",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(bad)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u1"})
	id, ok := FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "u1", id.UserID)
}
