package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestIssueAndValidate(t *testing.T) {
	a, err := NewAuthenticator(testSecret, "pagedvolume", time.Hour)
	require.NoError(t, err)

	token, err := a.Issue("builder", true)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "builder", claims.Subject)
	assert.True(t, claims.CanWrite)

	readOnly, err := a.Issue("viewer", false)
	require.NoError(t, err)
	claims, err = a.Validate(readOnly)
	require.NoError(t, err)
	assert.False(t, claims.CanWrite)
}

func TestValidateRejects(t *testing.T) {
	a, err := NewAuthenticator(testSecret, "pagedvolume", time.Hour)
	require.NoError(t, err)

	other, err := NewAuthenticator([]byte("another-secret-of-enough-length"), "pagedvolume", time.Hour)
	require.NoError(t, err)
	foreign, err := other.Issue("builder", true)
	require.NoError(t, err)

	wrongIssuer, err := NewAuthenticator(testSecret, "someone-else", time.Hour)
	require.NoError(t, err)
	misissued, err := wrongIssuer.Issue("builder", true)
	require.NoError(t, err)

	// Токен, выпущенный два часа назад со сроком в час
	expired := *a
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue("builder", true)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{CanWrite: true})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"garbage":      "not-a-token",
		"foreign key":  foreign,
		"wrong issuer": misissued,
		"expired":      stale,
		"alg none":     unsigned,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewAuthenticatorShortSecret(t *testing.T) {
	_, err := NewAuthenticator([]byte("short"), "x", 0)
	assert.Error(t, err)

	a, err := NewAuthenticator(testSecret, "x", 0)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, a.ttl)
}
