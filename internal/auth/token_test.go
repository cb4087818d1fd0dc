package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-automation/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)

	token, exp, err := tm.GenerateToken("cust-1", domain.SubjectTypeCustomer)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(5*time.Minute), exp, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, "cust-1", claims.Subject)
	require.Equal(t, domain.SubjectTypeCustomer, claims.Kind)
}

func TestParseRejectsForeignSecretAndExpiry(t *testing.T) {
	token, _, err := NewTokenManager("other", 5).GenerateToken("cust-1", domain.SubjectTypeCustomer)
	require.NoError(t, err)
	_, err = NewTokenManager("secret", 5).ParseToken(token)
	require.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Kind: domain.SubjectTypeAgent,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "agent-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = NewTokenManager("secret", 5).ParseToken(signed)
	require.Error(t, err)
}

func TestGenerateRequiresSubject(t *testing.T) {
	_, _, err := NewTokenManager("secret", 5).GenerateToken("", domain.SubjectTypeAgent)
	require.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery", 4)
	require.NoError(t, err)
	require.NoError(t, ComparePassword(hash, "correct horse battery"))
	require.Error(t, ComparePassword(hash, "wrong"))
}

func TestWeakPasswordAndUnknownHash(t *testing.T) {
	_, err := HashPassword("short", 4)
	require.ErrorIs(t, err, ErrWeakPassword)
	require.Error(t, ComparePassword("", "anything at all"))
}
