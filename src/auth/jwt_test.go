package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletTokenRoundTrip(t *testing.T) {
	secret := []byte("unit-secret")

	token, err := NewWalletToken("0xAbCd1234", secret, time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := ParseWalletToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "0xabcd1234", claims.Wallet)
	assert.Equal(t, "0xabcd1234", claims.Subject)
}

func TestParseWalletTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewWalletToken("0xabc", []byte("right"), time.Hour, time.Now())
	require.NoError(t, err)

	_, err = ParseWalletToken(token, []byte("wrong"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseWalletTokenRejectsExpired(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	token, err := NewWalletToken("0xabc", []byte("s"), time.Hour, issued)
	require.NoError(t, err)

	_, err = ParseWalletToken(token, []byte("s"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "tok123", ExtractBearer("Bearer tok123"))
	assert.Equal(t, "tok123", ExtractBearer("bearer tok123"))
	assert.Equal(t, "", ExtractBearer(""))
	assert.Equal(t, "", ExtractBearer("tok123"))
	assert.Equal(t, "", ExtractBearer("Basic dXNlcjpwYXNz"))
}
