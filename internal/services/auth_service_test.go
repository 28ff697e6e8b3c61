package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newAuth(t *testing.T) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthService("admin", string(hash), testSecret, time.Hour)
}

func TestAuthService_Login(t *testing.T) {
	auth := newAuth(t)

	token, exp, err := auth.Login("admin", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)

	_, _, err = auth.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	_, _, err = auth.Login("root", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidLogin)
}

func TestAuthService_ValidateToken(t *testing.T) {
	auth := newAuth(t)

	t.Run("foreign secret", func(t *testing.T) {
		other := NewAuthService("admin", "", "ffffffffffffffffffffffffffffffff", time.Hour)
		token, _, err := other.GenerateToken("admin")
		require.NoError(t, err)
		_, err = auth.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := auth.GenerateToken("admin")
		require.NoError(t, err)
		auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { auth.now = time.Now }()
		_, err = auth.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := auth.ValidateToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")))
}
