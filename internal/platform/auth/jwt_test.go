package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHS256_SignVerify(t *testing.T) {
	ts, err := NewHS256Service("secret", "zaplink", time.Hour)
	require.NoError(t, err)

	tok, err := ts.Sign(42, RoleAdmin)
	require.NoError(t, err)

	c, err := ts.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.UserID)
	assert.Equal(t, RoleAdmin, c.Role)
}

func TestHS256_Rejects(t *testing.T) {
	ts, err := NewHS256Service("secret", "zaplink", time.Minute)
	require.NoError(t, err)

	_, err = ts.Sign(0, RoleUser)
	assert.Error(t, err)

	other, err := NewHS256Service("other-secret", "zaplink", time.Minute)
	require.NoError(t, err)
	tok, err := other.Sign(1, RoleUser)
	require.NoError(t, err)
	_, err = ts.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	wrongIssuer, err := NewHS256Service("secret", "someone-else", time.Minute)
	require.NoError(t, err)
	tok, err = wrongIssuer.Sign(1, RoleUser)
	require.NoError(t, err)
	_, err = ts.Verify(tok)
	assert.Error(t, err, "wrong issuer")

	// 过期
	h := ts.(*hs256Service)
	h.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	tok, err = ts.Sign(1, RoleUser)
	require.NoError(t, err)
	h.now = time.Now
	_, err = ts.Verify(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// subject 不是数字
	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "zaplink",
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	s, err := bad.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ts.Verify(s)
	assert.Error(t, err)
}

func TestNewHS256Service_Validation(t *testing.T) {
	_, err := NewHS256Service("", "i", time.Minute)
	assert.Error(t, err)
	_, err = NewHS256Service("s", "", time.Minute)
	assert.Error(t, err)
	_, err = NewHS256Service("s", "i", 0)
	assert.Error(t, err)
}
