package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pccr10001/intercom/internal/model"
)

func TestTokenRoundTrip(t *testing.T) {
	require.NoError(t, SetSecret("test-secret"))

	token, err := GenerateToken(&model.User{ID: 7, Role: "admin"})
	require.NoError(t, err)

	claims, err := ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestValidateRejectsForeignAndExpired(t *testing.T) {
	require.NoError(t, SetSecret("one"))
	token, err := GenerateToken(&model.User{ID: 1, Role: model.RoleListener})
	require.NoError(t, err)

	require.NoError(t, SetSecret("two"))
	_, err = ValidateToken(token)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	s, err := expired.SignedString([]byte("two"))
	require.NoError(t, err)
	_, err = ValidateToken(s)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 1})
	s, err = none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ValidateToken(s)
	assert.Error(t, err)
}

func TestEmptySecretIsRandom(t *testing.T) {
	require.NoError(t, SetSecret(""))
	token, err := GenerateToken(&model.User{ID: 2})
	require.NoError(t, err)
	_, err = ValidateToken(token)
	assert.NoError(t, err)
}
