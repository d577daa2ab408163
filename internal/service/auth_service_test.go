package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/vidassess/internal/config"
)

func newAuth() *AuthService {
	return NewAuthService(&config.Config{JWTSecret: "test-secret"})
}

func TestStudentTokenRoundTrip(t *testing.T) {
	auth := newAuth()

	token, err := auth.GenerateStudentToken("stu-7", "Ayu", time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateStudentToken(token)
	require.NoError(t, err)
	assert.Equal(t, "stu-7", claims.StudentID)
	assert.Equal(t, "Ayu", claims.Name)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
}

func TestExpiredTokenRejected(t *testing.T) {
	auth := newAuth()

	token, err := auth.GenerateStudentToken("stu-7", "", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateStudentToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := NewAuthService(&config.Config{JWTSecret: "other"}).
		GenerateStudentToken("stu-7", "", time.Hour)
	require.NoError(t, err)

	_, err = newAuth().ValidateStudentToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNonStudentTokenRejected(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenType: "admin",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = newAuth().ValidateStudentToken(token)
	assert.ErrorIs(t, err, ErrStudentRequired)
}

func TestSubjectFallbackForStudentID(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "stu-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenType: TokenTypeStudent,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	got, err := newAuth().ValidateStudentToken(token)
	require.NoError(t, err)
	assert.Equal(t, "stu-9", got.StudentID)
}

func TestNoneAlgorithmRejected(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TokenType: TokenTypeStudent, StudentID: "x"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newAuth().ValidateStudentToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
