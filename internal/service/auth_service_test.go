package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/config"
)

func TestIssueAndValidateStudentToken(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "test-secret"})

	tok, err := svc.IssueStudentToken("stu-42", time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	assert.Equal(t, "stu-42", claims.Student())
	assert.NotEmpty(t, claims.ID)
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := NewAuthService(&config.Config{JWTSecret: "test-secret"})
	other := NewAuthService(&config.Config{JWTSecret: "other-secret"})

	tok, err := other.IssueStudentToken("stu-1", time.Hour)
	require.NoError(t, err)
	_, err = svc.ValidateToken(tok)
	assert.Error(t, err, "wrong secret")

	expired, err := svc.IssueStudentToken("stu-1", -time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = svc.IssueStudentToken("", time.Hour)
	assert.Error(t, err)
}

func TestClaimsStudentFallsBackToSubject(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-7"}}
	assert.Equal(t, "sub-7", c.Student())
}
