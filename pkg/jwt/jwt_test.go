package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	m, err := NewManager("secret", "live-relay")
	require.NoError(t, err)

	token, err := m.IssueToken("u1", "ops", []string{"admin"}, time.Minute)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ops", claims.Username)
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("viewer"))
}

func TestValidateRejects(t *testing.T) {
	m, err := NewManager("secret", "live-relay")
	require.NoError(t, err)

	expired, err := m.IssueToken("u1", "ops", nil, -time.Minute)
	require.NoError(t, err)
	_, err = m.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)

	other, err := NewManager("other-secret", "live-relay")
	require.NoError(t, err)
	forged, err := other.IssueToken("u1", "ops", []string{"admin"}, time.Minute)
	require.NoError(t, err)
	_, err = m.ValidateToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewManager("secret", "someone-else")
	require.NoError(t, err)
	wrongIssuer, err := foreign.IssueToken("u1", "ops", nil, time.Minute)
	require.NoError(t, err)
	_, err = m.ValidateToken(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewManagerNeedsSecret(t *testing.T) {
	_, err := NewManager("", "live-relay")
	assert.ErrorIs(t, err, ErrNoSecret)
}
