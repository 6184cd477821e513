package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cursewell/cursewell/web/models"
)

func TestTokenRoundTrip(t *testing.T) {
	auth := NewAuth("test-secret")
	session := &models.UserSession{UserID: 42, Username: "crone", Admin: true}

	token, err := auth.SignToken(session, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := auth.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, session.UserID, got.UserID)
	assert.Equal(t, session.Username, got.Username)
	assert.True(t, got.Admin)

	// Second verification comes from the cache and must match.
	cached, err := auth.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, got, cached)
}

func TestVerifyTokenRejections(t *testing.T) {
	auth := NewAuth("test-secret")

	t.Run("garbage", func(t *testing.T) {
		_, err := auth.VerifyToken("not-a-token")
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewAuth("other-secret")
		token, err := other.SignToken(&models.UserSession{UserID: 1, Username: "crone"}, time.Hour)
		require.NoError(t, err)

		_, err = auth.VerifyToken(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := auth.SignToken(&models.UserSession{UserID: 1, Username: "crone"}, -time.Minute)
		require.NoError(t, err)

		_, err = auth.VerifyToken(token)
		assert.Error(t, err)
	})
}
