package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("12345678", "student", "snackticket", "secret", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, "secret", "snackticket")
	require.NoError(t, err)
	assert.Equal(t, "12345678", claims.Subject)
	assert.Equal(t, "student", claims.Role)
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("12345678", "student", "snackticket", "secret", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-secret", "snackticket")
	assert.Error(t, err)
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	pair, err := Issue("12345678", "student", "someone-else", "secret", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "snackticket")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("12345678", "student", "snackticket", "secret", -time.Minute, 24*time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "snackticket")
	assert.Error(t, err)
}
