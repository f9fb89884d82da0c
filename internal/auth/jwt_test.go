package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/internal/errs"
	"github.com/crewdeck/crewdeck/internal/models"
)

const testSecret = "auth-test-secret"

func testUser() *models.User {
	return &models.User{
		ID:        uuid.New(),
		Username:  "ada",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
}

func TestGenerateAndParseTokenRoundTrip(t *testing.T) {
	u := testUser()

	token, err := GenerateToken(u, testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, "Ada", claims.FirstName)
	assert.Equal(t, "Lovelace", claims.LastName)
	assert.Equal(t, "crewdeck", claims.Issuer)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateToken(testUser(), testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "some-other-secret")
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token, err := GenerateToken(testUser(), testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.Error(t, err)
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	_, err := ParseToken("not.a.token", testSecret)
	assert.Error(t, err)
}

func TestJWTVerifierResolvesIdentity(t *testing.T) {
	u := testUser()
	token, err := GenerateToken(u, testSecret, time.Hour)
	require.NoError(t, err)

	v := NewJWTVerifier(testSecret)
	identity, err := v.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, identity.ID)
	assert.Equal(t, "ada", identity.Username)
}

func TestJWTVerifierClassifiesBadTokenAsUnauthorized(t *testing.T) {
	v := NewJWTVerifier(testSecret)

	_, err := v.Resolve("bogus")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnauthorized))
}
