package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/models"
)

const testSecret = "middleware-test-secret"

func testRouter() (*gin.Engine, *uuid.UUID) {
	gin.SetMode(gin.TestMode)
	var seenUserID uuid.UUID

	r := gin.New()
	r.Use(AuthMiddleware(testSecret))
	r.GET("/protected", func(c *gin.Context) {
		seenUserID = GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"username": GetUsername(c)})
	})
	return r, &seenUserID
}

func doRequest(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMissingHeaderIsRejected(t *testing.T) {
	r, _ := testRouter()
	w := doRequest(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMalformedHeaderIsRejected(t *testing.T) {
	r, _ := testRouter()

	for _, header := range []string{"token-without-scheme", "Basic abc", "Bearer"} {
		w := doRequest(r, header)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestInvalidTokenIsRejected(t *testing.T) {
	r, _ := testRouter()
	w := doRequest(r, "Bearer not.a.jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestValidTokenPassesClaimsToHandler(t *testing.T) {
	r, seenUserID := testRouter()

	u := &models.User{ID: uuid.New(), Username: "ada", FirstName: "Ada", LastName: "Lovelace"}
	token, err := auth.GenerateToken(u, testSecret, time.Hour)
	require.NoError(t, err)

	w := doRequest(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, u.ID, *seenUserID)
	assert.Contains(t, w.Body.String(), "ada")
}
