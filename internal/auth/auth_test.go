package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "seatcheck"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("S1", []string{"1001", "1002"}, testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	id := claims.Identity()
	assert.Equal(t, "S1", id.StudentID)
	assert.True(t, id.MemberOf("1002"))
	assert.False(t, id.MemberOf("2002"))
}

func TestParseRejects(t *testing.T) {
	valid, err := Issue("S1", nil, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	expired, err := Issue("S1", nil, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	otherIssuer, err := Issue("S1", nil, "someone-else", testKey, time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "S1", Issuer: testIssuer}}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		key   string
	}{
		{"wrong key", valid.AccessToken, "other-key"},
		{"expired", expired.AccessToken, testKey},
		{"issuer mismatch", otherIssuer.AccessToken, testKey},
		{"alg none", none, testKey},
		{"garbage", "not.a.token", testKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token, tt.key, testIssuer)
			assert.Error(t, err)
		})
	}
}

func TestIssueRequiresStudent(t *testing.T) {
	_, err := Issue("", nil, testIssuer, testKey, time.Minute)
	assert.Error(t, err)
}

func TestStudentAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", StudentAuth(testKey, testIssuer), func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"student_id": id.StudentID, "academies": id.Academies})
	})

	tok, err := Issue("S1", []string{"1001"}, testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + tok.AccessToken, http.StatusOK},
		{"lowercase scheme", "bearer " + tok.AccessToken, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"student_id":"S1","academies":["1001"]}`, w.Body.String())
			}
		})
	}
}
