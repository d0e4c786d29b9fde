package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := NewToken("s3cret", "user-42", 15)
	require.NoError(t, err)

	claims, err := ParseToken("s3cret", tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.UserID)
	assert.Equal(t, "mmchat", claims.Issuer)

	_, err = ParseToken("other", tok)
	assert.Error(t, err)
}

func TestNewTokenRequiresUser(t *testing.T) {
	_, err := NewToken("s3cret", "", 15)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestTokenSourceRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))
		_, _ = w.Write([]byte(`{"token":"abc"}`))
	}))
	defer srv.Close()

	tok, err := NewTokenSource(srv.URL).Token(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenSourceClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewTokenSource(srv.URL).Token(context.Background(), "u1")
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tok, err := NewToken("s3cret", "u7", 15)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", JWTMiddleware("s3cret", true), func(c *gin.Context) {
		c.String(http.StatusOK, MustUserID(c))
	})

	cases := []struct {
		name   string
		target string
		header string
		code   int
		body   string
	}{
		{"bearer header", "/me", "Bearer " + tok, http.StatusOK, "u7"},
		{"query token", "/me?token=" + tok, "", http.StatusOK, "u7"},
		{"anonymous", "/me?userId=guest", "", http.StatusOK, "guest"},
		{"bad token", "/me?token=nope", "", http.StatusUnauthorized, ""},
		{"nothing", "/me", "", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}
