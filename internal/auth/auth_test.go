package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.NoError(t, CheckPassword(hash, "hunter22"))
	assert.ErrorIs(t, CheckPassword(hash, "hunter23"), ErrInvalidCredentials)
	assert.ErrorIs(t, CheckPassword("not-a-hash", "x"), ErrInvalidCredentials)
}

func TestTokens_IssueAndParse(t *testing.T) {
	tok := NewTokens("secret", time.Hour)
	raw, s, err := tok.Issue("u1")
	require.NoError(t, err)

	got, err := tok.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, s.TokenID, got.TokenID)
	assert.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestTokens_Rejects(t *testing.T) {
	tok := NewTokens("secret", time.Hour)
	raw, _, err := tok.Issue("u1")
	require.NoError(t, err)

	_, err = NewTokens("other", time.Hour).Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	expired := NewTokens("secret", time.Hour)
	expired.nowFunc = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Parse(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tok.Parse(none)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	_, err = tok.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMemoryRevocations(t *testing.T) {
	m := NewMemoryRevocations()
	ctx := context.Background()
	now := time.Now()
	m.nowFunc = func() time.Time { return now }

	require.NoError(t, m.Revoke(ctx, "t1", now.Add(time.Minute)))
	revoked, err := m.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, revoked)

	m.nowFunc = func() time.Time { return now.Add(2 * time.Minute) }
	revoked, err = m.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, revoked, "entry lapses with the token")
}

func TestRedisRevocations_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	r := NewRedisRevocations(client)

	_, err := r.IsRevoked(context.Background(), "t1")
	assert.Error(t, err)
	assert.Error(t, r.Revoke(context.Background(), "t1", time.Now().Add(time.Minute)))
	assert.NoError(t, r.Revoke(context.Background(), "t1", time.Now().Add(-time.Minute)), "already expired tokens are skipped")
}

func newRouter(tok *Tokens, rev Revocations) *gin.Engine {
	r := gin.New()
	r.GET("/me", Middleware(tok, rev), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})
	return r
}

func TestMiddleware(t *testing.T) {
	tok := NewTokens("secret", time.Hour)
	rev := NewMemoryRevocations()
	r := newRouter(tok, rev)
	raw, s, err := tok.Issue("u1")
	require.NoError(t, err)

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u1", w.Body.String())
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: CookieName, Value: raw})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
	})

	t.Run("revoked", func(t *testing.T) {
		require.NoError(t, rev.Revoke(context.Background(), s.TokenID, s.ExpiresAt))
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"invalid_session"}`, w.Body.String())
	})
}
