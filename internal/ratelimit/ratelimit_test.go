package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securebank/internal/auth"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newLimiter(t *testing.T, rpm, burst int) (*Limiter, *clock) {
	t.Helper()
	l := New(Config{RequestsPerMinute: rpm, Burst: burst, IdleTTL: time.Hour})
	t.Cleanup(l.Stop)
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l.now = c.now
	return l, c
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, c := newLimiter(t, 60, 3)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("k")
		assert.True(t, ok, "request %d", i)
	}
	ok, wait := l.Allow("k")
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	c.t = c.t.Add(time.Second)
	ok, _ = l.Allow("k")
	assert.True(t, ok)
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newLimiter(t, 60, 1)
	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("b")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.False(t, ok)
}

func TestAllow_ZeroRateDisables(t *testing.T) {
	l, _ := newLimiter(t, 0, 1)
	for i := 0; i < 100; i++ {
		ok, _ := l.Allow("k")
		require.True(t, ok)
	}
}

func TestStop_Idempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestMiddleware_KeysByAccount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newLimiter(t, 60, 1)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-Account"); id != "" {
			c.Set(auth.ContextKeyAccountID, id)
		}
		c.Next()
	})
	r.Use(l.Middleware("transfers"))
	r.POST("/t", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(account string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/t", nil)
		req.Header.Set("X-Test-Account", account)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do("acct_1").Code)
	w := do("acct_1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusOK, do("acct_2").Code)
}
