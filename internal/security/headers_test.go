package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(mw gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/v1/account", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(method, "/v1/account", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHeaders(t *testing.T) {
	w := serve(Headers(), http.MethodGet, "")

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestCORS(t *testing.T) {
	cases := []struct {
		name    string
		origins []string
		origin  string
		allowed bool
		creds   bool
	}{
		{"listed origin", []string{"https://app.example.com"}, "https://app.example.com", true, true},
		{"wildcard", []string{"*"}, "https://anything.example", true, false},
		{"unlisted origin", []string{"https://app.example.com"}, "https://evil.example", false, false},
		{"no origin header", []string{"*"}, "", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(CORS(tc.origins), http.MethodGet, tc.origin)
			assert.Equal(t, http.StatusOK, w.Code)
			if tc.allowed {
				assert.Equal(t, tc.origin, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
			assert.Equal(t, tc.creds, w.Header().Get("Access-Control-Allow-Credentials") == "true")
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	w := serve(CORS([]string{"*"}), http.MethodOptions, "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
