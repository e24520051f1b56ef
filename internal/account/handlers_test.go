package account

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securebank/internal/auth"
)

func setupRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(f.svc)
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	protected := v1.Group("")
	protected.Use(auth.RequireAuth(f.tokens))
	h.RegisterProtectedRoutes(protected)
	return r
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_RegisterLoginAndBalance(t *testing.T) {
	f := newFixture()
	r := setupRouter(f)

	w := postJSON(r, "/v1/auth/register", map[string]any{
		"email":    "ann@example.com",
		"password": "password1",
		"fingerprint": map[string]any{
			"model": "Pixel 8", "osVersion": "14", "platform": "android",
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reg))
	assert.Equal(t, "ann@example.com", reg["email"])

	w = postJSON(r, "/v1/auth/login", map[string]any{"email": "ann@example.com", "password": "password1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login LoginResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	assert.Equal(t, "10000.00", login.Balance)
	require.NotEmpty(t, login.Token)

	req := httptest.NewRequest(http.MethodGet, "/v1/account", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var view View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, reg["accountId"], view.ID)
	assert.Equal(t, "10000.00", view.Balance)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestHandler_RegisterValidation(t *testing.T) {
	r := setupRouter(newFixture())

	w := postJSON(r, "/v1/auth/register", map[string]any{"email": "not-an-email", "password": "password1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")

	w = postJSON(r, "/v1/auth/register", map[string]any{"email": "a@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RegisterDuplicate(t *testing.T) {
	r := setupRouter(newFixture())
	body := map[string]any{"email": "dup@example.com", "password": "password1"}

	require.Equal(t, http.StatusCreated, postJSON(r, "/v1/auth/register", body).Code)
	w := postJSON(r, "/v1/auth/register", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "email_taken")
}

func TestHandler_LoginBadCredentials(t *testing.T) {
	r := setupRouter(newFixture())

	w := postJSON(r, "/v1/auth/login", map[string]any{"email": "ghost@example.com", "password": "password1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_credentials")
}

func TestHandler_AccountRequiresToken(t *testing.T) {
	r := setupRouter(newFixture())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/account", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
