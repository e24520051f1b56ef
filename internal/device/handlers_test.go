package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securebank/internal/auth"
)

const pixelBody = `{"fingerprint":{"model":"Pixel 8","os":"android","osVersion":"14","platform":"mobile","buildId":"AP1A"}}`

func setupRouter(svc *Service, accountID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/v1", func(c *gin.Context) { c.Set(auth.ContextKeyAccountID, accountID) })
	NewHandler(svc).RegisterProtectedRoutes(g)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_TrustDevice_OK(t *testing.T) {
	svc, _, _ := newTestService(0.2)
	r := setupRouter(svc, "acct_1")

	w := do(r, http.MethodPost, "/v1/devices/trust", pixelBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res TrustResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Trusted)
	assert.Equal(t, StatusTrusted, res.Device.Status)
	assert.Equal(t, "Pixel 8", res.Device.Attributes.Model)

	w = do(r, http.MethodGet, "/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandler_TrustDevice_Rejected(t *testing.T) {
	svc, _, _ := newTestService(0.95)
	r := setupRouter(svc, "acct_1")

	w := do(r, http.MethodPost, "/v1/devices/trust", pixelBody)
	require.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "trust_rejected", body["error"])
	assert.Equal(t, true, body["rejected"])
	assert.Equal(t, "stub", body["reason"])
}

func TestHandler_TrustDevice_Restricted(t *testing.T) {
	svc, store, _ := newTestService(0.1)
	d, err := svc.ResolveOrCreate(context.Background(), "acct_1", pixel, OriginLogin)
	require.NoError(t, err)
	d.Status = StatusRestricted
	require.NoError(t, store.Update(context.Background(), d))

	w := do(setupRouter(svc, "acct_1"), http.MethodPost, "/v1/devices/trust", pixelBody)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "device_restricted")
}

func TestHandler_ValidationErrors(t *testing.T) {
	svc, _, _ := newTestService(0.1)
	r := setupRouter(svc, "acct_1")

	w := do(r, http.MethodPost, "/v1/devices/trust", `{"fingerprint":{}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")

	w = do(r, http.MethodPost, "/v1/devices/status", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestHandler_DeviceStatus_ScopedToToken(t *testing.T) {
	svc, _, _ := newTestService(0.1)
	_, err := svc.RequestTrust(context.Background(), "acct_owner", pixel)
	require.NoError(t, err)

	// Same fingerprint, different authenticated account.
	w := do(setupRouter(svc, "acct_other"), http.MethodPost, "/v1/devices/status", pixelBody)
	require.Equal(t, http.StatusOK, w.Code)

	var view StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.False(t, view.IsTrusted)
	assert.Equal(t, "unknown", view.Status)

	w = do(setupRouter(svc, "acct_owner"), http.MethodPost, "/v1/devices/status", pixelBody)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.True(t, view.IsTrusted)
}
