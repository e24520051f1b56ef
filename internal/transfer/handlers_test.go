package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securebank/internal/auth"
)

func setupRouter(e *env, accountID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		c.Set(auth.ContextKeyAccountID, accountID)
		c.Next()
	})
	NewHandler(e.svc).RegisterProtectedRoutes(v1)
	return r
}

func post(r *gin.Engine, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/transfers", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func transferBody(amount any) map[string]any {
	return map[string]any{
		"recipient":   "bob@example.com",
		"amount":      amount,
		"purpose":     "rent",
		"fingerprint": phone.Fields(),
	}
}

func TestHandler_CreateCompleted(t *testing.T) {
	e := newEnv(t)
	e.account(t, "acct_1", "10000.00")
	e.trust(t, "acct_1")
	r := setupRouter(e, "acct_1")

	w := post(r, transferBody("50.00"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var v View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Equal(t, "50.00", v.Amount)
	require.NotNil(t, v.RiskResult)
	assert.NotEmpty(t, v.TransferID)
	assert.Equal(t, "9950.00", e.balance(t, "acct_1"))
}

func TestHandler_CreateAcceptsNumericAmount(t *testing.T) {
	e := newEnv(t)
	e.account(t, "acct_1", "100.00")
	e.trust(t, "acct_1")

	w := post(setupRouter(e, "acct_1"), transferBody(12.5))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "87.50", e.balance(t, "acct_1"))
}

func TestHandler_CreateBlocked(t *testing.T) {
	e := newEnv(t)
	e.account(t, "acct_1", "1000.00")
	e.trust(t, "acct_1")
	e.scorer.set("0.9")

	w := post(setupRouter(e, "acct_1"), transferBody("500"))
	require.Equal(t, http.StatusOK, w.Code)
	var v View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, StatusBlocked, v.Status)
	assert.Equal(t, 0.9, v.RiskResult.Score)
}

func TestHandler_CreateErrors(t *testing.T) {
	e := newEnv(t)
	e.account(t, "acct_1", "100.00")
	r := setupRouter(e, "acct_1")

	w := post(r, transferBody("50"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "device_not_trusted")
	assert.NotContains(t, w.Body.String(), "100.00")

	e.trust(t, "acct_1")
	w = post(r, transferBody("500"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient_funds")

	for _, amount := range []any{"0", "-5", "1.001", "abc", 0} {
		w = post(r, transferBody(amount))
		assert.Equal(t, http.StatusBadRequest, w.Code, "amount %v", amount)
	}

	body := transferBody("5")
	delete(body, "fingerprint")
	w = post(r, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = transferBody("5")
	body["recipient"] = "not an email"
	w = post(r, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ListAndGet(t *testing.T) {
	e := newEnv(t)
	e.account(t, "acct_1", "100.00")
	e.trust(t, "acct_1")
	tr, err := e.svc.Create(context.Background(), "acct_1", req("1"))
	require.NoError(t, err)
	r := setupRouter(e, "acct_1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transfers?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Transfers []View `json:"transfers"`
		Count     int    `json:"count"`
		HasMore   bool   `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.False(t, list.HasMore)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transfers/"+tr.ID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	setupRouter(e, "acct_2").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transfers/"+tr.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transfers?cursor=%25%25", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
