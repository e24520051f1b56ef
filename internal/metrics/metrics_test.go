package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestStatusClass(t *testing.T) {
	cases := map[int]string{100: "1xx", 200: "2xx", 204: "2xx", 302: "3xx", 403: "4xx", 422: "4xx", 500: "5xx"}
	for code, want := range cases {
		assert.Equal(t, want, statusClass(code), "code %d", code)
	}
}

func TestMiddleware_CountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/transfers/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/v1/transfers/:id", "2xx"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/transfers/trf_1", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	after := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/v1/transfers/:id", "2xx"))
	assert.Equal(t, before+1, after)
}

func TestHandler_ExposesDomainMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	TransfersTotal.WithLabelValues("completed").Inc()
	DeviceTrustTotal.WithLabelValues("trusted").Inc()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "bank_transfers_total")
	assert.Contains(t, body, "bank_device_trust_requests_total")
	assert.Contains(t, body, "bank_active_websocket_clients")
}
