// Package metrics holds the Prometheus collectors for the bank server.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bank"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status class.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// TransfersTotal counts transfers by terminal outcome:
	// completed, blocked, failed, rejected (never persisted).
	TransfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Transfers by outcome.",
	}, []string{"outcome"})

	TransferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transfer_pipeline_duration_seconds",
		Help:      "End-to-end transfer pipeline latency, including risk assessment.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	// DeviceTrustTotal counts trust requests by result: trusted,
	// already_trusted, rejected, restricted.
	DeviceTrustTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "device_trust_requests_total",
		Help:      "Device trust requests by result.",
	}, []string{"result"})

	// RiskAssessmentsTotal counts assessments by purpose and source
	// (scorer, parsed_default, fallback).
	RiskAssessmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "risk_assessments_total",
		Help:      "Risk assessments by purpose and source.",
	}, []string{"purpose", "source"})

	RiskScore = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "risk_score",
		Help:      "Distribution of assessed risk scores.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	}, []string{"purpose"})

	ScorerLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scorer_request_duration_seconds",
		Help:      "Latency of calls to the external risk scorer.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
	})

	StaleTransfersReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_transfers_reaped_total",
		Help:      "Pending transfers failed by the reaper after timing out.",
	})

	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Connected websocket clients.",
	})

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Open database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "In-use database connections.",
	})
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_wait_count_total",
		Help: "Connections waited for.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current goroutine count.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TransfersTotal,
		TransferDuration,
		DeviceTrustTotal,
		RiskAssessmentsTotal,
		RiskScore,
		ScorerLatency,
		StaleTransfersReaped,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitCount,
		GoroutineCount,
	)
}

// StartDBStatsCollector samples db.Stats() every interval until ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := db.Stats()
			DBOpenConnections.Set(float64(s.OpenConnections))
			DBInUseConnections.Set(float64(s.InUse))
			DBWaitCount.Set(float64(s.WaitCount))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware records request count and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler serves /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	}
	return "5xx"
}
