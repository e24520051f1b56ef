// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/securebank/internal/account"
	"github.com/mbd888/securebank/internal/auth"
	"github.com/mbd888/securebank/internal/circuitbreaker"
	"github.com/mbd888/securebank/internal/config"
	"github.com/mbd888/securebank/internal/device"
	"github.com/mbd888/securebank/internal/health"
	"github.com/mbd888/securebank/internal/logging"
	"github.com/mbd888/securebank/internal/metrics"
	"github.com/mbd888/securebank/internal/ratelimit"
	"github.com/mbd888/securebank/internal/realtime"
	"github.com/mbd888/securebank/internal/risk"
	"github.com/mbd888/securebank/internal/security"
	"github.com/mbd888/securebank/internal/traces"
	"github.com/mbd888/securebank/internal/transfer"
	"github.com/mbd888/securebank/internal/validation"
	"github.com/mbd888/securebank/migrations"
)

// Version is reported by /health.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	tokens    *auth.TokenManager
	assessor  *risk.Adapter
	devices   *device.Service
	accounts  *account.Service
	transfers *transfer.Service
	reaper    *transfer.Reaper
	hub       *realtime.Hub
	health    *health.Registry

	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error
	drainDelay   time.Duration

	scorerOverride risk.Scorer

	// Health state
	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithScorer replaces the configured risk scorer (for testing)
func WithScorer(sc risk.Scorer) Option {
	return func(s *Server) {
		s.scorerOverride = sc
	}
}

// WithDrainDelay sets how long Shutdown waits before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
		health:     health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stopTracing

	var (
		accountStore  account.Store
		deviceStore   device.Store
		transferStore transfer.Store
		riskStore     risk.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		if cfg.AutoMigrate {
			n, err := migrations.Up(ctx, db)
			if err != nil {
				_ = db.Close()
				return nil, err
			}
			s.logger.Info("migrations applied", "count", n)
		}

		accountStore = account.NewPostgresStore(db)
		deviceStore = device.NewPostgresStore(db)
		transferStore = transfer.NewPostgresStore(db)
		riskStore = risk.NewPostgresStore(db)
		s.health.Register("database", true, health.Database(db))
	} else {
		mem := account.NewMemoryStore()
		accountStore = mem
		deviceStore = device.NewMemoryStore()
		transferStore = transfer.NewMemoryStore(mem)
		riskStore = risk.NewMemoryStore()
		s.logger.Warn("using in-memory storage, data is lost on restart")
	}

	// Risk scorer behind the adapter
	scorer := s.scorerOverride
	if scorer == nil {
		if cfg.ScorerURL != "" {
			scorer = risk.NewLLMScorer(cfg.ScorerURL, cfg.ScorerAPIKey, cfg.ScorerModel)
			s.logger.Info("risk scorer: remote model", "model", cfg.ScorerModel)
		} else {
			scorer = risk.NewHeuristicScorer()
			s.logger.Info("risk scorer: local heuristic")
		}
	}
	s.assessor = risk.NewAdapter(scorer, riskStore, s.logger).
		WithTimeout(cfg.ScorerTimeout).
		WithRetry(cfg.ScorerMaxAttempts, 200*time.Millisecond)
	s.assessor.Breaker().OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("circuit breaker transition", "key", key, "from", from.String(), "to", to.String())
	})
	s.health.Register("risk_scorer", false, health.Breaker(s.assessor.Breaker(), risk.BreakerKey))

	s.hub = realtime.NewHub(s.logger)
	s.tokens = auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)

	s.devices = device.NewService(deviceStore, s.assessor, s.logger).
		WithThreshold(cfg.HighRiskThreshold).
		WithEvents(s.hub)

	s.accounts = account.NewService(accountStore, s.devices, s.tokens, s.logger).
		WithDefaults(account.Defaults{
			InitialBalance: cfg.InitialBalance,
			DailyLimit:     cfg.DefaultDailyLimit,
			MonthlyLimit:   cfg.DefaultMonthlyLimit,
		})

	s.transfers = transfer.NewService(transferStore, accountStore, s.devices, s.assessor, s.logger).
		WithThreshold(cfg.HighRiskThreshold).
		WithEvents(s.hub)
	s.assessor.WithHistory(s.transfers)

	s.reaper = transfer.NewReaper(s.transfers, transferStore, cfg.PendingTransferTimeout, s.logger)

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.Headers())
	s.router.Use(security.CORS(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		Burst:             ratelimit.DefaultConfig().Burst,
		IdleTTL:           ratelimit.DefaultConfig().IdleTTL,
	})
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	public := v1.Group("")
	public.Use(s.rateLimiter.Middleware("public"))
	account.NewHandler(s.accounts).RegisterRoutes(public)

	protected := v1.Group("")
	protected.Use(auth.RequireAuth(s.tokens))
	protected.Use(s.rateLimiter.Middleware("account"))
	account.NewHandler(s.accounts).RegisterProtectedRoutes(protected)
	device.NewHandler(s.devices).RegisterProtectedRoutes(protected)
	transfer.NewHandler(s.transfers).RegisterProtectedRoutes(protected)
	risk.NewHandler(s.assessor).RegisterProtectedRoutes(protected)
	protected.GET("/ws", s.hub.Handler())
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Realtime  map[string]any  `json:"realtime"`
	Reaper    bool            `json:"reaperRunning"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ready, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case !ready:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	default:
		for _, ch := range checks {
			if !ch.Healthy {
				status = "degraded"
				break
			}
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Realtime:  s.hub.Stats(),
		Reaper:    s.reaper.Running(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if ok, checks := s.health.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves until ctx is done or the listener fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.reaper.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}
	return s.Shutdown()
}

// Shutdown drains traffic and stops background work.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to notice /health/ready
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// In-flight transfers have finished; stop the hub and reaper.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.reaper.Stop()
	s.rateLimiter.Stop()

	if err := s.stopTracing(ctx); err != nil {
		s.logger.Error("tracing shutdown error", "error", err)
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
