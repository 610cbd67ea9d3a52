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
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/staysettle/internal/auth"
	"github.com/mbd888/staysettle/internal/beckn"
	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/config"
	"github.com/mbd888/staysettle/internal/distribution"
	"github.com/mbd888/staysettle/internal/escrow"
	"github.com/mbd888/staysettle/internal/governance"
	"github.com/mbd888/staysettle/internal/health"
	"github.com/mbd888/staysettle/internal/ledger"
	"github.com/mbd888/staysettle/internal/logging"
	"github.com/mbd888/staysettle/internal/metrics"
	"github.com/mbd888/staysettle/internal/orchestrator"
	"github.com/mbd888/staysettle/internal/ratelimit"
	"github.com/mbd888/staysettle/internal/realtime"
	"github.com/mbd888/staysettle/internal/reconciliation"
	"github.com/mbd888/staysettle/internal/security"
	"github.com/mbd888/staysettle/internal/traces"
	"github.com/mbd888/staysettle/internal/validation"
	"github.com/mbd888/staysettle/migrations"
)

// Version is reported by the health endpoint and trace resource.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	db             *sql.DB // nil if using in-memory
	clock          clock.Clock
	httpClient     *http.Client
	guard          *auth.Guard
	gateway        *beckn.Client
	rules          *distribution.Ledger
	ledger         *ledger.Ledger
	escrowService  *escrow.Service
	escrowTimer    *escrow.Timer
	governance     *governance.Service
	govTimer       *governance.Timer
	orders         *orchestrator.Service
	reconciler     *reconciliation.Service
	reconcileTimer *reconciliation.Timer // nil when disabled
	realtimeHub    *realtime.Hub
	health         *health.Registry
	rateLimiter    *ratelimit.Limiter
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	stopTracing    func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClock replaces the time source of every service (for testing).
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithHTTPClient sets the client used to reach the protocol gateway.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		s.httpClient = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		clock:  clock.NewSystem(),
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	stop, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stop
	s.guard = auth.NewGuard(cfg.APIToken)

	if cfg.DatabaseURL != "" {
		if err := s.openDatabase(ctx); err != nil {
			return nil, err
		}
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.buildServices()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) openDatabase(ctx context.Context) error {
	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if s.cfg.AutoMigrate {
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		s.logger.Info("database migrations applied")
	}

	s.db = db
	s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(s.cfg.DatabaseURL))
	return nil
}

// buildServices wires the protocol client, settlement services and their
// notifiers. Postgres stores are used when a database is open.
func (s *Server) buildServices() {
	var (
		ruleStore   distribution.Store = distribution.NewMemoryStore()
		ledgerStore ledger.Store       = ledger.NewMemoryStore()
		holdStore   escrow.Store       = escrow.NewMemoryStore()
		govStore    governance.Store   = governance.NewMemoryStore()
		orderStore  orchestrator.Store = orchestrator.NewMemoryStore()
	)
	if s.db != nil {
		ruleStore = distribution.NewPostgresStore(s.db)
		ledgerStore = ledger.NewPostgresStore(s.db)
		holdStore = escrow.NewPostgresStore(s.db)
		govStore = governance.NewPostgresStore(s.db)
		orderStore = orchestrator.NewPostgresStore(s.db)
	}

	s.realtimeHub = realtime.NewHub(s.logger)

	s.rules = distribution.NewLedger(ruleStore).WithClock(s.clock)
	s.ledger = ledger.New(ledgerStore).WithClock(s.clock)

	s.escrowService = escrow.NewService(holdStore, ledger.NewEscrowAccounts(s.ledger), s.rules).
		WithPolicy(escrow.Policy{
			GracePeriod:                s.cfg.Escrow.GracePeriod,
			RefundPercentage:           s.cfg.Escrow.RefundPercentage,
			CancellationWindow:         s.cfg.Escrow.CancellationWindow,
			DisputeBlocksConfirmations: s.cfg.Escrow.DisputeBlocksConfirmations,
			Currency:                   s.cfg.Currency,
		}).
		WithNotifier(s.realtimeHub).
		WithClock(s.clock).
		WithLogger(s.logger)
	s.escrowTimer = escrow.NewTimer(s.escrowService, holdStore, s.cfg.Escrow.TimerInterval, s.logger)

	s.governance = governance.NewService(govStore, governance.StaticPower(s.cfg.Governance.EligiblePower)).
		WithConfig(governance.Config{
			VotingPeriod:     s.cfg.Governance.VotingPeriod,
			QuorumPercentage: s.cfg.Governance.QuorumPercentage,
		}).
		WithResolver(&disputeResolver{escrow: s.escrowService}).
		WithNotifier(s.realtimeHub).
		WithClock(s.clock).
		WithLogger(s.logger)
	s.govTimer = governance.NewTimer(s.governance, s.cfg.Governance.TimerInterval, s.logger)

	s.escrowService.WithArbiter(&disputeArbiter{governance: s.governance})

	s.reconciler = reconciliation.NewService(s.escrowService, s.ledger).WithClock(s.clock)
	if s.cfg.ReconcileInterval > 0 {
		s.reconcileTimer = reconciliation.NewTimer(s.reconciler, s.cfg.ReconcileInterval, s.logger)
	}

	s.gateway = beckn.NewClient(beckn.Config{
		BaseURL:     s.cfg.Gateway.URL,
		APIKey:      s.cfg.Gateway.APIKey,
		Timeout:     s.cfg.Gateway.Timeout,
		MaxAttempts: s.cfg.Gateway.MaxAttempts,
		RPS:         s.cfg.Gateway.RPS,
	}, s.logger)
	if s.httpClient != nil {
		s.gateway.WithHTTPClient(s.httpClient)
	}

	contexts := beckn.NewFactory(beckn.Network{
		Domain:      s.cfg.Network.Domain,
		Country:     s.cfg.Network.Country,
		City:        s.cfg.Network.City,
		CoreVersion: s.cfg.Network.CoreVersion,
		BAPID:       s.cfg.Network.BAPID,
		BAPURI:      s.cfg.Network.BAPURI,
	}).WithClock(s.clock)

	s.orders = orchestrator.NewService(contexts, s.gateway, s.escrowService, orderStore).
		WithNotifier(s.realtimeHub).
		WithClock(s.clock).
		WithLogger(s.logger)

	s.health = health.NewRegistry()
	if s.db != nil {
		s.health.Register("database", health.Database(s.db))
	}
	s.health.Register("gateway", health.Gateway(s.gateway.Breaker(), beckn.Actions()...))
	s.health.Register("escrow_timer", health.Timer("escrow_timer", s.escrowTimer.Running))
	s.health.Register("governance_timer", health.Timer("governance_timer", s.govTimer.Running))
	if s.reconcileTimer != nil {
		s.health.Register("reconciliation_timer", health.Timer("reconciliation_timer", s.reconcileTimer.Running))
	}
	s.health.Register("reconciliation", s.reconciliationCheck)

	s.logger.Info("services ready",
		"gateway", s.cfg.Gateway.URL,
		"bap_id", s.cfg.Network.BAPID,
		"auth", s.guard.Enabled(),
	)
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	// Token check runs before the limiter so authenticated callers get
	// their own bucket.
	s.router.Use(auth.Middleware(s.guard))

	if s.cfg.RateLimitRPM > 0 {
		rl := ratelimit.DefaultConfig()
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		if s.cfg.RateLimitBurst > 0 {
			rl.BurstSize = s.cfg.RateLimitBurst
		}
		s.rateLimiter = ratelimit.New(rl)
		s.router.Use(s.rateLimiter.Middleware())
	}
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
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
			logger.Debug("request completed",
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

	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")
	v1.GET("/info", s.infoHandler)

	protected := v1.Group("")
	protected.Use(auth.RequireAuth(s.guard))

	ordersHandler := orchestrator.NewHandler(s.orders)
	ordersHandler.RegisterRoutes(v1)
	ordersHandler.RegisterProtectedRoutes(protected)

	escrowHandler := escrow.NewHandler(s.escrowService)
	escrowHandler.RegisterRoutes(v1)
	escrowHandler.RegisterProtectedRoutes(protected)

	rulesHandler := distribution.NewHandler(s.rules)
	rulesHandler.RegisterRoutes(v1)
	rulesHandler.RegisterProtectedRoutes(protected)

	govHandler := governance.NewHandler(s.governance)
	govHandler.RegisterRoutes(v1)
	govHandler.RegisterProtectedRoutes(protected)

	ledger.NewHandler(s.ledger).RegisterRoutes(v1)

	reconHandler := reconciliation.NewHandler(s.reconciler)
	reconHandler.RegisterRoutes(v1)
	reconHandler.RegisterProtectedRoutes(protected)
}

// reconciliationCheck is unhealthy while the last run found holds that
// disagree with the ledger.
func (s *Server) reconciliationCheck(context.Context) health.Status {
	report := s.reconciler.Last()
	switch {
	case report == nil:
		return health.Status{Name: "reconciliation", Healthy: true, Detail: "no run yet"}
	case !report.Clean():
		return health.Status{Name: "reconciliation", Healthy: false,
			Detail: fmt.Sprintf("%d hold(s) disagree with the ledger", len(report.Mismatches))}
	default:
		return health.Status{Name: "reconciliation", Healthy: true}
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status, httpStatus := "healthy", http.StatusOK
	if !ok {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	policy := s.escrowService.Policy()
	c.JSON(http.StatusOK, gin.H{
		"version": Version,
		"network": gin.H{
			"domain":      s.cfg.Network.Domain,
			"country":     s.cfg.Network.Country,
			"city":        s.cfg.Network.City,
			"coreVersion": s.cfg.Network.CoreVersion,
			"bapId":       s.cfg.Network.BAPID,
			"bapUri":      s.cfg.Network.BAPURI,
		},
		"escrow": gin.H{
			"currency":                   policy.Currency,
			"gracePeriod":                policy.GracePeriod.String(),
			"refundPercentage":           policy.RefundPercentage,
			"cancellationWindow":         policy.CancellationWindow.String(),
			"disputeBlocksConfirmations": policy.DisputeBlocksConfirmations,
		},
		"governance": gin.H{
			"votingPeriod":     s.cfg.Governance.VotingPeriod.String(),
			"quorumPercentage": s.cfg.Governance.QuorumPercentage,
			"eligiblePower":    s.cfg.Governance.EligiblePower,
		},
		"authRequired": s.guard.Enabled(),
		"realtime":     s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches background work without serving HTTP.
func (s *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.realtimeHub.Run(runCtx)
	go s.escrowTimer.Start(runCtx)
	go s.govTimer.Start(runCtx)
	if s.reconcileTimer != nil {
		go s.reconcileTimer.Start(runCtx)
	}
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.escrowTimer.Stop()
	s.govTimer.Stop()
	if s.reconcileTimer != nil {
		s.reconcileTimer.Stop()
	}
	s.logger.Info("timers stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
