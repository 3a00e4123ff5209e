package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"keystone/internal/config"
	"keystone/internal/domain"
	"keystone/internal/infra/auth/oidc"
	"keystone/internal/metrics"
	"keystone/internal/usecase"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerDeps carries the wired collaborators. Optional fields may be nil;
// the routes depending on them return 503.
type ServerDeps struct {
	Registry    usecase.KeyRegistry
	Verifier    *usecase.TokenVerifier
	Accounts    *usecase.AccountManager
	Rotations   *usecase.RotationController
	Compliance  *usecase.ComplianceReporter
	AuditRepo   usecase.AuditEventRepository
	Policy      usecase.PolicyEngine
	AdminAuth   *oidc.Authenticator
	RateLimiter domain.RateLimiter
	Metrics     *metrics.Metrics
	Log         *zap.Logger
	Clock       usecase.Clock
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	deps   ServerDeps

	rateLimiter       domain.RateLimiter
	rateLimitRequests int
	rateLimitWindow   time.Duration
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) (*Server, error) {
	if deps.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:            engine,
		cfg:               cfg,
		deps:              deps,
		rateLimiter:       deps.RateLimiter,
		rateLimitRequests: cfg.RateLimitPerMinute,
		rateLimitWindow:   time.Minute,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/v1")
	v1.POST("/tokens/verify", s.handleVerifyToken)

	admin := v1.Group("", s.requireAdminKey)
	admin.POST("/tokens/revoke", s.handleRevokeToken)
	admin.POST("/accounts/:id/suspend", s.handleSuspendAccount)
	admin.POST("/accounts/:id/revoke-all", s.handleRevokeAllForAccount)
	admin.GET("/accounts/:id/can-login", s.handleCanLogin)
	admin.DELETE("/accounts/:id", s.handleDeleteAccount)
	admin.POST("/rotations", s.handleStartRotation)
	admin.GET("/rotations/current", s.handleCurrentRotation)
	admin.POST("/rotations/cancel", s.handleCancelRotation)
	admin.POST("/rotations/acknowledge", s.handleAcknowledgeRotation)

	audited := admin.Group("")
	audited.GET("/audit/events", s.requirePolicy(domain.PolicyActionAuditRead), s.handleListAuditEvents)
	audited.GET("/audit/chain/verify", s.requirePolicy(domain.PolicyActionAuditRead), s.handleVerifyAuditChain)
	audited.GET("/compliance/report", s.requirePolicy(domain.PolicyActionComplianceRead), s.handleComplianceReport)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.engine,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requireAdminKey gates the management surface behind the shared admin key.
func (s *Server) requireAdminKey(c *gin.Context) {
	if bearer, ok := bearerToken(c); ok && s.deps.AdminAuth != nil {
		identity, err := s.deps.AdminAuth.Verify(c.Request.Context(), bearer)
		if err != nil {
			writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
			c.Abort()
			return
		}
		c.Set("admin_subject", identity.Subject)
		c.Next()
		return
	}
	if s.cfg.AdminAPIKey == "" {
		writeErrorCode(c, http.StatusServiceUnavailable, "ADMIN_API_DISABLED", "admin api key is not configured")
		c.Abort()
		return
	}
	if c.GetHeader("X-API-Key") != s.cfg.AdminAPIKey {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
		c.Abort()
		return
	}
	c.Next()
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}

// requirePolicy evaluates the audit access policy for the caller's declared
// role before allowing the read.
func (s *Server) requirePolicy(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Policy == nil {
			c.Next()
			return
		}
		role := c.GetHeader("X-Role")
		evaluation, err := s.deps.Policy.Evaluate(c.Request.Context(), domain.PolicyInput{
			Role:   role,
			Action: action,
		})
		if err != nil {
			writeErrorCode(c, http.StatusInternalServerError, "POLICY_ERROR", "policy evaluation failed")
			c.Abort()
			return
		}
		if !evaluation.Result.Allow {
			code := "FORBIDDEN"
			if len(evaluation.Result.Deny) > 0 {
				code = evaluation.Result.Deny[0].Code
			}
			writeErrorCode(c, http.StatusForbidden, code, "access denied by audit policy")
			c.Abort()
			return
		}
		c.Next()
	}
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func (s *Server) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock()
	}
	return time.Now().UTC()
}
