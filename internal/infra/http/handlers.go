package http

import (
	"errors"
	"net/http"
	"time"

	"keystone/internal/domain"
	"keystone/internal/usecase"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type verifyTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) handleVerifyToken(c *gin.Context) {
	if !s.enforceRateLimit(c, routeTokensVerify) {
		return
	}
	var req verifyTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "token is required")
		return
	}

	started := time.Now()
	result, err := s.deps.Verifier.Verify(c.Request.Context(), req.Token)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "verification unavailable")
		return
	}
	if s.deps.Metrics != nil {
		outcome := "rejected"
		if result.Valid {
			outcome = "valid"
		}
		s.deps.Metrics.VerificationsTotal.WithLabelValues(outcome, result.Reason).Inc()
		s.deps.Metrics.VerifyDuration.Observe(time.Since(started).Seconds())
	}
	c.JSON(http.StatusOK, result)
}

type revokeTokenRequest struct {
	TokenID   string    `json:"token_id"`
	TokenRef  string    `json:"token_ref"`
	ExpiresAt time.Time `json:"expires_at" binding:"required"`
	Reason    string    `json:"reason" binding:"required"`
}

func (s *Server) handleRevokeToken(c *gin.Context) {
	if s.deps.Accounts == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "account manager not configured")
		return
	}
	var req revokeTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "expires_at and reason are required")
		return
	}
	ref := req.TokenRef
	if ref == "" && req.TokenID != "" {
		ref = usecase.TokenRef(s.deps.Verifier.RefSalt, req.TokenID)
	}
	reason := domain.RevocationReason(req.Reason)

	err := s.deps.Accounts.RevokeToken(c.Request.Context(), ref, req.ExpiresAt, reason, c.GetHeader("X-API-Key"))
	if err != nil {
		writeRevocationError(c, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RevocationsTotal.WithLabelValues(req.Reason).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"revoked": true, "token_ref": ref})
}

func (s *Server) handleRevokeAllForAccount(c *gin.Context) {
	if s.deps.Accounts == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "account manager not configured")
		return
	}
	userID := c.Param("id")
	count, err := s.deps.Accounts.RevokeAllForUser(c.Request.Context(), userID, domain.RevocationReasonAdminAction)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "revocation failed")
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RevocationsTotal.WithLabelValues(string(domain.RevocationReasonAdminAction)).Add(float64(count))
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "revoked": count})
}

type suspendAccountRequest struct {
	Until  time.Time `json:"until"`
	Days   int       `json:"days"`
	Reason string    `json:"reason" binding:"required"`
}

func (s *Server) handleSuspendAccount(c *gin.Context) {
	if s.deps.Accounts == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "account manager not configured")
		return
	}
	var req suspendAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "reason is required")
		return
	}
	until := req.Until
	if until.IsZero() {
		if req.Days <= 0 {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "until or days is required")
			return
		}
		until = s.now().AddDate(0, 0, req.Days)
	}

	userID := c.Param("id")
	suspension, err := s.deps.Accounts.Suspend(c.Request.Context(), userID, until, req.Reason, c.GetHeader("X-API-Key"))
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "suspension failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":         suspension.UserID,
		"suspended_until": suspension.SuspendedUntil,
	})
}

// handleCanLogin is the re-authentication gate consumed by the external
// auth service: false while a suspension window is still open.
func (s *Server) handleCanLogin(c *gin.Context) {
	if s.deps.Accounts == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "account manager not configured")
		return
	}
	userID := c.Param("id")
	ok, err := s.deps.Accounts.CanLogin(c.Request.Context(), userID)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "suspension lookup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "can_login": ok})
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	if s.deps.Accounts == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "account manager not configured")
		return
	}
	userID := c.Param("id")
	if err := s.deps.Accounts.DeleteAccount(c.Request.Context(), userID, c.GetHeader("X-API-Key")); err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "account deletion failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "deleted": true})
}

type startRotationRequest struct {
	Mode   string `json:"mode" binding:"required"`
	KeyID  string `json:"key_id"`
	Reason string `json:"reason"`
}

func (s *Server) handleStartRotation(c *gin.Context) {
	if s.deps.Rotations == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "rotation controller not configured")
		return
	}
	var req startRotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "mode is required")
		return
	}

	var status *usecase.RotationStatus
	var err error
	switch domain.RotationMode(req.Mode) {
	case domain.RotationModeGraceful:
		status, err = s.deps.Rotations.Graceful(c.Request.Context(), req.Reason)
	case domain.RotationModeEmergency:
		if req.KeyID == "" {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "key_id is required for emergency rotation")
			return
		}
		status, err = s.deps.Rotations.Emergency(c.Request.Context(), req.KeyID, req.Reason)
	default:
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "unknown rotation mode")
		return
	}
	if err != nil {
		writeRotationError(c, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RotationsTotal.WithLabelValues(req.Mode).Inc()
	}
	c.JSON(http.StatusAccepted, status)
}

func (s *Server) handleCurrentRotation(c *gin.Context) {
	if s.deps.Rotations == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "rotation controller not configured")
		return
	}
	status := s.deps.Rotations.Current()
	if status == nil {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "no rotation on record")
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleCancelRotation(c *gin.Context) {
	if s.deps.Rotations == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "rotation controller not configured")
		return
	}
	if err := s.deps.Rotations.Cancel(c.Request.Context()); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "no rotation in flight")
			return
		}
		writeErrorCode(c, http.StatusConflict, "CONFLICT", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) handleAcknowledgeRotation(c *gin.Context) {
	if s.deps.Rotations == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "rotation controller not configured")
		return
	}
	if err := s.deps.Rotations.Acknowledge(); err != nil {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "no failed rotation to acknowledge")
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

func (s *Server) handleListAuditEvents(c *gin.Context) {
	if s.deps.AuditRepo == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "audit log not configured")
		return
	}
	filter, ok := parseAuditFilter(c)
	if !ok {
		return
	}
	events, err := s.deps.AuditRepo.List(c.Request.Context(), filter)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "audit query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": toAuditDocs(events)})
}

func (s *Server) handleVerifyAuditChain(c *gin.Context) {
	if s.deps.AuditRepo == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "audit log not configured")
		return
	}
	if err := usecase.VerifyAuditChain(c.Request.Context(), s.deps.AuditRepo); err != nil {
		s.deps.Log.Error("audit chain verification failed", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{"intact": false, "detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"intact": true})
}

func (s *Server) handleComplianceReport(c *gin.Context) {
	if s.deps.Compliance == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "UNAVAILABLE", "compliance reporter not configured")
		return
	}
	now := s.now()
	from := now.AddDate(0, -3, 0)
	to := now
	var ok bool
	if from, ok = parseTimeQuery(c, "from", from); !ok {
		return
	}
	if to, ok = parseTimeQuery(c, "to", to); !ok {
		return
	}
	report, err := s.deps.Compliance.Report(c.Request.Context(), from, to)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "report generation failed")
		return
	}
	c.JSON(http.StatusOK, report)
}

func writeRevocationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrTokenRefRequired):
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "token_id or token_ref is required")
	case errors.Is(err, domain.ErrInvalidRevocationReason):
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "unknown revocation reason")
	case errors.Is(err, domain.ErrRevocationExpiryBeforeRevocation):
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "expires_at predates revocation")
	default:
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL", "revocation failed")
	}
}

func writeRotationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrRotationInProgress):
		writeErrorCode(c, http.StatusConflict, "ROTATION_IN_PROGRESS", "a rotation is already in flight")
	case errors.Is(err, domain.ErrRotationFailedTerminal):
		writeErrorCode(c, http.StatusConflict, "ROTATION_FAILED", "a failed rotation requires acknowledgement")
	case errors.Is(err, domain.ErrKeyNotFound):
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "unknown key")
	case errors.Is(err, domain.ErrKeyArchived):
		writeErrorCode(c, http.StatusConflict, "KEY_ARCHIVED", "archived keys cannot be rotated")
	default:
		writeErrorCode(c, http.StatusInternalServerError, "ROTATION_ERROR", err.Error())
	}
}

func parseAuditFilter(c *gin.Context) (domain.AuditFilter, bool) {
	filter := domain.AuditFilter{
		EventType: domain.AuditEventType(c.Query("event_type")),
		TargetID:  c.Query("target_id"),
	}
	var ok bool
	if filter.From, ok = parseTimeQuery(c, "from", time.Time{}); !ok {
		return domain.AuditFilter{}, false
	}
	if filter.To, ok = parseTimeQuery(c, "to", time.Time{}); !ok {
		return domain.AuditFilter{}, false
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := parsePositiveInt(raw)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", "limit must be a positive integer")
			return domain.AuditFilter{}, false
		}
		filter.Limit = limit
	}
	return filter, true
}

func parseTimeQuery(c *gin.Context, name string, fallback time.Time) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "BAD_REQUEST", name+" must be RFC 3339")
		return time.Time{}, false
	}
	return parsed, true
}

type auditEventDoc struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"`
	EventType     string    `json:"event_type"`
	Payload       any       `json:"payload"`
	PayloadHash   string    `json:"payload_hash"`
	ActorType     string    `json:"actor_type"`
	ActorIDHash   string    `json:"actor_id_hash,omitempty"`
	TargetType    string    `json:"target_type"`
	TargetID      string    `json:"target_id,omitempty"`
	Result        string    `json:"result"`
	ErrorCode     string    `json:"error_code,omitempty"`
	PrevEventHash string    `json:"prev_event_hash"`
	EventHash     string    `json:"event_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

func toAuditDocs(events []domain.AuditEvent) []auditEventDoc {
	docs := make([]auditEventDoc, 0, len(events))
	for _, event := range events {
		docs = append(docs, auditEventDoc{
			ID:            event.ID,
			Seq:           event.Seq,
			EventType:     string(event.EventType),
			Payload:       event.Payload,
			PayloadHash:   event.PayloadHash,
			ActorType:     string(event.ActorType),
			ActorIDHash:   event.ActorIDHash,
			TargetType:    string(event.TargetType),
			TargetID:      event.TargetID,
			Result:        string(event.Result),
			ErrorCode:     event.ErrorCode,
			PrevEventHash: event.PrevEventHash,
			EventHash:     event.EventHash,
			CreatedAt:     event.CreatedAt,
		})
	}
	return docs
}
