package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/audit"
	"callcenter/internal/auth"
	"callcenter/internal/calls"
	"callcenter/internal/prospects"
	"callcenter/internal/rbac"
	"callcenter/internal/reporting"
	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Calls     *calls.Manager
	Prospects *prospects.Service
	Reports   *reporting.Service

	// Audit is optional and best-effort.
	Audit *audit.Service
}

type identity struct {
	UserID int64
	Role   string
}

func currentIdentity(c *gin.Context) (identity, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required", "code": "unauthenticated"})
		return identity{}, false
	}
	role, _ := auth.Role(c.Request.Context())
	return identity{UserID: uid, Role: role}, true
}

func (h Handlers) actor(c *gin.Context, id identity) audit.Actor {
	return audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

func (h Handlers) auditErr(c *gin.Context, err error) {
	if err != nil {
		logger.FromGin(c).Warn("audit append failed", "err", err)
	}
}

func prospectIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid prospect id")
		return 0, false
	}
	return id, true
}

// --- Auth ---

type devTokenRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// DevToken issues a JWT token pair without credentials. Only registered in local/dev.
func (h Handlers) DevToken(c *gin.Context) {
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.UserID <= 0 || !rbac.IsKnownRole(req.Role) {
		badRequest(c, "user_id and a known role are required")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed", "code": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
}

// --- Prospects ---

func (h Handlers) GetProspect(c *gin.Context) {
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	p, err := h.Prospects.Get(c.Request.Context(), pid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type changeStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h Handlers) ChangeStatus(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		return
	}
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}

	ev, err := h.Prospects.ChangeStatus(c.Request.Context(), prospects.ChangeStatusRequest{
		ProspectID: pid,
		NewStatus:  prospects.Status(strings.TrimSpace(req.Status)),
		ChangedBy:  id.UserID,
		Reason:     req.Reason,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Audit != nil {
		h.auditErr(c, h.Audit.LogStatusChanged(c.Request.Context(), h.actor(c, id), pid, string(ev.OldStatus), string(ev.NewStatus)))
	}
	c.JSON(http.StatusCreated, ev)
}

func (h Handlers) StatusHistory(c *gin.Context) {
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	evs, err := h.Prospects.StatusHistory(c.Request.Context(), pid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

type assignLeadRequest struct {
	AssignedTo int64     `json:"assigned_to"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AssignLead RBAC: manager or admin.
func (h Handlers) AssignLead(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		return
	}
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	var req assignLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json (expires_at must be RFC 3339)")
		return
	}

	a, err := h.Prospects.AssignLead(c.Request.Context(), prospects.AssignLeadRequest{
		ProspectID: pid,
		AssignedTo: req.AssignedTo,
		AssignedBy: id.UserID,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Audit != nil {
		h.auditErr(c, h.Audit.LogLeadAssigned(c.Request.Context(), h.actor(c, id), pid, a.AssignedTo, a.ExpiresAt))
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) GetAssignment(c *gin.Context) {
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	a, found, err := h.Prospects.Assignment(c.Request.Context(), pid)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"assignment": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": a})
}

// ProspectAudit RBAC: manager or admin.
func (h Handlers) ProspectAudit(c *gin.Context) {
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	if h.Audit == nil {
		c.JSON(http.StatusOK, gin.H{"events": []audit.Event{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	evs, err := h.Audit.ForProspect(c.Request.Context(), pid, limit)
	if err != nil {
		logger.FromGin(c).Error("audit list failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "audit unavailable", "code": "storage_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
