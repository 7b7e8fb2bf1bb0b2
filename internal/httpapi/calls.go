package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"callcenter/internal/calls"
	"callcenter/internal/prospects"
	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CanCall checks admission for the authenticated caller.
func (h Handlers) CanCall(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		return
	}
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	adm, err := h.Calls.CanCall(c.Request.Context(), pid, id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, adm)
}

type startCallRequest struct {
	PhoneNumber string `json:"phone_number"`
	FromNumber  string `json:"from_number"`
}

func (h Handlers) StartCall(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		return
	}
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	var req startCallRequest
	// Empty body is allowed; the prospect's phone number is used.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "invalid json")
			return
		}
	}

	a, err := h.Calls.StartCall(c.Request.Context(), calls.StartCallRequest{
		ProspectID:  pid,
		CallerID:    id.UserID,
		PhoneNumber: req.PhoneNumber,
		FromNumber:  req.FromNumber,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Audit != nil {
		h.auditErr(c, h.Audit.LogCallStarted(c.Request.Context(), h.actor(c, id), a.ProspectID, a.ID, a.PhoneNumber))
	}
	c.JSON(http.StatusCreated, a)
}

type endCallRequest struct {
	AttemptID       string `json:"attempt_id"`
	Outcome         string `json:"outcome"`
	DurationSeconds int    `json:"duration_seconds"`
	Notes           string `json:"notes"`
	RecordingRef    string `json:"recording_ref"`

	// Optional status change applied after the call ends.
	ProspectStatus string `json:"prospect_status"`
	StatusReason   string `json:"status_reason"`
}

type endCallResponse struct {
	CallAttempt calls.CallAttempt            `json:"call_attempt"`
	StatusEvent *prospects.StatusChangeEvent `json:"status_event,omitempty"`

	// StatusError is set when the call ended but the status change failed.
	StatusError string `json:"status_error,omitempty"`
}

func (h Handlers) EndCall(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		return
	}
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	var req endCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	status := prospects.Status(strings.TrimSpace(req.ProspectStatus))
	if status != "" && !status.Valid() {
		badRequest(c, "unknown prospect_status")
		return
	}

	ctx := c.Request.Context()
	a, err := h.Calls.EndCall(ctx, calls.EndCallRequest{
		ProspectID:      pid,
		AttemptID:       strings.TrimSpace(req.AttemptID),
		Outcome:         req.Outcome,
		DurationSeconds: req.DurationSeconds,
		Notes:           req.Notes,
		RecordingRef:    req.RecordingRef,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Audit != nil {
		h.auditErr(c, h.Audit.LogCallEnded(ctx, h.actor(c, id), a.ProspectID, a.ID, a.Outcome, a.DurationSeconds))
	}

	resp := endCallResponse{CallAttempt: a}
	if status != "" {
		ev, err := h.Prospects.ChangeStatus(ctx, prospects.ChangeStatusRequest{
			ProspectID: pid,
			NewStatus:  status,
			ChangedBy:  id.UserID,
			Reason:     req.StatusReason,
		})
		if err != nil {
			// The call has ended either way; report the status failure alongside it.
			logger.FromGin(c).Warn("status change after end-call failed", "prospect_id", pid, "err", err)
			resp.StatusError = "status change failed"
		} else {
			resp.StatusEvent = &ev
			if h.Audit != nil {
				h.auditErr(c, h.Audit.LogStatusChanged(ctx, h.actor(c, id), pid, string(ev.OldStatus), string(ev.NewStatus)))
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h Handlers) CallHistory(c *gin.Context) {
	pid, ok := prospectIDParam(c)
	if !ok {
		return
	}
	out, err := h.Calls.History(c.Request.Context(), pid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// ActiveCalls RBAC: manager or admin.
func (h Handlers) ActiveCalls(c *gin.Context) {
	out, err := h.Calls.ActiveCalls(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_calls": out})
}
