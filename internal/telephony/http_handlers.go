package telephony

import (
	"crypto/ed25519"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/apperr"
	"callcenter/internal/audit"
	"callcenter/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// WebhookHandler converts vendor webhooks to CallEvents and hands them to the
// lifecycle manager. No business logic here.
type WebhookHandler struct {
	Calls Lifecycle

	// Audit is optional; webhook-driven call ends are recorded best-effort.
	Audit *audit.Service

	// TwilioAuthToken enables X-Twilio-Signature checks when set.
	TwilioAuthToken string
	// TelnyxPublicKey enables ed25519 checks when set.
	TelnyxPublicKey ed25519.PublicKey

	// PublicBaseURL is the origin Twilio was configured with. It is used to
	// rebuild signed URLs behind proxies and to build status callback URLs.
	PublicBaseURL string

	// RecordCalls adds record="record-from-answer-dual" to the bridge.
	RecordCalls bool

	Now func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// HandleTwilioVoice answers the agent leg with a <Dial> to the prospect, or
// <Reject> when the attempt is no longer open.
func (h WebhookHandler) HandleTwilioVoice(c *gin.Context) {
	log := logger.FromGin(c)

	form, ok := h.twilioForm(c)
	if !ok {
		return
	}
	prospectID, attemptID, err := attemptFromQuery(c.Request.URL.Query())
	if err != nil {
		log.Warn("twilio voice webhook missing attempt", "err", err)
		h.writeTwiML(c, rejectTwiML)
		return
	}

	a, err := h.Calls.GetAttempt(c.Request.Context(), prospectID, attemptID)
	if err != nil || !a.State.IsOpen() {
		log.Info("twilio voice webhook for closed attempt", "prospect_id", prospectID, "call_attempt_id", attemptID, "err", err)
		h.writeTwiML(c, rejectTwiML)
		return
	}

	if err := h.Calls.AttachProviderCall(c.Request.Context(), prospectID, attemptID, form.CallSid); err != nil {
		log.Warn("attach provider call failed", "call_sid", form.CallSid, "err", err)
	}

	callback := h.baseURL(c) + "/webhooks/twilio/status?" + url.Values{
		"prospect_id": {strconv.FormatInt(prospectID, 10)},
		"attempt_id":  {attemptID},
	}.Encode()
	h.writeTwiML(c, func() (string, error) {
		return RenderDial(DialOptions{To: a.PhoneNumber, CallerID: a.FromNumber, Record: h.RecordCalls, StatusCallback: callback})
	})
}

// HandleTwilioStatus consumes status callbacks; terminal statuses end the attempt.
func (h WebhookHandler) HandleTwilioStatus(c *gin.Context) {
	log := logger.FromGin(c)

	form, ok := h.twilioForm(c)
	if !ok {
		return
	}
	prospectID, attemptID, err := attemptFromQuery(c.Request.URL.Query())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "prospect_id and attempt_id query parameters are required"})
		return
	}

	h.apply(c, form.ToCallEvent(prospectID, attemptID, h.now()))
	log.Debug("twilio status", "call_sid", form.CallSid, "call_status", form.CallStatus)
}

// HandleTelnyx consumes Call Control webhooks.
func (h WebhookHandler) HandleTelnyx(c *gin.Context) {
	log := logger.FromGin(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if h.TelnyxPublicKey != nil {
		err := VerifyTelnyxSignature(h.TelnyxPublicKey, c.GetHeader(headerTelnyxSignature), c.GetHeader(headerTelnyxTimestamp), body, h.now())
		if err != nil {
			log.Warn("telnyx signature rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	w, err := ParseTelnyxWebhook(body)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ev, err := w.ToCallEvent()
	if err != nil {
		log.Warn("telnyx client_state rejected", "event_type", w.Data.EventType, "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid client_state"})
		return
	}
	h.apply(c, ev)
}

func (h WebhookHandler) apply(c *gin.Context, ev CallEvent) {
	log := logger.FromGin(c)
	ctx := c.Request.Context()

	res, err := Apply(ctx, h.Calls, ev)
	if err != nil {
		log.Warn("call event rejected", "provider", ev.Provider, "prospect_id", ev.ProspectID, "call_attempt_id", ev.AttemptID, "err", err)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call attempt not found"})
		case errors.Is(err, apperr.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid call event"})
		default:
			// Non-2xx makes the vendor retry.
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		}
		return
	}

	if res == ApplyEnded && h.Audit != nil {
		actor := audit.SystemActor(c.ClientIP(), ev.Provider)
		if err := h.Audit.LogCallEnded(ctx, actor, ev.ProspectID, ev.AttemptID, ev.Outcome, ev.DurationSeconds); err != nil {
			log.Warn("audit append failed", "err", err)
		}
	}
	if res == ApplyAlreadyEnded {
		log.Info("duplicate call event", "provider", ev.Provider, "call_attempt_id", ev.AttemptID)
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

func (h WebhookHandler) twilioForm(c *gin.Context) (TwilioCallForm, bool) {
	log := logger.FromGin(c)

	form, err := ParseTwilioCallForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return TwilioCallForm{}, false
	}
	if h.TwilioAuthToken != "" {
		signedURL := h.baseURL(c) + c.Request.URL.RequestURI()
		if !ValidTwilioSignature(h.TwilioAuthToken, signedURL, c.Request.PostForm, c.GetHeader(headerTwilioSignature)) {
			log.Warn("twilio signature rejected", "url", signedURL)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return TwilioCallForm{}, false
		}
	}
	return form, true
}

func (h WebhookHandler) baseURL(c *gin.Context) string {
	if h.PublicBaseURL != "" {
		return strings.TrimRight(h.PublicBaseURL, "/")
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host
}

func rejectTwiML() (string, error) { return RenderReject("rejected") }

func (h WebhookHandler) writeTwiML(c *gin.Context, render func() (string, error)) {
	twiml, err := render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func attemptFromQuery(q url.Values) (int64, string, error) {
	pid, err := strconv.ParseInt(q.Get("prospect_id"), 10, 64)
	if err != nil || pid <= 0 {
		return 0, "", errors.New("prospect_id invalid")
	}
	aid := strings.TrimSpace(q.Get("attempt_id"))
	if aid == "" {
		return 0, "", errors.New("attempt_id missing")
	}
	return pid, aid, nil
}
