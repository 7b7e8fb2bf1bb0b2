package telephony

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/calls"

	twilioclient "github.com/twilio/twilio-go/client"
)

const ProviderTwilio = "twilio"

const headerTwilioSignature = "X-Twilio-Signature"

// TwilioCallForm captures the subset of voice and status-callback fields we use.
// Twilio sends application/x-www-form-urlencoded.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
type TwilioCallForm struct {
	CallSid      string
	AccountSid   string
	From         string
	To           string
	Direction    string
	CallStatus   string
	CallDuration string
	RecordingURL string
	RecordingSid string
	Timestamp    string
}

func ParseTwilioCallForm(r *http.Request) (TwilioCallForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallForm{}, err
	}
	f := TwilioCallForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   strings.TrimSpace(r.PostFormValue("AccountSid")),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		Direction:    r.PostFormValue("Direction"),
		CallStatus:   strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		CallDuration: strings.TrimSpace(r.PostFormValue("CallDuration")),
		RecordingURL: strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingSid: strings.TrimSpace(r.PostFormValue("RecordingSid")),
		Timestamp:    r.PostFormValue("Timestamp"),
	}
	if f.CallSid == "" {
		return TwilioCallForm{}, errors.New("telephony: CallSid missing")
	}
	return f, nil
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

// MapTwilioStatus maps a CallStatus to an outcome. terminal is false for
// queued, initiated, ringing and in-progress.
func MapTwilioStatus(status string) (outcome string, terminal bool) {
	switch status {
	case "completed":
		return calls.OutcomeCompleted, true
	case "busy":
		return calls.OutcomeBusy, true
	case "no-answer":
		return calls.OutcomeNoAnswer, true
	case "failed":
		return calls.OutcomeFailed, true
	case "canceled":
		return calls.OutcomeCanceled, true
	default:
		return "", false
	}
}

// ToCallEvent normalizes the form for the attempt named in the callback URL.
func (f TwilioCallForm) ToCallEvent(prospectID int64, attemptID string, now time.Time) CallEvent {
	ev := CallEvent{
		Provider:       ProviderTwilio,
		Kind:           CallEventProgress,
		ProspectID:     prospectID,
		AttemptID:      attemptID,
		ProviderCallID: f.CallSid,
		OccurredAt:     now,
	}
	if outcome, terminal := MapTwilioStatus(f.CallStatus); terminal {
		ev.Kind = CallEventEnded
		ev.Outcome = outcome
		if n, err := strconv.Atoi(f.CallDuration); err == nil && n > 0 {
			ev.DurationSeconds = n
		}
		ev.RecordingRef = f.RecordingURL
		if ev.RecordingRef == "" {
			ev.RecordingRef = f.RecordingSid
		}
	}
	return ev
}

// ValidTwilioSignature checks X-Twilio-Signature for a form POST.
//
// Twilio signs the URL it was configured with, which may or may not carry an
// explicit :443/:80; the validator accepts either form.
func ValidTwilioSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	// Twilio callbacks carry one value per key.
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	v := twilioclient.NewRequestValidator(authToken)
	return v.Validate(fullURL, params, signature)
}
