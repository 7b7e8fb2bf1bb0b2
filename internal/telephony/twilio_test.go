package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"callcenter/internal/calls"
)

func TestParseTwilioCallForm(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%2B15557654321&CallStatus=Completed&CallDuration=42&RecordingUrl=https%3A%2F%2Fapi.twilio.com%2Frec%2FRE1")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioCallForm(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}
	if form.CallStatus != "completed" {
		t.Fatalf("expected lower-cased status, got %q", form.CallStatus)
	}

	ev := form.ToCallEvent(42, "att-1", time.Unix(1700000000, 0).UTC())
	if ev.Kind != CallEventEnded || ev.Outcome != calls.OutcomeCompleted {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.DurationSeconds != 42 || ev.RecordingRef != "https://api.twilio.com/rec/RE1" {
		t.Fatalf("unexpected duration/recording: %+v", ev)
	}
	if ev.ProspectID != 42 || ev.AttemptID != "att-1" || ev.ProviderCallID != "CA123" {
		t.Fatalf("unexpected ids: %+v", ev)
	}
}

func TestParseTwilioCallForm_RequiresCallSid(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallStatus=ringing"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if _, err := ParseTwilioCallForm(r); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMapTwilioStatus(t *testing.T) {
	cases := map[string]struct {
		outcome  string
		terminal bool
	}{
		"completed":   {calls.OutcomeCompleted, true},
		"busy":        {calls.OutcomeBusy, true},
		"no-answer":   {calls.OutcomeNoAnswer, true},
		"failed":      {calls.OutcomeFailed, true},
		"canceled":    {calls.OutcomeCanceled, true},
		"queued":      {"", false},
		"ringing":     {"", false},
		"in-progress": {"", false},
	}
	for status, want := range cases {
		outcome, terminal := MapTwilioStatus(status)
		if outcome != want.outcome || terminal != want.terminal {
			t.Fatalf("%s: got (%q, %v), want (%q, %v)", status, outcome, terminal, want.outcome, want.terminal)
		}
	}
}

// signTwilio produces X-Twilio-Signature the way Twilio does:
// base64(HMAC-SHA1(token, url + sorted key/value pairs)).
func signTwilio(token, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidTwilioSignature(t *testing.T) {
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"From":    {"+14158675310"},
		"To":      {"+18005551212"},
	}
	u := "https://example.com/webhooks/twilio/status?attempt_id=a&prospect_id=1"

	sig := signTwilio("12345", u, params)
	if !ValidTwilioSignature("12345", u, params, sig) {
		t.Fatalf("expected signature to validate")
	}
	if ValidTwilioSignature("other", u, params, sig) {
		t.Fatalf("expected wrong token to fail")
	}
	if ValidTwilioSignature("12345", u+"&x=1", params, sig) {
		t.Fatalf("expected different url to fail")
	}
	tampered := url.Values{"CallSid": {"CA1234567890ABCDE"}, "From": {"+14158675310"}, "To": {"+19995551212"}}
	if ValidTwilioSignature("12345", u, tampered, sig) {
		t.Fatalf("expected tampered params to fail")
	}
	if ValidTwilioSignature("12345", u, params, "") {
		t.Fatalf("expected empty signature to fail")
	}
}

func TestValidTwilioSignature_DefaultPortVariants(t *testing.T) {
	params := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}
	const path = "/webhooks/twilio/status?attempt_id=a&prospect_id=1"

	withPort := signTwilio("tok", "https://api.example.com:443"+path, params)
	if !ValidTwilioSignature("tok", "https://api.example.com"+path, params, withPort) {
		t.Fatalf("signature over :443 should validate against the bare host")
	}
	withoutPort := signTwilio("tok", "https://api.example.com"+path, params)
	if !ValidTwilioSignature("tok", "https://api.example.com:443"+path, params, withoutPort) {
		t.Fatalf("signature over the bare host should validate against :443")
	}
}
