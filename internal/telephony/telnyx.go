package telephony

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"callcenter/internal/calls"
)

const ProviderTelnyx = "telnyx"

const (
	headerTelnyxSignature = "telnyx-signature-ed25519"
	headerTelnyxTimestamp = "telnyx-timestamp"
)

// TelnyxSignatureTolerance bounds how old a signed webhook may be.
const TelnyxSignatureTolerance = 5 * time.Minute

var (
	ErrTelnyxSignature = errors.New("telephony: invalid telnyx signature")
	ErrTelnyxStale     = errors.New("telephony: stale telnyx webhook")
)

// TelnyxWebhook is the Call Control webhook envelope.
// Ref: https://developers.telnyx.com/docs/voice/programmable-voice/receiving-webhooks
type TelnyxWebhook struct {
	Data struct {
		ID         string        `json:"id"`
		EventType  string        `json:"event_type"`
		OccurredAt time.Time     `json:"occurred_at"`
		Payload    TelnyxPayload `json:"payload"`
	} `json:"data"`
}

type TelnyxPayload struct {
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id"`
	CallSessionID string `json:"call_session_id"`
	ClientState   string `json:"client_state"`
	From          string `json:"from"`
	To            string `json:"to"`
	State         string `json:"state"`
	HangupCause   string `json:"hangup_cause"`
	HangupSource  string `json:"hangup_source"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	RecordingURLs struct {
		MP3 string `json:"mp3"`
		WAV string `json:"wav"`
	} `json:"recording_urls"`
}

func ParseTelnyxWebhook(body []byte) (TelnyxWebhook, error) {
	var w TelnyxWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return TelnyxWebhook{}, err
	}
	if w.Data.EventType == "" {
		return TelnyxWebhook{}, errors.New("telephony: telnyx event_type missing")
	}
	return w, nil
}

// EncodeClientState builds the client_state value passed when dialing, so
// webhooks can be tied back to an attempt.
func EncodeClientState(prospectID int64, attemptID string) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.FormatInt(prospectID, 10) + ":" + attemptID))
}

func DecodeClientState(s string) (prospectID int64, attemptID string, err error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return 0, "", fmt.Errorf("telephony: client_state: %w", err)
	}
	pid, aid, ok := strings.Cut(string(raw), ":")
	if !ok || aid == "" {
		return 0, "", errors.New("telephony: client_state must be prospect_id:attempt_id")
	}
	prospectID, err = strconv.ParseInt(pid, 10, 64)
	if err != nil || prospectID <= 0 {
		return 0, "", errors.New("telephony: client_state prospect_id invalid")
	}
	return prospectID, aid, nil
}

// MapTelnyxHangupCause maps hangup_cause to an outcome.
func MapTelnyxHangupCause(cause string) string {
	switch cause {
	case "normal_clearing":
		return calls.OutcomeCompleted
	case "user_busy":
		return calls.OutcomeBusy
	case "timeout", "no_answer":
		return calls.OutcomeNoAnswer
	case "call_rejected":
		return calls.OutcomeRejected
	case "originator_cancel":
		return calls.OutcomeCanceled
	default:
		return calls.OutcomeFailed
	}
}

// ToCallEvent normalizes the webhook. Events without client_state belong to
// calls this service did not start and are ignored.
func (w TelnyxWebhook) ToCallEvent() (CallEvent, error) {
	p := w.Data.Payload
	ev := CallEvent{
		Provider:       ProviderTelnyx,
		Kind:           CallEventIgnored,
		ProviderCallID: p.CallControlID,
		OccurredAt:     w.Data.OccurredAt,
	}
	if p.ClientState == "" {
		return ev, nil
	}
	pid, aid, err := DecodeClientState(p.ClientState)
	if err != nil {
		return CallEvent{}, err
	}
	ev.ProspectID = pid
	ev.AttemptID = aid

	switch w.Data.EventType {
	case "call.initiated", "call.answered", "call.bridged":
		ev.Kind = CallEventProgress
	case "call.hangup":
		ev.Kind = CallEventEnded
		ev.Outcome = MapTelnyxHangupCause(p.HangupCause)
		if p.StartTime != nil && p.EndTime != nil && p.EndTime.After(*p.StartTime) {
			ev.DurationSeconds = int(p.EndTime.Sub(*p.StartTime) / time.Second)
		}
		ev.RecordingRef = p.RecordingURLs.MP3
		if ev.RecordingRef == "" {
			ev.RecordingRef = p.RecordingURLs.WAV
		}
	}
	return ev, nil
}

// ParseTelnyxPublicKey decodes the base64 ed25519 key shown in the Telnyx portal.
func ParseTelnyxPublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("telephony: telnyx public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("telephony: telnyx public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// VerifyTelnyxSignature checks the ed25519 signature over "timestamp|body"
// and rejects timestamps outside TelnyxSignatureTolerance of now.
func VerifyTelnyxSignature(key ed25519.PublicKey, signatureB64, timestamp string, body []byte, now time.Time) error {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureB64))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrTelnyxSignature
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return ErrTelnyxSignature
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > TelnyxSignatureTolerance || age < -TelnyxSignatureTolerance {
		return ErrTelnyxStale
	}

	msg := make([]byte, 0, len(timestamp)+1+len(body))
	msg = append(msg, strings.TrimSpace(timestamp)...)
	msg = append(msg, '|')
	msg = append(msg, body...)
	if !ed25519.Verify(key, msg, sig) {
		return ErrTelnyxSignature
	}
	return nil
}
