package calls

import "callcenter/internal/apperr"

// Error codes are stable and returned to API clients.
const (
	CodeProspectNotFound = "prospect_not_found"
	CodeAttemptNotFound  = "call_attempt_not_found"
	CodeActiveCall       = "active_call"
	CodeCooldown         = "cooldown"
	CodeCallerBusy       = "caller_busy"
	CodeAlreadyEnded     = "call_already_ended"
	CodeInvalidRequest   = "invalid_request"
)

func errProspectNotFound() error {
	return apperr.NotFound(CodeProspectNotFound, "Prospect not found")
}

func errAttemptNotFound() error {
	return apperr.NotFound(CodeAttemptNotFound, "Call attempt not found")
}

func errActiveCall() error {
	return apperr.Conflict(CodeActiveCall, "Prospect already has an active call")
}

func errCooldown() error {
	return apperr.Conflict(CodeCooldown, "Prospect was called too recently")
}

func errCallerBusy() error {
	return apperr.Conflict(CodeCallerBusy, "Caller already has an active call")
}

func errAlreadyEnded() error {
	return apperr.InvalidState(CodeAlreadyEnded, "Call attempt has already ended")
}

func errInvalid(msg string) error {
	return apperr.InvalidArgument(CodeInvalidRequest, msg)
}

func admissionError(reason string) error {
	switch reason {
	case ReasonCooldown:
		return errCooldown()
	case ReasonCallerBusy:
		return errCallerBusy()
	default:
		return errActiveCall()
	}
}
