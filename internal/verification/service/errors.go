package service

import (
	"errors"

	dErrors "guildgate/pkg/domain-errors"
)

// Reason is the machine-readable cause of a failed verification attempt.
type Reason string

const (
	ReasonInvalidToken     Reason = "invalid_token"
	ReasonMissingCode      Reason = "missing_code"
	ReasonOAuthExchange    Reason = "oauth_error"
	ReasonIdentityFetch    Reason = "oauth_user_error"
	ReasonRiskUnavailable  Reason = "risk_unavailable"
	ReasonStoreUnavailable Reason = "store_unavailable"
	ReasonTimeout          Reason = "timeout"
	ReasonInternal         Reason = "internal"
)

// User-facing texts. They never carry upstream detail.
const (
	MessageInvalidToken   = "invalid or expired token"
	MessageMissingCode    = "missing code"
	MessageOAuthExchange  = "oauth error"
	MessageIdentityFetch  = "oauth user error"
	MessageUnavailable    = "verification is temporarily unavailable, please try again"
	MessageTimeout        = "verification timed out, please open your invite link again"
	MessageInternal       = "internal error"
	MessageGranted        = "verified ✨ you can close this tab."
	MessageDeniedReuse    = "denied: network already used by another account"
	MessageDeniedHighRisk = "denied: vpn/proxy risk too high"
)

// Error is a verification failure. It wraps a coded domain error so transport
// can map it to a status, and keeps the reason for logs and metrics.
type Error struct {
	Reason Reason
	Err    *dErrors.Error
}

func (e *Error) Error() string {
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(reason Reason, cause error) *Error {
	var code dErrors.Code
	var msg string
	switch reason {
	case ReasonInvalidToken:
		code, msg = dErrors.CodeBadRequest, MessageInvalidToken
	case ReasonMissingCode:
		code, msg = dErrors.CodeBadRequest, MessageMissingCode
	case ReasonOAuthExchange:
		code, msg = dErrors.CodeBadRequest, MessageOAuthExchange
	case ReasonIdentityFetch:
		code, msg = dErrors.CodeBadRequest, MessageIdentityFetch
	case ReasonRiskUnavailable, ReasonStoreUnavailable:
		code, msg = dErrors.CodeUnavailable, MessageUnavailable
	case ReasonTimeout:
		code, msg = dErrors.CodeTimeout, MessageTimeout
	default:
		code, msg = dErrors.CodeInternal, MessageInternal
	}
	if cause == nil {
		return &Error{Reason: reason, Err: dErrors.New(code, msg)}
	}
	return &Error{Reason: reason, Err: dErrors.Wrap(cause, code, msg)}
}

// ReasonOf returns the failure reason carried by err, or ReasonInternal.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonInternal
}

// IsRetryable reports whether re-opening the invite link may succeed.
func IsRetryable(err error) bool {
	switch ReasonOf(err) {
	case ReasonInvalidToken, ReasonInternal:
		return false
	default:
		return true
	}
}
