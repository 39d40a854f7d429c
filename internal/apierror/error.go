// Package apierror defines the typed error taxonomy the Sync Engine and
// its HTTP handlers speak, replacing the teacher's unfetchable
// gophkeeper-api/errors module with an in-repo equivalent.
package apierror

import (
	"fmt"
	"net/http"
)

// Kind is a wire-level error code, stable across releases.
type Kind string

const (
	KindInvalidUserKey           Kind = "INVALID_USER_KEY"
	KindUserKeyNotFound          Kind = "USER_KEY_NOT_FOUND"
	KindUserKeyInactive          Kind = "USER_KEY_INACTIVE"
	KindInvalidFingerprintFormat Kind = "INVALID_FINGERPRINT_FORMAT"
	KindValidationError          Kind = "VALIDATION_ERROR"
	KindRequestTooLarge          Kind = "REQUEST_TOO_LARGE"
	KindDiffSessionNotFound      Kind = "DIFF_SESSION_NOT_FOUND"
	KindDiffSessionUserMismatch  Kind = "DIFF_SESSION_USER_MISMATCH"
	KindSyncInProgress           Kind = "SYNC_IN_PROGRESS"
	KindFingerprintLimitExceeded Kind = "FINGERPRINT_LIMIT_EXCEEDED"
	KindInternalError            Kind = "INTERNAL_ERROR"
	KindUnauthorized             Kind = "UNAUTHORIZED"
)

// Error is the typed error every core operation and handler propagates.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	Details    any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newErr(kind Kind, status int, msg string, details any) *Error {
	return &Error{Kind: kind, HTTPStatus: status, Message: msg, Details: details}
}

func NewInvalidUserKey(userKey string) *Error {
	return newErr(KindInvalidUserKey, http.StatusBadRequest, "user key is not a valid UUID", map[string]string{"userKey": userKey})
}

func NewUserKeyNotFound(userKey string) *Error {
	return newErr(KindUserKeyNotFound, http.StatusNotFound, "user key not found", map[string]string{"userKey": userKey})
}

func NewUserKeyInactive(userKey string) *Error {
	return newErr(KindUserKeyInactive, http.StatusForbidden, "user key is inactive", map[string]string{"userKey": userKey})
}

func NewInvalidFingerprintFormat(fingerprint string) *Error {
	return newErr(KindInvalidFingerprintFormat, http.StatusBadRequest, "fingerprint must be 64 lowercase hex characters", map[string]string{"fingerprint": fingerprint})
}

func NewValidationError(msg string, details any) *Error {
	return newErr(KindValidationError, http.StatusBadRequest, msg, details)
}

func NewRequestTooLarge(msg string) *Error {
	return newErr(KindRequestTooLarge, http.StatusBadRequest, msg, nil)
}

func NewDiffSessionNotFound(sessionID string, retryAfterSeconds int) *Error {
	return newErr(KindDiffSessionNotFound, http.StatusNotFound, "diff session not found or expired", map[string]any{
		"sessionId":  sessionID,
		"retryAfter": retryAfterSeconds,
	})
}

func NewDiffSessionUserMismatch(sessionID string) *Error {
	return newErr(KindDiffSessionUserMismatch, http.StatusForbidden, "diff session does not belong to this user", map[string]string{"sessionId": sessionID})
}

func NewSyncInProgress(userKey string) *Error {
	return newErr(KindSyncInProgress, http.StatusConflict, "a write-path operation is already in progress for this user", map[string]string{"userKey": userKey})
}

func NewFingerprintLimitExceeded(userKey string, limit, total int) *Error {
	return newErr(KindFingerprintLimitExceeded, http.StatusForbidden, "fingerprint limit exceeded", map[string]any{
		"userKey": userKey,
		"limit":   limit,
		"total":   total,
	})
}

func NewInternalError(err error) *Error {
	msg := "internal server error"
	var details any
	if err != nil {
		details = err.Error()
	}
	return newErr(KindInternalError, http.StatusInternalServerError, msg, details)
}

func NewUnauthorized(msg string) *Error {
	return newErr(KindUnauthorized, http.StatusUnauthorized, msg, nil)
}
