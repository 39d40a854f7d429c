package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/frkb/fingerprint-sync/internal/apierror"
	"github.com/frkb/fingerprint-sync/internal/model"
)

// errorBody is the wire shape every failed request gets, per §7.
type errorBody struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a core error to its wire status and body. Unrecognized
// errors (storage unreachable, anything unexpected) surface as
// INTERNAL_ERROR per the propagation policy in §7.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, model.ErrNotFound) {
			apiErr = apierror.NewUserKeyNotFound("")
		} else {
			apiErr = apierror.NewInternalError(err)
		}
	}

	writeJSON(w, apiErr.HTTPStatus, errorBody{
		Error:     string(apiErr.Kind),
		Message:   apiErr.Message,
		Details:   apiErr.Details,
		Timestamp: time.Now(),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// malformedBody wraps a JSON decode failure as the same VALIDATION_ERROR
// kind the rest of the request-shape checks use.
func malformedBody(err error) error {
	return apierror.NewValidationError("malformed request body", map[string]string{"error": err.Error()})
}

func unauthorized(msg string) error {
	return apierror.NewUnauthorized(msg)
}
