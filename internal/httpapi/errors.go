package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/workflow"
)

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// handleAuthError keeps the response deliberately vague. The precise reason
// is recorded as a security event server-side; callers only learn whether to
// back off.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case errors.Is(err, magiccode.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "too many attempts")
	case errors.Is(err, magiccode.ErrInvalidCode),
		errors.Is(err, magiccode.ErrExpired),
		errors.Is(err, magiccode.ErrSupplierInactive),
		errors.Is(err, magiccode.ErrNotFound):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired access code")
	default:
		return false
	}
	return true
}

func handleWorkflowError(w http.ResponseWriter, r *http.Request, err error) {
	if handleAuthError(w, r, err) {
		return
	}
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrQuotationStateConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, workflow.ErrInvalidAmount),
		errors.Is(err, workflow.ErrReasonRequired),
		errors.Is(err, workflow.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
