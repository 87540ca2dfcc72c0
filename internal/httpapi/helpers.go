package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"maestro.org/internal/access"
	"maestro.org/internal/auth"
	"maestro.org/internal/gdpr"
	"maestro.org/internal/retention"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
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

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	default:
		writeError(w, r, http.StatusInternalServerError, "identity operation failed")
	}
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	default:
		writeError(w, r, http.StatusInternalServerError, "access operation failed")
	}
}

func handleGDPRError(w http.ResponseWriter, r *http.Request, err error) {
	var rle *gdpr.RateLimitError
	switch {
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rle.RetryAfter.Seconds())+1))
		writeError(w, r, http.StatusTooManyRequests, "export rate limit exceeded")
	case errors.Is(err, gdpr.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "export rate limit exceeded")
	case errors.Is(err, gdpr.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, gdpr.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, gdpr.ErrInvalidConfirmationCode):
		writeError(w, r, http.StatusForbidden, "invalid confirmation code")
	case errors.Is(err, gdpr.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	default:
		writeError(w, r, http.StatusInternalServerError, "gdpr operation failed")
	}
}

func handleRetentionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, retention.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, retention.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	default:
		writeError(w, r, http.StatusInternalServerError, "retention operation failed")
	}
}
