package httpx

import (
	"errors"
	"net/http"

	"github.com/aegisgate/aegisgate/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Auth failures collapse to 401/403 without internal detail; callers log
// the underlying cause themselves.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrUnauthenticated),
		errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	case errors.Is(err, shared.ErrUnauthorized),
		errors.Is(err, shared.ErrUpstreamUnavailable),
		errors.Is(err, shared.ErrCacheTamper):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
