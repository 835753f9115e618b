package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	pberrors "github.com/parishbot/parishbot/internal/errors"
	"github.com/parishbot/parishbot/internal/oauth"
)

// errorBody is the uniform rejection shape. No stack traces or internal
// state ever reach a response body.
type errorBody struct {
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

// writeRateLimited responds 429 with the retry hint both as a header and in
// the body.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int64(retryAfter / time.Second)
	if retryAfter%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:      pberrors.CodeRateLimited,
		Detail:     "too many requests",
		RetryAfter: seconds,
	})
}

// writeDomainError maps a gatekeeping error to its HTTP status. Raw
// transport errors never reach here; the flow manager re-raises them under
// the closed taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	switch pberrors.CodeOf(err) {
	case pberrors.CodeInvalidRequest:
		writeError(w, http.StatusBadRequest, pberrors.CodeInvalidRequest, messageOf(err))
	case pberrors.CodeInvalidOrExpiredState:
		writeError(w, http.StatusBadRequest, pberrors.CodeInvalidOrExpiredState, messageOf(err))
	case pberrors.CodeTokenExchangeFailed:
		writeError(w, http.StatusInternalServerError, pberrors.CodeTokenExchangeFailed, "token exchange failed")
	case pberrors.CodeRefreshFailed:
		if errors.Is(err, oauth.ErrInvalidGrant) {
			writeError(w, http.StatusUnauthorized, pberrors.CodeRefreshFailed, "refresh token rejected")
			return
		}
		writeError(w, http.StatusInternalServerError, pberrors.CodeRefreshFailed, "refresh failed")
	case pberrors.CodeUnauthenticated:
		writeError(w, http.StatusUnauthorized, pberrors.CodeUnauthenticated, messageOf(err))
	default:
		writeError(w, http.StatusInternalServerError, pberrors.CodeInternal, "internal error")
	}
}

// messageOf extracts the structured message without leaking wrapped causes.
func messageOf(err error) string {
	var e *pberrors.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}
