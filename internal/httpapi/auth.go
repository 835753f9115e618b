package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/parishbot/parishbot/internal/churchsuite"
	pberrors "github.com/parishbot/parishbot/internal/errors"
	"github.com/parishbot/parishbot/internal/metrics"
	"github.com/parishbot/parishbot/internal/oauth"
	"github.com/parishbot/parishbot/internal/store"
	"github.com/parishbot/parishbot/internal/token"
)

// stateCookieName is the CSRF cookie set alongside the state parameter at
// /auth/start. Browser clients round-trip it; bare API clients may omit it.
const stateCookieName = "pb_auth_state"

// AuthHandler handles the OAuth endpoints.
type AuthHandler struct {
	flow    *oauth.Manager
	tokens  *token.Service
	creds   *oauth.CredentialStore
	profile churchsuite.Client
	logger  *slog.Logger
}

// NewAuthHandler creates an AuthHandler. profile may be nil when no
// ChurchSuite API is configured; subjects then fall back to an opaque hash.
func NewAuthHandler(flow *oauth.Manager, tokens *token.Service, creds *oauth.CredentialStore, profile churchsuite.Client, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		flow:    flow,
		tokens:  tokens,
		creds:   creds,
		profile: profile,
		logger:  logger,
	}
}

// tokenPayload is the success body for /auth/callback and /auth/refresh.
type tokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
}

// Start handles GET /auth/start.
func (h *AuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	result, err := h.flow.Start(r.Context())
	if err != nil {
		h.logger.Error("failed to start authorization", "error", err)
		writeDomainError(w, err)
		return
	}
	metrics.RecordAuthStateIssued()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    result.State,
		Path:     "/auth",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, result.RedirectURL, http.StatusTemporaryRedirect)
}

// Callback handles GET /auth/callback.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, pberrors.CodeInvalidRequest, "code and state are required")
		return
	}

	// Double-submit check for browser clients. The store lookup below is
	// the authoritative one.
	if cookie, err := r.Cookie(stateCookieName); err == nil && cookie.Value != state {
		metrics.RecordAuthExchange("invalid_state")
		writeDomainError(w, pberrors.InvalidOrExpiredState())
		return
	}

	pair, err := h.flow.Complete(r.Context(), code, state)
	if err != nil {
		if pberrors.IsCode(err, pberrors.CodeInvalidOrExpiredState) {
			metrics.RecordAuthExchange("invalid_state")
		} else {
			metrics.RecordAuthExchange("exchange_failed")
		}
		writeDomainError(w, err)
		return
	}
	metrics.RecordAuthExchange("success")

	subject := h.resolveSubject(r.Context(), pair)

	if err := h.creds.Save(r.Context(), subject, pair); err != nil {
		h.logger.Error("failed to persist provider credentials", "subject", subject, "error", err)
		writeError(w, http.StatusInternalServerError, pberrors.CodeInternal, "failed to persist credentials")
		return
	}

	session, _, err := h.tokens.Issue(subject)
	if err != nil {
		h.logger.Error("failed to issue session token", "subject", subject, "error", err)
		writeError(w, http.StatusInternalServerError, pberrors.CodeInternal, "failed to issue session token")
		return
	}
	metrics.RecordSessionTokenIssued()

	writeJSON(w, http.StatusOK, tokenPayload{
		AccessToken:  session,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(h.tokens.Lifetime().Seconds()),
		TokenType:    "Bearer",
	})
}

// refreshRequest is the body of POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, pberrors.CodeInvalidRequest, "unreadable request body")
		return
	}

	var req refreshRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, pberrors.CodeInvalidRequest, "invalid JSON body")
			return
		}
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, pberrors.CodeInvalidRequest, "refresh_token is required")
		return
	}

	subject, err := h.creds.SubjectForRefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.RecordTokenRefresh("failure")
			writeError(w, http.StatusUnauthorized, pberrors.CodeRefreshFailed, "unknown refresh token")
			return
		}
		h.logger.Error("failed to resolve refresh token", "error", err)
		writeError(w, http.StatusInternalServerError, pberrors.CodeInternal, "internal error")
		return
	}

	pair, err := h.flow.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		metrics.RecordTokenRefresh("failure")
		writeDomainError(w, err)
		return
	}
	metrics.RecordTokenRefresh("success")

	if err := h.creds.Rotate(r.Context(), subject, req.RefreshToken, pair); err != nil {
		h.logger.Error("failed to rotate provider credentials", "subject", subject, "error", err)
		writeError(w, http.StatusInternalServerError, pberrors.CodeInternal, "failed to persist credentials")
		return
	}

	session, _, err := h.tokens.Issue(subject)
	if err != nil {
		h.logger.Error("failed to issue session token", "subject", subject, "error", err)
		writeError(w, http.StatusInternalServerError, pberrors.CodeInternal, "failed to issue session token")
		return
	}
	metrics.RecordSessionTokenIssued()

	writeJSON(w, http.StatusOK, tokenPayload{
		AccessToken: session,
		ExpiresIn:   int64(h.tokens.Lifetime().Seconds()),
	})
}

// resolveSubject determines the stable identity behind a fresh token pair.
// The ChurchSuite profile is authoritative; without it the subject degrades
// to an opaque hash of the credential so the rest of the pipeline still has
// a stable key.
func (h *AuthHandler) resolveSubject(ctx context.Context, pair *oauth.TokenPair) string {
	if h.profile != nil {
		raw, err := h.profile.MyProfile(ctx, pair.AccessToken)
		if err != nil {
			h.logger.Warn("profile lookup failed, falling back to opaque subject", "error", err)
		} else if subject := subjectFromProfile(raw); subject != "" {
			return subject
		}
	}

	seed := pair.RefreshToken
	if seed == "" {
		seed = pair.AccessToken
	}
	sum := sha256.Sum256([]byte(seed))
	return "anon-" + hex.EncodeToString(sum[:8])
}

// subjectFromProfile pulls an identifier out of the profile response,
// accepting both flat and data-wrapped shapes.
func subjectFromProfile(raw json.RawMessage) string {
	var profile struct {
		ID    json.Number `json:"id"`
		Email string      `json:"email"`
		Data  struct {
			ID    json.Number `json:"id"`
			Email string      `json:"email"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &profile); err != nil {
		return ""
	}
	for _, candidate := range []string{profile.ID.String(), profile.Data.ID.String(), profile.Email, profile.Data.Email} {
		if candidate != "" && candidate != "0" {
			return candidate
		}
	}
	return ""
}
