package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/parishbot/parishbot/internal/chat"
	"github.com/parishbot/parishbot/internal/churchsuite"
	pberrors "github.com/parishbot/parishbot/internal/errors"
	"github.com/parishbot/parishbot/internal/oauth"
)

// APIHandler serves the protected chatbot routes. Every request reaching it
// has already passed the gatekeeper.
type APIHandler struct {
	churchsuite churchsuite.Client
	completer   chat.Completer
	source      *oauth.TokenSource
	logger      *slog.Logger
}

// NewAPIHandler creates an APIHandler.
func NewAPIHandler(cs churchsuite.Client, completer chat.Completer, source *oauth.TokenSource, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		churchsuite: cs,
		completer:   completer,
		source:      source,
		logger:      logger,
	}
}

// providerToken resolves a usable ChurchSuite access token for the caller,
// refreshing it once if expired.
func (h *APIHandler) providerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, pberrors.CodeUnauthenticated, pberrors.ReasonMissingHeader)
		return "", false
	}

	accessToken, err := h.source.AccessToken(r.Context(), identity.Subject)
	if err != nil {
		h.logger.Warn("provider token unavailable", "subject", identity.Subject, "error", err)
		writeDomainError(w, err)
		return "", false
	}
	return accessToken, true
}

// proxy writes a ChurchSuite response through unchanged, mapping upstream
// failures to a uniform error body.
func (h *APIHandler) proxy(w http.ResponseWriter, raw json.RawMessage, err error) {
	if err != nil {
		var apiErr *churchsuite.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			writeError(w, http.StatusBadGateway, pberrors.CodeInternal, "upstream rejected credentials")
			return
		}
		h.logger.Error("churchsuite request failed", "error", err)
		writeError(w, http.StatusBadGateway, pberrors.CodeInternal, "upstream request failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// SearchPeople handles GET /people/search?q=.
func (h *APIHandler) SearchPeople(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, pberrors.CodeInvalidRequest, "q is required")
		return
	}

	accessToken, ok := h.providerToken(w, r)
	if !ok {
		return
	}

	raw, err := h.churchsuite.SearchPeople(r.Context(), accessToken, query)
	h.proxy(w, raw, err)
}

// ListGroups handles GET /groups.
func (h *APIHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := h.providerToken(w, r)
	if !ok {
		return
	}

	raw, err := h.churchsuite.ListGroups(r.Context(), accessToken)
	h.proxy(w, raw, err)
}

// ListEvents handles GET /events?start_date&end_date.
func (h *APIHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := h.providerToken(w, r)
	if !ok {
		return
	}

	raw, err := h.churchsuite.ListEvents(r.Context(), accessToken,
		r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date"))
	h.proxy(w, raw, err)
}

// MyProfile handles GET /me.
func (h *APIHandler) MyProfile(w http.ResponseWriter, r *http.Request) {
	accessToken, ok := h.providerToken(w, r)
	if !ok {
		return
	}

	raw, err := h.churchsuite.MyProfile(r.Context(), accessToken)
	h.proxy(w, raw, err)
}

// chatRequest is the body of POST /chat.
type chatRequest struct {
	Messages []chat.Message `json:"messages"`
}

// chatResponse is the success body of POST /chat.
type chatResponse struct {
	Reply string `json:"reply"`
}

// Chat handles POST /chat.
func (h *APIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, pberrors.CodeInvalidRequest, "unreadable request body")
		return
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, pberrors.CodeInvalidRequest, "invalid JSON body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, pberrors.CodeInvalidRequest, "messages are required")
		return
	}

	reply, err := h.completer.Complete(r.Context(), req.Messages)
	if err != nil {
		h.logger.Error("chat completion failed", "error", err)
		writeError(w, http.StatusBadGateway, pberrors.CodeInternal, "completion failed")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}
