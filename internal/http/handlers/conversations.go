package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/voice-orchestrator/internal/agents"
	"github.com/wolfman30/voice-orchestrator/internal/analytics"
	"github.com/wolfman30/voice-orchestrator/internal/http/middleware"
	"github.com/wolfman30/voice-orchestrator/internal/orchestrator"
	"github.com/wolfman30/voice-orchestrator/internal/voice"
	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

const maxBodyBytes = 1 << 20

type requestHandler interface {
	Handle(ctx context.Context, req orchestrator.Request) (orchestrator.Response, error)
}

// ConversationHandler serves the voice conversation and reporting API.
type ConversationHandler struct {
	service requestHandler
	logger  *logging.Logger
}

// NewConversationHandler creates a ConversationHandler.
func NewConversationHandler(service requestHandler, logger *logging.Logger) *ConversationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConversationHandler{service: service, logger: logger}
}

type errorResponse struct {
	Error     string `json:"error"`
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Initialize handles POST /api/voice/conversations.
func (h *ConversationHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.InitializeConversation
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Handle(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, resp, err)
		return
	}
	status := http.StatusCreated
	if res, ok := resp.(*orchestrator.InitializeResult); ok && res.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// Update handles POST /api/voice/conversations/{sessionID}/updates.
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.UpdateConversation
	if !h.decode(w, r, &req) {
		return
	}
	req.SessionID = chi.URLParam(r, "sessionID")
	h.respond(w, r, &req)
}

// End handles POST /api/voice/conversations/{sessionID}/end. The body is optional.
func (h *ConversationHandler) End(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.EndConversation
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	req.SessionID = chi.URLParam(r, "sessionID")
	h.respond(w, r, &req)
}

// Session handles GET /api/voice/conversations/{sessionID}.
func (h *ConversationHandler) Session(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, &orchestrator.GetSession{SessionID: chi.URLParam(r, "sessionID")})
}

// Report handles GET /api/voice/reports/{period}?agentId=&bucket=.
func (h *ConversationHandler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.respond(w, r, &orchestrator.GetPerformanceReport{
		Period:  chi.URLParam(r, "period"),
		AgentID: strings.TrimSpace(q.Get("agentId")),
		Bucket:  strings.TrimSpace(q.Get("bucket")),
	})
}

func (h *ConversationHandler) respond(w http.ResponseWriter, r *http.Request, req orchestrator.Request) {
	resp, err := h.service.Handle(r.Context(), req)
	if err != nil {
		h.writeError(w, r, resp, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ConversationHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("voice api: failed to read body", "error", err, "path", r.URL.Path)
		h.writeError(w, r, nil, orchestrator.ErrInvalidRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		h.logger.Warn("voice api: invalid json", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     "invalid json body",
			RequestID: middleware.RequestID(r.Context()),
		})
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var cfgErr *agents.ConfigurationError
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest), errors.Is(err, analytics.ErrUnknownPeriod):
		return http.StatusBadRequest
	case errors.Is(err, voice.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, voice.ErrInvalidTransition), errors.Is(err, voice.ErrCallMismatch):
		return http.StatusConflict
	case errors.Is(err, voice.ErrProvisionFailed):
		return http.StatusBadGateway
	case errors.As(err, &cfgErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *ConversationHandler) writeError(w http.ResponseWriter, r *http.Request, resp orchestrator.Response, err error) {
	status := statusFor(err)
	body := errorResponse{
		Error:     err.Error(),
		RequestID: middleware.RequestID(r.Context()),
	}
	if res, ok := resp.(*orchestrator.InitializeResult); ok && res != nil {
		body.SessionID = res.SessionID
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		h.logger.Error("voice api: request failed", "error", err, "path", r.URL.Path, "request_id", body.RequestID)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
