package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"vigil/internal/abuse/config"
	"vigil/internal/abuse/models"
	"vigil/internal/transport/httputil"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/requesttime"
)

// Handler is the thin HTTP layer. It delegates to the engine without
// embedding policy logic so transport concerns remain isolated.
type Handler struct {
	engine Engine
	cfg    *config.Config
	logger *slog.Logger
}

func NewHandler(engine Engine, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		cfg:    cfg,
		logger: logger,
	}
}

type checkRequest struct {
	Identifier string `json:"identifier"`
	Action     string `json:"action"`
}

// handleCheck answers POST /v1/ratelimit/check. Denials are part of the
// 200 response body; the caller enforces them.
func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid JSON body"))
		return
	}
	decision, err := h.engine.CheckRateLimit(r.Context(), req.Identifier, models.Action(req.Action))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

type loginRequest struct {
	Username string `json:"username"`
	Origin   string `json:"origin"`
}

// handleLoginCheck answers POST /v1/login/check before the caller
// verifies any credentials.
func (h *Handler) handleLoginCheck(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid JSON body"))
		return
	}
	decision, err := h.engine.CheckLogin(r.Context(), req.Username, req.Origin)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// handleLoginFailure answers POST /v1/login/failure. The report is a
// fact about the past; the response only acknowledges it was recorded.
func (h *Handler) handleLoginFailure(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid JSON body"))
		return
	}
	if err := h.engine.ReportLoginFailure(r.Context(), req.Username, req.Origin); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// handleLoginSuccess answers POST /v1/login/success.
func (h *Handler) handleLoginSuccess(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid JSON body"))
		return
	}
	if err := h.engine.ReportLoginSuccess(r.Context(), req.Username, req.Origin); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventRequest struct {
	Type     string            `json:"type"`
	Subject  string            `json:"subject"`
	Severity string            `json:"severity"`
	Details  map[string]string `json:"details,omitempty"`
}

// handleEvent answers POST /v1/events, feeding out-of-band security
// events from other subsystems to the pattern detector. The event is
// stamped with the request clock; client timestamps are not trusted.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid JSON body"))
		return
	}
	severity := models.Severity(req.Severity)
	if severity == "" {
		severity = models.SeverityInfo
	}
	event, err := models.NewSecurityEvent(models.EventType(req.Type), req.Subject, severity, requesttime.Now(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	event.Details = req.Details
	h.engine.ReportEvent(r.Context(), event)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recorded", "event_id": event.ID})
}

// handleGetBlock answers GET /v1/blocks/{identifier}.
func (h *Handler) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	rec, err := h.engine.IsBlocked(r.Context(), identifier)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if rec == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no active block for identifier"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

type blockRequest struct {
	Duration string `json:"duration"`
}

// handleBlock answers POST /v1/blocks/{identifier}, placing a manual block.
func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid JSON body"))
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil || duration <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "duration must be a positive Go duration string"))
		return
	}
	rec, err := h.engine.Block(r.Context(), identifier, duration)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// handleUnblock answers DELETE /v1/blocks/{identifier}.
func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if err := h.engine.Unblock(r.Context(), identifier); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats answers GET /v1/stats/{identifier}?action=...
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	action := models.Action(r.URL.Query().Get("action"))
	if action == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "action query parameter is required"))
		return
	}
	stats, err := h.engine.GetStats(r.Context(), identifier, action)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

type policyLimit struct {
	Requests      int `json:"requests"`
	WindowSeconds int `json:"window_seconds"`
}

type policyResponse struct {
	Actions           map[string]policyLimit `json:"actions"`
	Default           policyLimit            `json:"default"`
	EscalationSeconds []int                  `json:"escalation_seconds"`
}

// handlePolicy answers GET /v1/policy with the live limit table so
// operators can confirm what overrides actually loaded.
func (h *Handler) handlePolicy(w http.ResponseWriter, _ *http.Request) {
	resp := policyResponse{
		Actions: make(map[string]policyLimit, len(h.cfg.ActionLimits)),
		Default: policyLimit{
			Requests:      h.cfg.DefaultLimit.Requests,
			WindowSeconds: int(h.cfg.DefaultLimit.Window.Seconds()),
		},
	}
	for action, l := range h.cfg.ActionLimits {
		resp.Actions[string(action)] = policyLimit{
			Requests:      l.Requests,
			WindowSeconds: int(l.Window.Seconds()),
		}
	}
	for _, d := range h.cfg.Escalation {
		resp.EscalationSeconds = append(resp.EscalationSeconds, int(d.Seconds()))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
