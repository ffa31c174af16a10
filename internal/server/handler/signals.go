package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/sidewaysbot/internal/domain"
)

// LogHandler serves the persisted signal log and audit log.
type LogHandler struct {
	signals domain.SignalStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewLogHandler creates a LogHandler. Either store may be nil when postgres
// is disabled; the endpoint then answers 503.
func NewLogHandler(signals domain.SignalStore, audit domain.AuditStore, logger *slog.Logger) *LogHandler {
	return &LogHandler{signals: signals, audit: audit, logger: logger.With(slog.String("handler", "log"))}
}

// ListSignals returns signal records newest first.
// GET /api/signals?limit=&offset=
func (h *LogHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	if h.signals == nil {
		writeError(w, http.StatusServiceUnavailable, "signal store disabled")
		return
	}
	recs, err := h.signals.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list signals failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	if recs == nil {
		recs = []domain.SignalRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": recs})
}

// ListAudit returns audit rows newest first.
// GET /api/audit?limit=
func (h *LogHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit store disabled")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
