package control

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/germanamz/proposer/pkg/engine"
	"github.com/germanamz/proposer/pkg/templates"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// Router returns the HTTP API:
//
//	POST /api/v1/run                      start a run (optional StartRequest body)
//	POST /api/v1/run/{stop,pause,resume}  control the active run
//	GET  /api/v1/run                      run status
//	GET  /api/v1/templates                list templates
//	POST /api/v1/templates/{id}/activate  activate a template
//	GET  /api/v1/incidents?limit=n        recent incidents
//	GET  /api/v1/events                   WebSocket progress feed
func Router(c *Controller, hub *Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "proposer")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := &handlers{c: c}
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/run", h.status)
		r.Post("/run", h.start)
		r.Post("/run/stop", h.control(c.Stop))
		r.Post("/run/pause", h.control(c.Pause))
		r.Post("/run/resume", h.control(c.Resume))

		r.Get("/templates", h.listTemplates)
		r.Post("/templates/{id}/activate", h.activateTemplate)

		r.Get("/incidents", h.incidents)

		if hub != nil {
			r.Get("/events", hub.HandleWS)
		}
	})

	return r
}

type handlers struct {
	c *Controller
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.c.Status())
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}

	st, err := h.c.Start(req)
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

func (h *handlers) control(fn func() (Status, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st, err := fn()
		if err != nil {
			writeControlError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func (h *handlers) listTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.c.Templates())
}

func (h *handlers) activateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "template id must be an integer")
		return
	}

	t, err := h.c.ActivateTemplate(id)
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handlers) incidents(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	list, err := h.c.Incidents(limit)
	if err != nil {
		writeControlError(w, err)
		return
	}
	if list == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeControlError maps engine and store errors to HTTP statuses.
func writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrInvalidConfiguration), errors.Is(err, ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrAlreadyRunning),
		errors.Is(err, engine.ErrNotRunning),
		errors.Is(err, engine.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, templates.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("control request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
