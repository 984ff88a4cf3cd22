package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dhruva-antino/live-drm/internal/drm"
	"github.com/dhruva-antino/live-drm/internal/pipeline"
	"github.com/dhruva-antino/live-drm/internal/process"
)

// deleteWait bounds how long DELETE waits for a stopped session to finish
// publishing.
const deleteWait = 5 * time.Second

// Handler exposes session HTTP endpoints using go-chi.
type Handler struct {
	reg *Registry
	log *slog.Logger
}

// NewHandler returns a Handler for reg.
func NewHandler(reg *Registry, log *slog.Logger) *Handler {
	return &Handler{reg: reg, log: log}
}

// Routes mounts the session endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/streams", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Get("/status", h.Status)
			r.Post("/start", h.Start)
			r.Post("/start-drm", h.StartDRM)
			r.Post("/simulate", h.Simulate)
			r.Post("/stop", h.Stop)
		})
	})
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type simulateRequest struct {
	InputPath string `json:"inputPath"`
}

// Create handles POST /streams?port=&key=&protocol=.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := IngestParams{StreamKey: q.Get("key"), Protocol: q.Get("protocol")}
	if v := q.Get("port"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, errors.Join(pipeline.ErrValidation, err))
			return
		}
		p.Port = port
	}

	conn, err := h.reg.Create(r.Context(), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

// List handles GET /streams.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reg.List())
}

// Get handles GET /streams/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reg.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Status handles GET /streams/{id}/status. Unknown ids still answer 200
// with "Stream not found".
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: h.reg.Status(chi.URLParam(r, "id"))})
}

// Start handles POST /streams/{id}/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.reg.Start)
}

// StartDRM handles POST /streams/{id}/start-drm.
func (h *Handler) StartDRM(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, h.reg.StartDRM)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, StartOptions) error) {
	id := chi.URLParam(r, "id")
	var opts StartOptions
	if err := decodeBody(r, &opts); err != nil {
		h.log.Debug("invalid start body", slog.String("stream_id", id), slog.String("error", err.Error()))
		h.writeError(w, err)
		return
	}
	if err := fn(r.Context(), id, opts); err != nil {
		h.writeError(w, err)
		return
	}
	snap, err := h.reg.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

// Simulate handles POST /streams/{id}/simulate.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body simulateRequest
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.reg.Simulate(r.Context(), id, body.InputPath); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "Simulation started for " + id})
}

// Stop handles POST /streams/{id}/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	msg, err := h.reg.Stop(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// Delete handles DELETE /streams/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), deleteWait)
	defer cancel()
	if err := h.reg.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody decodes an optional JSON body into v. Malformed JSON is a
// validation error.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.Join(pipeline.ErrValidation, err)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, drm.ErrKeyExchange), errors.Is(err, drm.ErrSigning):
		return http.StatusBadGateway
	case errors.Is(err, drm.ErrConfiguration), errors.Is(err, process.ErrSpawn):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", slog.Int("status", code), slog.String("error", err.Error()))
	} else {
		h.log.Info("request rejected", slog.Int("status", code), slog.String("error", err.Error()))
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
