// Package web exposes the compilation service over HTTP and WebSocket.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
	"github.com/dontdude/codebox/internal/queue"
	"github.com/dontdude/codebox/internal/router"
)

// maxBodyBytes bounds a submission body.
const maxBodyBytes = 2 << 20

// Submitter is the queued inbound interface.
type Submitter interface {
	Enqueue(language, code string) (string, error)
	Get(id string) (domain.CompilationRequest, error)
}

// Compiler is the synchronous inbound interface.
type Compiler interface {
	Route(ctx context.Context, language, code string) (domain.CompilationResult, error)
}

type Handler struct {
	queue    Submitter
	compiler Compiler
	log      zerolog.Logger
}

func NewHandler(q Submitter, c Compiler, logger zerolog.Logger) *Handler {
	return &Handler{
		queue:    q,
		compiler: c,
		log:      logger.With().Str("component", "http").Logger(),
	}
}

type submitRequest struct {
	Code string `json:"code"`
}

type submitResponse struct {
	ID     string        `json:"id"`
	Status domain.Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter wires every route. Submission endpoints go through limiter.
func NewRouter(h *Handler, hub *Hub, limiter *RateLimiter) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", hub.ServeWS).Methods(http.MethodGet)

	c := r.PathPrefix("/compiler").Subrouter()
	c.HandleFunc("/{language}/run", limiter.Middleware(h.Run)).Methods(http.MethodPost)
	c.HandleFunc("/{language}", limiter.Middleware(h.Submit)).Methods(http.MethodPost)
	c.HandleFunc("/{id}", h.Poll).Methods(http.MethodGet)

	return enableCORS(r)
}

// Submit queues the code and answers without waiting for it to run.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	language := mux.Vars(r)["language"]
	code, ok := h.decodeCode(w, r)
	if !ok {
		return
	}

	id, err := h.queue.Enqueue(language, code)
	if err != nil {
		if errors.Is(err, router.ErrUnsupportedLanguage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("failed to queue submission")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{ID: id, Status: domain.StatusPending})
}

// Poll returns the current snapshot of a request.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	req, err := h.queue.Get(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// Run compiles and runs the code synchronously, bypassing the queue.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	language := mux.Vars(r)["language"]
	code, ok := h.decodeCode(w, r)
	if !ok {
		return
	}

	res, err := h.compiler.Route(r.Context(), language, code)
	switch {
	case errors.Is(err, router.ErrUnsupportedLanguage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, router.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, err.Error())
	case err != nil:
		h.log.Error().Err(err).Str("language", language).Msg("direct compilation failed")
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *Handler) decodeCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return "", false
	}
	if body.Code == "" {
		writeError(w, http.StatusBadRequest, "Code is required")
		return "", false
	}
	return body.Code, true
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// enableCORS adds headers to allow requests from the frontend.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
