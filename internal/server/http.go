package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/tools"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// HTTPServer exposes the memory service as a JSON API.
type HTTPServer struct {
	service MemoryService
	addr    string
	timeout time.Duration
	logger  *slog.Logger

	handler http.Handler
	srv     *http.Server
}

// NewHTTPServer creates an HTTPServer listening on addr. A zero timeout uses
// DefaultRequestTimeout.
func NewHTTPServer(service MemoryService, addr string, timeout time.Duration, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPServer{
		service: service,
		addr:    addr,
		timeout: timeout,
		logger:  logger,
	}
}

// Initialize builds the router.
func (h *HTTPServer) Initialize() error {
	if h.service == nil {
		return errortypes.ConfigError(ErrMissingDependencies, "server initialization failed")
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/sync", h.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/sync/sessions", h.handleSyncSessions).Methods(http.MethodPost)
	r.HandleFunc("/sync/status", h.handleSyncStatus).Methods(http.MethodGet)
	r.HandleFunc("/search", h.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/decisions/search", h.handleSearchDecisions).Methods(http.MethodGet)
	r.HandleFunc("/notes", h.handleSaveNote).Methods(http.MethodPost)
	r.HandleFunc("/memories/{id:[0-9]+}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/memories/{id:[0-9]+}/similar", h.handleSimilar).Methods(http.MethodGet)
	r.HandleFunc("/memories/{id:[0-9]+}/archive", h.handleArchive).Methods(http.MethodPost)
	r.Use(h.timeoutMiddleware)

	h.handler = otelhttp.NewHandler(r, "researchmemory.http")
	h.srv = &http.Server{
		Addr:              h.addr,
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Handler returns the instrumented router. Initialize must run first.
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// Start serves until Stop is called.
func (h *HTTPServer) Start() error {
	if h.srv == nil {
		return errortypes.ConfigError(ErrServerNotInitialized, "cannot start server")
	}

	h.logger.Info("Starting HTTP server", "addr", h.addr)
	if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errortypes.InternalError(err, "http server failed")
	}
	return nil
}

// Stop drains in-flight requests for up to five seconds.
func (h *HTTPServer) Stop() error {
	if h.srv == nil {
		return nil
	}
	h.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.srv.Shutdown(ctx)
}

func (h *HTTPServer) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errortypes.ValidationError(fmt.Errorf("invalid id %q", raw), "invalid request")
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errortypes.ValidationError(fmt.Errorf("%s must be an integer", name), "invalid request")
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, errortypes.ValidationError(fmt.Errorf("%s must be a number", name), "invalid request")
	}
	return &f, nil
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"vector_enabled": h.service.VectorEnabled(),
	})
}

func (h *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("include_sessions") == "true" {
		res, err := h.service.SyncProject(r.Context())
		if err != nil {
			HandleError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, syncResponse(res.Decisions, res.Sessions))
		return
	}

	res, err := h.service.SyncDecisions(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(res))
}

func (h *HTTPServer) handleSyncSessions(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.SyncSessions(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse(res))
}

func (h *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.service.SyncStatus(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.SyncStatusResponse{Status: tools.StatusSuccess, Sources: toSourceStatuses(statuses)})
}

func (h *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := tools.SearchMemoryRequest{
		Query:     q.Get("q"),
		Namespace: q.Get("namespace"),
		Type:      q.Get("type"),
		Intent:    q.Get("intent"),
	}

	var err error
	if req.Limit, err = queryInt(r, "limit"); err != nil {
		HandleError(w, err)
		return
	}
	if req.LexicalWeight, err = queryFloat(r, "lexical_weight"); err != nil {
		HandleError(w, err)
		return
	}
	if req.VectorWeight, err = queryFloat(r, "vector_weight"); err != nil {
		HandleError(w, err)
		return
	}

	results, err := h.service.Search(r.Context(), searchRequest(req))
	if err != nil {
		HandleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.SearchMemoryResponse{
		Status:        tools.StatusSuccess,
		Results:       toHits(results),
		VectorEnabled: h.service.VectorEnabled(),
	})
}

func (h *HTTPServer) handleSearchDecisions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		HandleError(w, err)
		return
	}

	q := r.URL.Query()
	results, err := h.service.SearchDecisions(r.Context(), q.Get("q"), q.Get("checkpoint"), tools.ClampLimit(limit))
	if err != nil {
		HandleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.SearchMemoryResponse{
		Status:        tools.StatusSuccess,
		Results:       toHits(results),
		VectorEnabled: h.service.VectorEnabled(),
	})
}

func (h *HTTPServer) handleSaveNote(w http.ResponseWriter, r *http.Request) {
	var req tools.SaveNoteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			HandleError(w, NewErrorWithStatus(err, http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, "Request body too large"))
			return
		}
		HandleBadRequest(w, "Invalid JSON body", err)
		return
	}

	id, err := h.service.SaveNote(r.Context(), noteRecord(req))
	if err != nil {
		HandleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tools.SaveNoteResponse{Status: tools.StatusSuccess, ID: id})
}

func (h *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		HandleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPServer) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		HandleError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		HandleError(w, err)
		return
	}

	results, err := h.service.FindSimilar(r.Context(), id, tools.ClampLimit(limit))
	if err != nil {
		HandleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.SearchMemoryResponse{
		Status:        tools.StatusSuccess,
		Results:       toHits(results),
		VectorEnabled: h.service.VectorEnabled(),
	})
}

func (h *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		HandleError(w, err)
		return
	}

	if err := h.service.Archive(r.Context(), id); err != nil {
		HandleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tools.ArchiveMemoryResponse{Status: tools.StatusSuccess})
}
