package server

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/config"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/gateway"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/registry"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/storage"
)

type contextKey string

const (
	contextKeyCorrelationID contextKey = "correlationId"
	contextKeyDID           contextKey = "did"

	headerContentType    = "Content-Type"
	headerCorrelationID  = "X-Correlation-Id"
	headerIdempotencyKey = "Idempotency-Key"
	headerChallenge      = "X-Challenge"
	headerCacheControl   = "Cache-Control"
	headerETag           = "ETag"

	contentTypeJSON     = "application/json"
	cacheControlResolve = "public, max-age=60"

	maxBodyBytes   = 1 << 20
	idempotencyTTL = 24 * time.Hour
)

// Handler wires HTTP endpoints onto a chi router.
type Handler struct {
	cfg      config.Config
	gateway  *gateway.Gateway
	registry *registry.Client
	idem     storage.IdempotencyStore
	logger   *slog.Logger
	clock    func() time.Time
	limiter  *multiLimiter
	router   chi.Router
}

// New creates a Handler using the supplied dependencies. idem may be nil,
// in which case replays are cached in memory.
func New(cfg config.Config, gw *gateway.Gateway, reg *registry.Client, idem storage.IdempotencyStore, logger *slog.Logger) (*Handler, error) {
	if gw == nil {
		return nil, errors.New("server: gateway is required")
	}
	if reg == nil {
		return nil, errors.New("server: registry client is required")
	}
	if idem == nil {
		idem = storage.NewMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		cfg:      cfg,
		gateway:  gw,
		registry: reg,
		idem:     idem,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
		router:   chi.NewRouter(),
	}
	if cfg.RateLimitRPS > 0 {
		h.limiter = newMultiLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
	}
	h.registerRoutes()
	return h, nil
}

// Router returns the root handler with all routes registered.
func (h *Handler) Router() http.Handler {
	return h.router
}

func (h *Handler) registerRoutes() {
	r := h.router
	r.Use(h.accessLog, h.timeoutMiddleware, h.corsMiddleware)
	r.NotFound(h.wrap(func(w http.ResponseWriter, r *http.Request) {
		h.writeErrorWithRequest(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	}).ServeHTTP)
	r.MethodNotAllowed(h.wrap(func(w http.ResponseWriter, r *http.Request) {
		h.writeErrorWithRequest(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	}).ServeHTTP)

	r.Get("/health", h.health)
	r.Get("/ready", h.readyHandler)
	r.Get("/metrics", h.metricsHandler)

	// Challenge-response handshake. Both steps are rate limited per client.
	r.Group(func(r chi.Router) {
		r.Use(h.rateLimitMiddleware)
		r.Method(http.MethodGet, "/challenge", h.wrap(h.handleChallenge))
		r.Method(http.MethodPost, "/authenticate", h.wrap(h.handleAuthenticate))
	})
	r.Method(http.MethodPost, "/token", h.wrap(h.handleToken))
	r.Method(http.MethodPost, "/register_key", h.wrap(h.handleRegisterKey))

	r.Method(http.MethodPost, "/v1/identity", h.wrap(h.handleIdentityCreate))
	r.Method(http.MethodGet, "/v1/identity/{did}", h.wrap(h.handleIdentityResolve))
}

type responseEnvelope struct {
	Data  any            `json:"data,omitempty"`
	Meta  any            `json:"meta,omitempty"`
	Error *errorEnvelope `json:"error,omitempty"`
}

type errorEnvelope struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlationId"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) wrap(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := h.ensureCorrelationID(w, r)
		ctx := context.WithValue(r.Context(), contextKeyCorrelationID, correlationID)
		r = r.WithContext(ctx)
		w.Header().Set(headerContentType, contentTypeJSON)
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if h.tryReplay(w, r) {
			return
		}

		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered", "panic", rec, "correlationId", correlationID)
				h.writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", correlationID, nil)
			}
		}()

		next(w, r)
	})
}

func (h *Handler) ensureCorrelationID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(headerCorrelationID))
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(headerCorrelationID, id)
	return id
}

// idempotencyKey scopes the client key to the route so a key reused on a
// different endpoint never replays the wrong response.
func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		return ""
	}
	return r.URL.Path + "|" + key
}

func (h *Handler) tryReplay(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return false
	}
	key := idempotencyKey(r)
	if key == "" {
		return false
	}
	cached, ok := h.idem.Recall(r.Context(), key)
	if !ok {
		return false
	}
	for k, v := range cached.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

func (h *Handler) remember(r *http.Request, w http.ResponseWriter, status int, payload []byte) {
	if r.Method == http.MethodGet {
		return
	}
	key := idempotencyKey(r)
	if key == "" {
		return
	}
	headers := make(map[string]string, len(w.Header()))
	for k := range w.Header() {
		headers[k] = w.Header().Get(k)
	}
	if err := h.idem.Remember(r.Context(), key, storage.StoredResponse{
		StatusCode: status,
		Body:       append([]byte(nil), payload...),
		Headers:    headers,
		ExpiresAt:  h.clock().Add(idempotencyTTL),
	}); err != nil {
		h.logger.Warn("remember idempotent response failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
	}
}

// decodeJSON reads a JSON body, writing a 400 on failure. Numbers decode as
// json.Number so signed payloads keep their exact digits.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body", nil)
		return false
	}
	return true
}

// writeJSON writes a bare JSON object. The handshake endpoints answer this
// way; everything else uses the envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) []byte {
	payload := mustJSON(v)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write response failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
	}
	return payload
}

func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data any, meta any, r *http.Request) []byte {
	return h.writeJSON(w, r, status, responseEnvelope{Data: data, Meta: meta})
}

func (h *Handler) writeErrorWithRequest(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	h.writeError(w, status, code, message, correlationIDFrom(r.Context()), details)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, correlationID string, details any) {
	env := responseEnvelope{Error: &errorEnvelope{Code: code, Message: message, Details: details, CorrelationID: correlationID}}
	payload := mustJSON(env)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write error failed", "error", err, "correlationId", correlationID)
	}
}

// writeDomainError maps a typed error to its status and stable code.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) string {
	status, code, message := classify(err)
	var details any
	var fe *gateway.FieldError
	if errors.As(err, &fe) {
		details = map[string]string{"field": fe.Field}
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err, "code", code, "correlationId", correlationIDFrom(r.Context()))
	}
	h.writeErrorWithRequest(w, r, status, code, message, details)
	return code
}

func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payload
}

func generateETag(body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("W/\"%x\"", sum[:8])
}

func correlationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}
