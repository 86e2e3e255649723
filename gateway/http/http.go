// Package http serves an app over HTTP with a chi router.
package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/sandutsar/gradio/app"
	"github.com/sandutsar/gradio/errors"
	"github.com/sandutsar/gradio/gateway"
	"github.com/sandutsar/gradio/metric"
	"github.com/sandutsar/gradio/queue"
)

// Queue actions.
const (
	ActionPredict   = "predict"
	ActionInterpret = "interpret"
)

// getOrGenerateRequestID extracts the request ID from headers or generates
// a new one.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// Gateway serves one app.
type Gateway struct {
	app     *app.App
	queue   *queue.Queue
	config  gateway.Config
	logger  *slog.Logger
	metrics *metric.Metrics

	upgrader websocket.Upgrader
	limiter  *rate.Limiter

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithQueue enables the queue routes.
func WithQueue(q *queue.Queue) Option {
	return func(g *Gateway) { g.queue = q }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics counts requests by route and status.
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway creates a gateway for a.
func NewGateway(a *app.App, config gateway.Config, opts ...Option) (*Gateway, error) {
	if a == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway", "app is required")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}

	g := &Gateway{
		app:    a,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gateway", "interface", a.Name())
	if config.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g, nil
}

// Handler returns the router.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(g.requestID)
	r.Use(middleware.RealIP)
	r.Use(g.logRequests)
	r.Use(middleware.Recoverer)
	if g.config.EnableCORS {
		r.Use(g.cors)
	}

	r.Get("/health", g.handleHealth)

	r.Group(func(r chi.Router) {
		if len(g.config.Auth) > 0 {
			r.Use(middleware.BasicAuth("gradio", g.config.Auth))
		}
		r.Get("/config", g.handleConfig)
		r.Route("/api", func(r chi.Router) {
			r.With(g.throttle).Post("/predict/", g.handlePredict)
			r.With(g.throttle).Post("/interpret/", g.handleInterpret)
			r.Post("/flag/", g.handleFlag)
			if g.queue != nil {
				r.With(g.throttle).Post("/queue/push/", g.handleQueuePush)
				r.Post("/queue/status/", g.handleQueueStatus)
				r.Get("/queue/ws", g.handleQueueWS)
			}
		})
	})
	return r
}

// queuedJob is the payload stored with a queued job. Requester carries
// the basic-auth user of the push so auto flags keep it.
type queuedJob struct {
	Requester string          `json:"requester,omitempty"`
	Request   json.RawMessage `json:"request"`
}

// QueueHandler runs queued prediction and interpretation jobs against a.
func QueueHandler(a *app.App) queue.Handler {
	return func(ctx context.Context, action string, data json.RawMessage) (any, error) {
		var job queuedJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, errors.WrapInvalid(err, "Gateway", "QueueHandler", "decode job")
		}
		switch action {
		case ActionPredict:
			var req app.PredictRequest
			if err := json.Unmarshal(job.Request, &req); err != nil {
				return nil, errors.WrapInvalid(err, "Gateway", "QueueHandler", "decode predict job")
			}
			return a.ProcessAPI(ctx, req, job.Requester)
		case ActionInterpret:
			var req app.InterpretRequest
			if err := json.Unmarshal(job.Request, &req); err != nil {
				return nil, errors.WrapInvalid(err, "Gateway", "QueueHandler", "decode interpret job")
			}
			return a.Interpret(ctx, req)
		default:
			return nil, errors.WrapInvalid(fmt.Errorf("unknown action %q", action), "Gateway", "QueueHandler", "dispatch job")
		}
	}
}

// throttle rejects requests above the configured rate with 429.
func (g *Gateway) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.limiter != nil && !g.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			g.writeFailure(w, r, errors.WrapTransient(errors.ErrRateLimited, "Gateway", "throttle", "admit request"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		g.requestsTotal.Add(1)
		if status >= 400 {
			g.requestsFailed.Add(1)
		}

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if g.metrics != nil {
			g.metrics.RecordHTTPRequest(route, strconv.Itoa(status))
		}
		g.logger.Debug("HTTP request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (g *Gateway) originAllowed(origin string) bool {
	for _, allowed := range g.config.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || !g.config.EnableCORS {
		return true
	}
	return g.originAllowed(origin)
}

// cors applies CORS headers to allowed origins.
func (g *Gateway) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if g.originAllowed(origin) {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"requests_total":  g.requestsTotal.Load(),
		"requests_failed": g.requestsFailed.Load(),
	})
}

func (g *Gateway) handleConfig(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.app.Config())
}

func (g *Gateway) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req app.PredictRequest
	if !g.decode(w, r, predictSchema, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.RequestTimeout)
	defer cancel()

	resp, err := g.app.ProcessAPI(ctx, req, requester(r))
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleInterpret(w http.ResponseWriter, r *http.Request) {
	var req app.InterpretRequest
	if !g.decode(w, r, interpretSchema, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.RequestTimeout)
	defer cancel()

	resp, err := g.app.Interpret(ctx, req)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleFlag(w http.ResponseWriter, r *http.Request) {
	var req app.FlagRequest
	if !g.decode(w, r, flagSchema, &req) {
		return
	}
	resp, err := g.app.Flag(r.Context(), req, requester(r))
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, resp)
}

type queuePushBody struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type queueStatusBody struct {
	Hash string `json:"hash"`
}

func (g *Gateway) handleQueuePush(w http.ResponseWriter, r *http.Request) {
	var body queuePushBody
	if !g.decode(w, r, queuePushSchema, &body) {
		return
	}
	job, err := json.Marshal(queuedJob{Requester: requester(r), Request: body.Data})
	if err != nil {
		g.writeFailure(w, r, errors.WrapInvalid(err, "Gateway", "handleQueuePush", "encode job"))
		return
	}
	hash, position, err := g.queue.Push(body.Action, job)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"hash": hash, "queue_position": position})
}

func (g *Gateway) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	var body queueStatusBody
	if !g.decode(w, r, queueStatusSchema, &body) {
		return
	}
	s, err := g.queue.Status(body.Hash)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, g.statusBody(s))
}

// statusBody shapes a job status as {status, data}: the queue position
// while queued, the prediction once complete, and the error (subject to
// show_error) after a failure.
func (g *Gateway) statusBody(s queue.JobStatus) map[string]any {
	var data any
	switch s.Status {
	case queue.StatusQueued:
		data = s.Position
	case queue.StatusComplete:
		data = s.Data
	case queue.StatusFailed:
		if g.app.ShowError() {
			data = s.Error
		}
	}
	return map[string]any{"hash": s.Hash, "status": s.Status, "data": data}
}

// decode reads, validates and unmarshals the request body. It writes the
// error response and returns false on failure.
func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, schema *compiledSchema, v any) bool {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize))
		return false
	}
	if err := schema.validate(body); err != nil {
		g.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func requester(r *http.Request) string {
	if user, _, ok := r.BasicAuth(); ok {
		return user
	}
	return ""
}

// mapErrorToHTTPStatus maps request errors to HTTP status codes
func mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrJobUnknown):
		return http.StatusNotFound
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case stderrors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case stderrors.Is(err, errors.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs err and writes its response. Invalid requests always
// carry their message; other failures only when show_error is on.
func (g *Gateway) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	msg := http.StatusText(status)
	if status < 500 || g.app.ShowError() {
		msg = err.Error()
	}

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	g.logger.Log(r.Context(), level, "Request failed",
		"path", r.URL.Path,
		"status", status,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err)

	body := map[string]any{"error": msg, "status": status}
	var pe *errors.PredictionError
	if g.app.ShowError() && stderrors.As(err, &pe) && pe.Stack != "" {
		body["stack"] = pe.Stack
	}
	if slot, ok := errors.SlotOf(err); ok {
		body["slot"] = slot
	}
	g.writeJSON(w, status, body)
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	g.writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("Failed to encode response", "error", err)
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal server error","status":500}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// handleQueueWS streams the status of the job named by the hash query
// parameter until it finishes or the client goes away.
func (g *Gateway) handleQueueWS(w http.ResponseWriter, r *http.Request) {
	hash := strings.TrimSpace(r.URL.Query().Get("hash"))
	updates, cancel, err := g.queue.Watch(hash)
	if err != nil {
		g.writeFailure(w, r, err)
		return
	}
	defer cancel()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The read pump only notices the client closing the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var last queue.JobStatus
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				if !last.Status.Terminal() {
					if final, err := g.queue.Status(hash); err == nil && final.Status.Terminal() {
						_ = conn.WriteJSON(g.statusBody(final))
					}
				}
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			last = s
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(g.statusBody(s)); err != nil {
				g.logger.Debug("WebSocket write failed", "hash", hash, "error", err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
