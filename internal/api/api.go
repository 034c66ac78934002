// Package api exposes the rules engine and its administration over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/rewards-engine/internal/analytics"
	"github.com/sells-group/rewards-engine/internal/cache"
	"github.com/sells-group/rewards-engine/internal/cost"
	"github.com/sells-group/rewards-engine/internal/model"
	"github.com/sells-group/rewards-engine/internal/store"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Processor runs and simulates rules. *rules.Engine implements it.
type Processor interface {
	ProcessEvents(ctx context.Context, eventIDs []string) (model.ProcessResult, error)
	SimulateRule(ctx context.Context, id string, record map[string]any) (model.SimulationResult, error)
}

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Store     store.Store
	Processor Processor
	Recorder  analytics.Recorder
	// Cache is optional.
	Cache         *cache.Semantic
	Calculator    *cost.Calculator
	BaselineModel string
	// Metrics serves /metrics when set.
	Metrics     http.Handler
	CORSOrigins []string
	Version     string
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	health := &healthHandler{version: d.Version}
	r.Get("/health", health.get)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	rules := &rulesHandler{store: d.Store, proc: d.Processor}
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", rules.list)
		r.Post("/", rules.create)
		r.Get("/{id}", rules.get)
		r.Put("/{id}", rules.update)
		r.Patch("/{id}", rules.update)
		r.Delete("/{id}", rules.deactivate)
		r.Post("/{id}/test", rules.test)
	})

	employees := &employeesHandler{store: d.Store}
	r.Route("/employees", func(r chi.Router) {
		r.Get("/", employees.list)
		r.Get("/{id}", employees.get)
	})

	events := &eventsHandler{proc: d.Processor}
	r.Route("/events", func(r chi.Router) {
		r.Post("/process", events.process)
		r.Post("/process-all", events.processAll)
	})

	llm := &analyticsHandler{
		recorder: d.Recorder,
		cache:    d.Cache,
		calc:     d.Calculator,
		baseline: d.BaselineModel,
	}
	r.Route("/analytics/llm", func(r chi.Router) {
		r.Get("/", llm.get)
		r.Delete("/", llm.reset)
		r.Get("/summary", llm.summary)
	})

	return r
}

type healthHandler struct {
	version string
}

func (h *healthHandler) get(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

// writeError maps err to a status code by its class.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := model.ErrorCode(err)
	status := http.StatusInternalServerError
	msg := "internal error"
	switch code {
	case "VALIDATION_ERROR":
		status, msg = http.StatusBadRequest, err.Error()
	case "NOT_FOUND":
		status, msg = http.StatusNotFound, err.Error()
	case "CONFLICT":
		status, msg = http.StatusConflict, err.Error()
	default:
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

// decode reads a JSON body into v. Malformed bodies are validation errors.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Invalid("request body is required")
		}
		return model.Invalid("invalid request body: %s", err.Error())
	}
	return nil
}
