package handlers

import (
	"net/http"

	gh "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/safestrip/safestrip/internal/api"
	"github.com/safestrip/safestrip/internal/metrics"
	"github.com/safestrip/safestrip/internal/middleware"
	"github.com/safestrip/safestrip/internal/websocket"
)

// RouterOptions carries the shared pieces the router wraps around handlers.
// Metrics and Hub may be nil.
type RouterOptions struct {
	Metrics     *metrics.Metrics
	Hub         *websocket.Hub
	CORSOrigins []string
	Log         *zap.Logger
}

// NewRouter assembles all routes behind the middleware chain:
// access log, panic recovery, CORS, request ID and request-scoped logger.
func NewRouter(httpHandler *HTTPHandler, apiHandler *APIHandler, opts RouterOptions) http.Handler {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := mux.NewRouter()
	r.Use(instrument(opts.Metrics))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		api.RespondErrorWithCode(w, http.StatusNotFound, "route_not_found", "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		api.RespondErrorWithCode(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	httpHandler.SetupRoutes(r)
	apiHandler.SetupRoutes(r)
	if opts.Hub != nil {
		r.HandleFunc("/ws/alerts", opts.Hub.ServeWS).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	stdLog := zap.NewStdLog(log.Named("http"))

	var h http.Handler = r
	h = middleware.RequestLogger(log)(h)
	h = middleware.RequestIDMiddleware(h)
	h = middleware.NewCORSMiddleware(opts.CORSOrigins...).Wrap(h)
	h = gh.RecoveryHandler(gh.RecoveryLogger(stdLog), gh.PrintRecoveryStack(true))(h)
	h = gh.CombinedLoggingHandler(stdLog.Writer(), h)
	return h
}

// instrument records request metrics under the matched route template.
func instrument(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tmpl, err := cur.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			m.WrapHandler(route, next).ServeHTTP(w, r)
		})
	}
}
